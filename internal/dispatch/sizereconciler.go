package dispatch

import (
	"context"
	"time"

	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/sirupsen/logrus"
)

const bytesPerGB = 1 << 30

// SizeReconciler is the periodic sweep grounded on
// SCLib_Maintenance/update_dataset_sizes.py: data_size_gb is never
// computed during upload, only recomputed here from what actually landed
// on disk under upload/{uuid} and converted/{uuid}.
type SizeReconciler struct {
	datasets repository.DatasetRepository
	layout   *storage.Layout
	pageSize int
	log      *logrus.Logger
}

func NewSizeReconciler(datasets repository.DatasetRepository, layout *storage.Layout, log *logrus.Logger) *SizeReconciler {
	return &SizeReconciler{datasets: datasets, layout: layout, pageSize: 100, log: log}
}

func (r *SizeReconciler) Sweep(ctx context.Context) (int, error) {
	updated := 0
	offset := 0
	for {
		page, err := r.datasets.ListAll(ctx, r.pageSize, offset)
		if err != nil {
			return updated, err
		}
		if len(page) == 0 {
			return updated, nil
		}

		for _, dataset := range page {
			uploadBytes, err := storage.DirSizeBytes(r.layout.UploadDir(dataset.UUID))
			if err != nil {
				r.log.WithFields(logrus.Fields{"dataset_uuid": dataset.UUID}).WithError(err).Warn("failed to size upload dir")
				continue
			}
			convertedBytes, err := storage.DirSizeBytes(r.layout.ConvertedDir(dataset.UUID))
			if err != nil {
				r.log.WithFields(logrus.Fields{"dataset_uuid": dataset.UUID}).WithError(err).Warn("failed to size converted dir")
				continue
			}

			sizeGB := float64(uploadBytes+convertedBytes) / bytesPerGB
			if sizeGB == dataset.DataSizeGB {
				continue
			}
			if err := r.datasets.UpdateDataSize(ctx, dataset.UUID, sizeGB); err != nil {
				r.log.WithFields(logrus.Fields{"dataset_uuid": dataset.UUID}).WithError(err).Error("failed to persist data size")
				continue
			}
			updated++
		}

		offset += r.pageSize
	}
}

func (r *SizeReconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.WithError(err).Error("size reconciliation sweep failed")
			}
		}
	}
}
