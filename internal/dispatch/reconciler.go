package dispatch

import (
	"context"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
)

// claimableStatuses mirrors the worker pool's active (claimed-but-not-yet-
// resolved) statuses, the only ones that can go stale.
var claimableStatuses = []domain.Status{
	domain.StatusUploading,
	domain.StatusSyncing,
	domain.StatusConverting,
}

// StaleClaimReconciler finds datasets whose worker crashed (or was killed)
// mid-stage without ever clearing ClaimedAt, and rewinds them to the
// queued status so another worker picks the work back up.
type StaleClaimReconciler struct {
	datasets  repository.DatasetRepository
	threshold time.Duration
	log       *logrus.Logger
}

func NewStaleClaimReconciler(datasets repository.DatasetRepository, threshold time.Duration, log *logrus.Logger) *StaleClaimReconciler {
	return &StaleClaimReconciler{datasets: datasets, threshold: threshold, log: log}
}

var rewindTo = map[domain.Status]domain.Status{
	domain.StatusUploading:  domain.StatusUploadQueued,
	domain.StatusSyncing:    domain.StatusSyncQueued,
	domain.StatusConverting: domain.StatusConversionQueued,
}

// Sweep runs one pass over every claimable status and returns how many
// datasets it rewound.
func (r *StaleClaimReconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.threshold)
	rewound := 0

	for _, status := range claimableStatuses {
		stale, err := r.datasets.FindStaleClaims(ctx, status, cutoff)
		if err != nil {
			return rewound, err
		}
		for _, dataset := range stale {
			target := rewindTo[status]
			err := r.datasets.CompareAndSetStatus(ctx, dataset.UUID, status, target, func(d *domain.Dataset) {
				d.ClaimedAt = nil
			})
			if err != nil {
				if err == apperr.ErrStaleState {
					continue
				}
				r.log.WithFields(logrus.Fields{"dataset_uuid": dataset.UUID}).WithError(err).Error("failed to rewind stale claim")
				continue
			}
			r.log.WithFields(logrus.Fields{"dataset_uuid": dataset.UUID, "from": status, "to": target}).Warn("rewound stale claim")
			rewound++
		}
	}
	return rewound, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *StaleClaimReconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.WithError(err).Error("stale claim sweep failed")
			}
		}
	}
}
