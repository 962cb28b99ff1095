package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/dispatch/converter"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/remote"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// stage is one claimable unit of work, identified by the status it
// claims from and the two statuses it can resolve to.
type stage struct {
	name        string
	claimFrom   domain.Status
	claimTo     domain.Status
	successTo   domain.Status
	errorTo     domain.Status
}

var stages = []stage{
	{name: "upload", claimFrom: domain.StatusUploadQueued, claimTo: domain.StatusUploading, successTo: domain.StatusConversionQueued, errorTo: domain.StatusUploadError},
	{name: "sync", claimFrom: domain.StatusSyncQueued, claimTo: domain.StatusSyncing, successTo: domain.StatusConversionQueued, errorTo: domain.StatusSyncError},
	{name: "convert", claimFrom: domain.StatusConversionQueued, claimTo: domain.StatusConverting, successTo: domain.StatusDone, errorTo: domain.StatusConversionError},
}

// ProgressNotifier is implemented by internal/websocket.Hub; kept as an
// interface here so the dispatcher never imports the transport layer.
type ProgressNotifier interface {
	NotifyStatus(datasetUUID uuid.UUID, status string, message string)
}

// Dispatcher is the Conversion Dispatcher: a fixed pool of workers, each
// running a poll-claim-process loop across every stage in declared order,
// backing off with cenkalti/backoff when nothing is claimable.
type Dispatcher struct {
	datasets repository.DatasetRepository
	registry *Registry
	fetchers *remote.Registry
	layout   *storage.Layout
	cfg      *config.Config
	log      *logrus.Logger
	notifier ProgressNotifier
}

func NewDispatcher(datasets repository.DatasetRepository, registry *Registry, fetchers *remote.Registry, layout *storage.Layout, cfg *config.Config, log *logrus.Logger, notifier ProgressNotifier) *Dispatcher {
	return &Dispatcher{datasets: datasets, registry: registry, fetchers: fetchers, layout: layout, cfg: cfg, log: log, notifier: notifier}
}

// Run starts cfg.DispatcherWorkers worker goroutines and blocks until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < d.cfg.DispatcherWorkers; i++ {
		go d.worker(ctx, i, done)
	}
	for i := 0; i < d.cfg.DispatcherWorkers; i++ {
		<-done
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int, done chan struct{}) {
	defer func() { done <- struct{}{} }()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.ClaimBackoffInitial
	bo.MaxInterval = d.cfg.ClaimBackoffMax
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := d.claimOne(ctx)
		if err != nil {
			d.log.WithFields(logrus.Fields{"worker_id": id, "error": err}).Error("claim attempt failed")
		}
		if claimed {
			bo.Reset()
			continue
		}

		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// convertClaimBatch is how many conversion-queued candidates claimOne pulls
// per poll so it has something to sort by ConverterEntry.Priority before
// attempting a claim; the other stages have no priority concept and only
// ever need one candidate.
const convertClaimBatch = 20

// claimOne tries each stage in declared order, returning true if it
// successfully claimed and processed one dataset. Within the convert stage,
// candidates are tried in descending converter priority rather than plain
// FIFO order, so a batch of drone imagery queued behind a pile of default
// conversions doesn't wait its full turn.
func (d *Dispatcher) claimOne(ctx context.Context) (bool, error) {
	for _, st := range stages {
		limit := 1
		if st.name == "convert" {
			limit = convertClaimBatch
		}
		candidates, err := d.datasets.FindByStatus(ctx, st.claimFrom, limit)
		if err != nil {
			return false, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		if len(candidates) == 0 {
			continue
		}
		if st.name == "convert" {
			d.sortByConverterPriority(candidates)
		}

		claimTime := time.Now()
		for _, dataset := range candidates {
			err = d.datasets.CompareAndSetStatus(ctx, dataset.UUID, st.claimFrom, st.claimTo, func(dt *domain.Dataset) {
				dt.ClaimedAt = &claimTime
			})
			if err != nil {
				if err == apperr.ErrStaleState {
					continue
				}
				return false, err
			}
			if d.notifier != nil {
				d.notifier.NotifyStatus(dataset.UUID, string(st.claimTo), "")
			}

			d.process(ctx, dataset.UUID, st)
			return true, nil
		}
	}
	return false, nil
}

// sortByConverterPriority stable-sorts candidates so higher-priority
// converters (e.g. time-sensitive drone imagery) are attempted before
// lower-priority ones (e.g. the passthrough converter); datasets whose
// sensor kind carries no registry entry sink to the back. Ties keep the
// FIFO order FindByStatus already returned.
func (d *Dispatcher) sortByConverterPriority(candidates []*domain.Dataset) {
	priority := func(ds *domain.Dataset) int {
		entry, ok := d.registry.Lookup(ds.SensorKind)
		if !ok {
			return -1
		}
		return entry.Priority
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return priority(candidates[i]) > priority(candidates[j])
	})
}

func (d *Dispatcher) process(ctx context.Context, id uuid.UUID, st stage) {
	logger := d.log.WithFields(logrus.Fields{"dataset_uuid": id, "stage": st.name})

	dataset, err := d.datasets.GetByUUID(ctx, id)
	if err != nil {
		logger.WithError(err).Error("failed to reload claimed dataset")
		return
	}
	if dataset.CancelRequested {
		d.fail(ctx, id, st.claimTo, domain.StatusCancelled, "cancelled before processing", logger)
		return
	}

	var procErr error
	switch st.name {
	case "upload":
		// upload bytes already land on disk via the Ingest Router /
		// Upload Session Manager before this status is ever reached;
		// this stage only needs to confirm the output landed.
		var ok bool
		ok, procErr = storage.DirNonEmpty(d.layout.UploadDir(id))
		if procErr == nil && !ok {
			procErr = fmt.Errorf("upload directory is empty")
		}
	case "sync":
		procErr = d.runSync(ctx, dataset)
	case "convert":
		procErr = d.runConvert(ctx, dataset, logger)
	}

	if procErr != nil {
		logger.WithError(procErr).Warn("stage failed")
		d.fail(ctx, id, st.claimTo, st.errorTo, procErr.Error(), logger)
		return
	}

	successTo := st.successTo
	if (st.name == "upload" || st.name == "sync") && !dataset.Convert {
		successTo = domain.StatusDone
	}

	err = d.datasets.CompareAndSetStatus(ctx, id, st.claimTo, successTo, func(dt *domain.Dataset) {
		dt.ClaimedAt = nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to advance dataset after successful stage")
		return
	}
	if d.notifier != nil {
		d.notifier.NotifyStatus(id, string(successTo), "")
	}
}

func (d *Dispatcher) runSync(ctx context.Context, dataset *domain.Dataset) error {
	cfg, err := remote.ParseSourceConfig(dataset.SourceConfig)
	if err != nil {
		return err
	}
	destDir := d.layout.SyncDir(dataset.UUID)
	if err := d.layout.EnsureDir(destDir); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	_, err = d.fetchers.Fetch(ctx, cfg, destDir+"/source")
	return err
}

func (d *Dispatcher) runConvert(ctx context.Context, dataset *domain.Dataset, logger *logrus.Entry) error {
	entry, ok := d.registry.Lookup(dataset.SensorKind)
	if !ok {
		return fmt.Errorf("no converter registered for sensor kind %q", dataset.SensorKind)
	}

	inputDir := d.layout.UploadDir(dataset.UUID)
	if nonEmpty, _ := storage.DirNonEmpty(d.layout.SyncDir(dataset.UUID)); nonEmpty {
		inputDir = d.layout.SyncDir(dataset.UUID)
	}
	outputDir := d.layout.ConvertedDir(dataset.UUID)
	if err := d.layout.EnsureDir(outputDir); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	cancelCheck := func() bool {
		fresh, err := d.datasets.GetByUUID(ctx, dataset.UUID)
		return err == nil && fresh.CancelRequested
	}

	args := []string{inputDir, outputDir}
	if len(entry.ExtraParams) > 0 {
		blob, err := json.Marshal(entry.ExtraParams)
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		args = append(args, string(blob))
	}

	start := time.Now()
	result, err := converter.Run(ctx, entry.Executable, args, entry.Timeout, cancelCheck)
	duration := time.Since(start)

	recordErr := d.datasets.CompareAndSetStatus(ctx, dataset.UUID, domain.StatusConverting, domain.StatusConverting, func(dt *domain.Dataset) {
		dt.ConversionAttempts++
		dt.ConversionDurationMS = duration.Milliseconds()
		if result != nil {
			dt.ConversionErrorMessage = result.Stderr
		}
	})
	if recordErr != nil {
		logger.WithError(recordErr).Warn("failed to record conversion attempt metadata")
	}

	if err != nil {
		if dataset.ConversionAttempts+1 >= entry.MaxAttempts {
			return fmt.Errorf("%w: %v", apperr.ErrConversionFailed, err)
		}
		return err
	}

	nonEmpty, err := storage.DirNonEmpty(outputDir)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if !nonEmpty {
		return fmt.Errorf("converter wrote no output to %s", outputDir)
	}
	return nil
}

// fail advances a dataset from claimTo to target (an error state or
// cancellation), retrying conversion-queued errors up to the converter's
// max attempts before giving up to conversion failed, per the
// retry-then-fail rule.
func (d *Dispatcher) fail(ctx context.Context, id uuid.UUID, claimTo, target domain.Status, message string, logger *logrus.Entry) {
	finalTarget := target
	if claimTo == domain.StatusConverting && target == domain.StatusConversionError {
		dataset, err := d.datasets.GetByUUID(ctx, id)
		if err == nil {
			if entry, ok := d.registry.Lookup(dataset.SensorKind); ok && dataset.ConversionAttempts >= entry.MaxAttempts {
				finalTarget = domain.StatusConversionFailed
			} else {
				finalTarget = domain.StatusConversionQueued
			}
		}
	}

	err := d.datasets.CompareAndSetStatus(ctx, id, claimTo, finalTarget, func(dt *domain.Dataset) {
		dt.ConversionErrorMessage = message
		dt.ClaimedAt = nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to record stage failure")
		return
	}
	if d.notifier != nil {
		d.notifier.NotifyStatus(id, string(finalTarget), message)
	}
}
