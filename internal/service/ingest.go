package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/google/uuid"
)

// IngestService is the Ingest Router: whatever mode a dataset
// arrives through (a single request body, a completed chunked session, or
// a remote source descriptor), it funnels through the same
// persist-then-queue postlude so the Conversion Dispatcher only ever has
// to reason about one shape of input.
type IngestService struct {
	datasets repository.DatasetRepository
	resolver *IdentifierResolver
	minter   *NumericIDMinter
	machine  *StatusMachine
	layout   *storage.Layout
}

func NewIngestService(datasets repository.DatasetRepository, resolver *IdentifierResolver, minter *NumericIDMinter, machine *StatusMachine, layout *storage.Layout) *IngestService {
	return &IngestService{datasets: datasets, resolver: resolver, minter: minter, machine: machine, layout: layout}
}

type NewDatasetInput struct {
	Name           string
	OwnerEmail     string
	TeamID         *string
	SensorKind     domain.SensorKind
	Convert        bool
	IsPublic       domain.Visibility
	IsDownloadable domain.Visibility
	Description    string
	Folder         string
	Tags           []string
	SourceConfig   []byte
}

// CreateDataset mints the identifiers and persists the catalog row that
// every ingestion mode (whole-file, chunked, remote) shares as its first
// step, leaving the caller to queue the appropriate status transition.
func (s *IngestService) CreateDataset(ctx context.Context, in NewDatasetInput) (*domain.Dataset, error) {
	if in.Name == "" || in.OwnerEmail == "" {
		return nil, fmt.Errorf("%w: name and ownerEmail are required", apperr.ErrValidation)
	}
	if !in.SensorKind.Valid() {
		return nil, fmt.Errorf("%w: unknown sensor kind %q", apperr.ErrValidation, in.SensorKind)
	}
	if in.IsPublic == "" {
		in.IsPublic = domain.VisibilityOnlyOwner
	}
	if !in.IsPublic.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", apperr.ErrValidation, in.IsPublic)
	}
	if in.IsDownloadable == "" {
		in.IsDownloadable = domain.VisibilityOnlyOwner
	}
	if !in.IsDownloadable.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", apperr.ErrValidation, in.IsDownloadable)
	}

	slug, err := DeriveSlug(ctx, s.datasets, in.Name, in.OwnerEmail, time.Now().Year())
	if err != nil {
		return nil, err
	}
	numericID, err := s.minter.Mint(ctx)
	if err != nil {
		return nil, err
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	dataset := &domain.Dataset{
		UUID:           uuid.New(),
		Name:           in.Name,
		Slug:           slug,
		NumericID:      numericID,
		OwnerEmail:     in.OwnerEmail,
		TeamID:         in.TeamID,
		SensorKind:     in.SensorKind,
		Convert:        in.Convert,
		IsPublic:       in.IsPublic,
		IsDownloadable: in.IsDownloadable,
		Status:         domain.StatusSubmitted,
		Files:          []byte("[]"),
		Folder:         in.Folder,
		Tags:           tagsJSON,
		Description:    in.Description,
		SourceConfig:   in.SourceConfig,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.datasets.Create(ctx, dataset); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return dataset, nil
}

// QueueWholeFileUpload moves a freshly created dataset straight to
// "upload queued" once the caller has written the single request body to
// the dataset's upload directory.
func (s *IngestService) QueueWholeFileUpload(ctx context.Context, id uuid.UUID, file domain.DatasetFile) error {
	if err := s.datasets.AppendFile(ctx, id, file); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return s.machine.Advance(ctx, id, domain.StatusSubmitted, domain.StatusUploadQueued, nil)
}

// CompleteChunkedUpload is the postlude run after UploadSessionService.Complete
// has assembled the session's chunks into the dataset's upload directory.
func (s *IngestService) CompleteChunkedUpload(ctx context.Context, id uuid.UUID, file domain.DatasetFile) error {
	if err := s.datasets.AppendFile(ctx, id, file); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return s.machine.Advance(ctx, id, domain.StatusSubmitted, domain.StatusUploadQueued, nil)
}

// QueueRemoteSource moves a dataset carrying a SourceConfig to "sync
// queued" so the Conversion Dispatcher's fetch stage picks it up.
func (s *IngestService) QueueRemoteSource(ctx context.Context, id uuid.UUID) error {
	return s.machine.Advance(ctx, id, domain.StatusSubmitted, domain.StatusSyncQueued, nil)
}

// AddFileToExisting appends another file to an already-cataloged dataset
// owned by ownerEmail. The dataset's status is left unchanged: it is not
// re-queued for upload or conversion.
func (s *IngestService) AddFileToExisting(ctx context.Context, identifier, ownerEmail string, file domain.DatasetFile) (*domain.Dataset, error) {
	dataset, err := s.resolver.ResolveScoped(ctx, identifier, ownerEmail)
	if err != nil {
		return nil, err
	}
	if dataset.OwnerEmail != ownerEmail {
		return nil, apperr.ErrForbidden
	}
	if err := s.datasets.AppendFile(ctx, dataset.UUID, file); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return s.datasets.GetByUUID(ctx, dataset.UUID)
}

// Cancel cancels a dataset. A dataset already in a terminal status is left
// as it is. When the transition table declares a move from the current
// status to cancelled (every non-terminal status has one, claimed ones
// included), Cancel makes that move directly through the status machine;
// CancelRequested is set instead only for a status without such a move.
// Cancel does not signal a worker already processing the dataset: the
// converter it runs keeps going, and that worker's closing compare-and-set
// then fails as stale.
func (s *IngestService) Cancel(ctx context.Context, id uuid.UUID) error {
	dataset, err := s.datasets.GetByUUID(ctx, id)
	if err != nil {
		return apperr.ErrNotFound
	}
	if dataset.Status.IsTerminal() {
		return nil
	}
	if !dataset.Status.CanTransition(domain.StatusCancelled) {
		return s.datasets.CompareAndSetStatus(ctx, id, dataset.Status, dataset.Status, func(d *domain.Dataset) {
			d.CancelRequested = true
		})
	}
	return s.machine.Advance(ctx, id, dataset.Status, domain.StatusCancelled, nil)
}
