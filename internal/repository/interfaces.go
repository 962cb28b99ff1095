package repository

import (
	"context"
	"time"

	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/google/uuid"
)

// UserRepository is the Catalog Store's access surface for user_profiles.
// Token descriptors live inside the User document itself (see
// domain.TokenDescriptor), so they are mutated through the same record
// rather than a separate repository.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// DatasetRepository is the Catalog Store's access surface for datasets.
// All writes to Status must go through CompareAndSetStatus so the state
// machine in domain.Status remains the sole writer of that field.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *domain.Dataset) error
	GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Dataset, error)
	GetByNumericID(ctx context.Context, numericID int64) (*domain.Dataset, error)
	GetByOwnerAndName(ctx context.Context, ownerEmail, name string) (*domain.Dataset, error)
	FindByName(ctx context.Context, name string) ([]*domain.Dataset, error)
	Update(ctx context.Context, dataset *domain.Dataset) error
	AppendFile(ctx context.Context, id uuid.UUID, file domain.DatasetFile) error
	FindByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Dataset, error)
	FindStaleClaims(ctx context.Context, status domain.Status, claimedBefore time.Time) ([]*domain.Dataset, error)
	ListByOwner(ctx context.Context, ownerEmail string, status domain.Status, limit, offset int) ([]*domain.Dataset, error)
	ListAll(ctx context.Context, limit, offset int) ([]*domain.Dataset, error)
	UpdateDataSize(ctx context.Context, id uuid.UUID, dataSizeGB float64) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	NumericIDExists(ctx context.Context, numericID int64) (bool, error)

	// CompareAndSetStatus atomically writes to==status only if the stored
	// status still equals from, applying mutate (e.g. bumping
	// conversion_attempts, recording an error message) in the same
	// statement. It returns apperr.ErrStaleState when the row did not
	// match.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, mutate func(*domain.Dataset)) error
}

// UploadSessionRepository is the Catalog Store's access surface for
// upload_sessions.
type UploadSessionRepository interface {
	Create(ctx context.Context, session *domain.UploadSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.UploadSession, error)
	Update(ctx context.Context, session *domain.UploadSession) error
	ListByOwner(ctx context.Context, ownerEmail string, limit, offset int) ([]*domain.UploadSession, error)
	FindExpired(ctx context.Context, before time.Time) ([]*domain.UploadSession, error)

	// CompareAndSetState is used to gate completion: open->completing
	// prevents two concurrent complete() calls from double-assembling.
	CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.SessionState) error
}

type Repositories struct {
	User          UserRepository
	Dataset       DatasetRepository
	UploadSession UploadSessionRepository
}
