package service

import (
	"context"
	"fmt"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/google/uuid"
)

// QueryService is the Query Surface: identifier-based dataset
// lookup, upload-session progress, and owner-scoped job listings, with
// visibility enforced against the requesting user.
type QueryService struct {
	datasets repository.DatasetRepository
	sessions repository.UploadSessionRepository
	resolver *IdentifierResolver
}

func NewQueryService(datasets repository.DatasetRepository, sessions repository.UploadSessionRepository, resolver *IdentifierResolver) *QueryService {
	return &QueryService{datasets: datasets, sessions: sessions, resolver: resolver}
}

// GetDataset resolves identifier to a Dataset and enforces visibility: the
// owner always sees it, a team member sees it if IsPublic == only_team and
// TeamID matches, and
// everyone else only if IsPublic == public.
func (q *QueryService) GetDataset(ctx context.Context, identifier, requesterEmail string, requesterTeamID *string) (*domain.Dataset, error) {
	dataset, err := q.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !canView(dataset, requesterEmail, requesterTeamID) {
		return nil, apperr.ErrForbidden
	}
	return dataset, nil
}

func canView(d *domain.Dataset, requesterEmail string, requesterTeamID *string) bool {
	if d.OwnerEmail == requesterEmail {
		return true
	}
	if d.IsPublic == domain.VisibilityPublic {
		return true
	}
	if d.IsPublic == domain.VisibilityOnlyTeam && d.TeamID != nil && requesterTeamID != nil && *d.TeamID == *requesterTeamID {
		return true
	}
	return false
}

// ListJobs returns an owner's datasets, optionally filtered by status, as
// the "jobs" view — there is no separate jobs table; every dataset row is
// itself the job record.
func (q *QueryService) ListJobs(ctx context.Context, ownerEmail string, status domain.Status, limit, offset int) ([]*domain.Dataset, error) {
	out, err := q.datasets.ListByOwner(ctx, ownerEmail, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return out, nil
}

// SessionProgress reports per-chunk progress for an in-flight upload.
func (q *QueryService) SessionProgress(ctx context.Context, sessionID uuid.UUID) (*domain.UploadSession, error) {
	session, err := q.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.ErrNotFound
	}
	return session, nil
}

// ResolveJobHandle implements the job_id aliasing decision recorded in
// SPEC_FULL.md: a job handle is either a dataset uuid directly, or an
// upload session id that is resolved to its owning dataset whatever the
// session's state.
func (q *QueryService) ResolveJobHandle(ctx context.Context, handle string) (uuid.UUID, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed job id", apperr.ErrValidation)
	}

	if dataset, err := q.datasets.GetByUUID(ctx, id); err == nil {
		return dataset.UUID, nil
	}

	session, err := q.sessions.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, apperr.ErrNotFound
	}
	return session.DatasetUUID, nil
}
