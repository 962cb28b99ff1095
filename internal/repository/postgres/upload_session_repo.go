package postgres

import (
	"context"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type uploadSessionRepository struct {
	db *gorm.DB
}

func NewUploadSessionRepository(db *gorm.DB) *uploadSessionRepository {
	return &uploadSessionRepository{db: db}
}

func (r *uploadSessionRepository) Create(ctx context.Context, session *domain.UploadSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *uploadSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.UploadSession, error) {
	var s domain.UploadSession
	if err := r.db.WithContext(ctx).First(&s, "session_id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *uploadSessionRepository) Update(ctx context.Context, session *domain.UploadSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *uploadSessionRepository) ListByOwner(ctx context.Context, ownerEmail string, limit, offset int) ([]*domain.UploadSession, error) {
	var out []*domain.UploadSession
	err := r.db.WithContext(ctx).
		Where("owner_email = ?", ownerEmail).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (r *uploadSessionRepository) FindExpired(ctx context.Context, before time.Time) ([]*domain.UploadSession, error) {
	var out []*domain.UploadSession
	err := r.db.WithContext(ctx).
		Where("state = ? AND expires_at < ?", domain.SessionOpen, before).
		Find(&out).Error
	return out, err
}

func (r *uploadSessionRepository) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.SessionState) error {
	res := r.db.WithContext(ctx).Model(&domain.UploadSession{}).
		Where("session_id = ? AND state = ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrStaleState
	}
	return nil
}
