package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type datasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *datasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) Create(ctx context.Context, dataset *domain.Dataset) error {
	return r.db.WithContext(ctx).Create(dataset).Error
}

func (r *datasetRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := r.db.WithContext(ctx).First(&d, "uuid = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *datasetRepository) GetBySlug(ctx context.Context, slug string) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := r.db.WithContext(ctx).First(&d, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *datasetRepository) GetByNumericID(ctx context.Context, numericID int64) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := r.db.WithContext(ctx).First(&d, "numeric_id = ?", numericID).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *datasetRepository) GetByOwnerAndName(ctx context.Context, ownerEmail, name string) (*domain.Dataset, error) {
	var d domain.Dataset
	err := r.db.WithContext(ctx).First(&d, "owner_email = ? AND name = ?", ownerEmail, name).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *datasetRepository) FindByName(ctx context.Context, name string) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	err := r.db.WithContext(ctx).Where("name = ?", name).Find(&out).Error
	return out, err
}

func (r *datasetRepository) Update(ctx context.Context, dataset *domain.Dataset) error {
	return r.db.WithContext(ctx).Save(dataset).Error
}

func (r *datasetRepository) AppendFile(ctx context.Context, id uuid.UUID, file domain.DatasetFile) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d domain.Dataset
		if err := tx.First(&d, "uuid = ?", id).Error; err != nil {
			return err
		}
		var files []domain.DatasetFile
		if len(d.Files) > 0 {
			if err := json.Unmarshal(d.Files, &files); err != nil {
				return err
			}
		}
		files = append(files, file)
		encoded, err := json.Marshal(files)
		if err != nil {
			return err
		}
		return tx.Model(&domain.Dataset{}).Where("uuid = ?", id).
			Update("files", encoded).Error
	})
}

func (r *datasetRepository) FindByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *datasetRepository) FindStaleClaims(ctx context.Context, status domain.Status, claimedBefore time.Time) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ?", status, claimedBefore).
		Find(&out).Error
	return out, err
}

func (r *datasetRepository) ListByOwner(ctx context.Context, ownerEmail string, status domain.Status, limit, offset int) ([]*domain.Dataset, error) {
	q := r.db.WithContext(ctx).Where("owner_email = ?", ownerEmail)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*domain.Dataset
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func (r *datasetRepository) ListAll(ctx context.Context, limit, offset int) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	err := r.db.WithContext(ctx).Order("created_at ASC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// UpdateDataSize writes the size reconciler's result directly, bypassing
// CompareAndSetStatus since data_size_gb is not part of the state
// machine's written fields.
func (r *datasetRepository) UpdateDataSize(ctx context.Context, id uuid.UUID, dataSizeGB float64) error {
	return r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Where("uuid = ?", id).
		Update("data_size_gb", dataSizeGB).Error
}

func (r *datasetRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Dataset{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *datasetRepository) NumericIDExists(ctx context.Context, numericID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Dataset{}).Where("numeric_id = ?", numericID).Count(&count).Error
	return count > 0, err
}

// CompareAndSetStatus is the only path by which status is written. It
// issues a single UPDATE gated on the previously observed status; if no
// row matches, the caller lost the race (or is working with a stale
// read) and gets apperr.ErrStaleState.
func (r *datasetRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, mutate func(*domain.Dataset)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d domain.Dataset
		if err := tx.First(&d, "uuid = ? AND status = ?", id, from).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.ErrStaleState
			}
			return err
		}
		d.Status = to
		d.UpdatedAt = time.Now()
		if mutate != nil {
			mutate(&d)
		}
		res := tx.Model(&domain.Dataset{}).
			Where("uuid = ? AND status = ?", id, from).
			Select("*").
			Updates(&d)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrStaleState
		}
		return nil
	})
}
