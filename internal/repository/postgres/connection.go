package postgres

import (
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewConnection(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate tables. is_downloadable shipped after the initial
	// release in the source system as a backfilled column; AutoMigrate's
	// add-column-if-absent behavior covers that without a separate
	// migration script.
	err = db.AutoMigrate(
		&domain.User{},
		&domain.Dataset{},
		&domain.UploadSession{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		User:          NewUserRepository(db),
		Dataset:       NewDatasetRepository(db),
		UploadSession: NewUploadSessionRepository(db),
	}
}
