package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository/postgres"
	"github.com/dom/ingest-pipeline/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetRepository_GetByUUID(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr bool
	}{
		{name: "existing dataset", id: dataset.UUID, wantErr: false},
		{name: "non-existent dataset", id: uuid.New(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByUUID(ctx, tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, dataset.UUID, got.UUID)
			assert.Equal(t, dataset.Name, got.Name)
		})
	}
}

func TestDatasetRepository_GetBySlug(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().WithName("slug-lookup").Build(t, testDB.DB)

	got, err := repo.GetBySlug(ctx, dataset.Slug)
	require.NoError(t, err)
	assert.Equal(t, dataset.UUID, got.UUID)

	_, err = repo.GetBySlug(ctx, "no-such-slug")
	assert.Error(t, err)
}

func TestDatasetRepository_GetByNumericID(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)

	got, err := repo.GetByNumericID(ctx, dataset.NumericID)
	require.NoError(t, err)
	assert.Equal(t, dataset.UUID, got.UUID)

	_, err = repo.GetByNumericID(ctx, 99999999)
	assert.Error(t, err)
}

func TestDatasetRepository_FindByStatus(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	testutil.NewDatasetBuilder().WithStatus(domain.StatusSubmitted).Build(t, testDB.DB)
	testutil.NewDatasetBuilder().WithStatus(domain.StatusSubmitted).Build(t, testDB.DB)
	testutil.NewDatasetBuilder().WithStatus(domain.StatusDone).Build(t, testDB.DB)

	out, err := repo.FindByStatus(ctx, domain.StatusSubmitted, 10)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDatasetRepository_ListByOwner(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	testutil.NewDatasetBuilder().WithOwnerEmail("owner-a@example.com").Build(t, testDB.DB)
	testutil.NewDatasetBuilder().WithOwnerEmail("owner-a@example.com").Build(t, testDB.DB)
	testutil.NewDatasetBuilder().WithOwnerEmail("owner-b@example.com").Build(t, testDB.DB)

	out, err := repo.ListByOwner(ctx, "owner-a@example.com", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = repo.ListByOwner(ctx, "owner-b@example.com", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestDatasetRepository_SlugExists(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)

	exists, err := repo.SlugExists(ctx, dataset.Slug)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.SlugExists(ctx, "never-assigned-slug")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDatasetRepository_CompareAndSetStatus(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusSubmitted).Build(t, testDB.DB)

	err := repo.CompareAndSetStatus(ctx, dataset.UUID, domain.StatusSubmitted, domain.StatusUploadQueued, nil)
	require.NoError(t, err)

	got, err := repo.GetByUUID(ctx, dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploadQueued, got.Status)

	// the from-status no longer matches, so a second attempt against the
	// stale value must fail rather than silently clobber the new state
	err = repo.CompareAndSetStatus(ctx, dataset.UUID, domain.StatusSubmitted, domain.StatusUploadQueued, nil)
	assert.ErrorIs(t, err, apperr.ErrStaleState)
}

func TestDatasetRepository_CompareAndSetStatus_Mutate(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusConverting).Build(t, testDB.DB)

	claimedAt := time.Now()
	err := repo.CompareAndSetStatus(ctx, dataset.UUID, domain.StatusConverting, domain.StatusDone, func(d *domain.Dataset) {
		d.ClaimedAt = &claimedAt
		d.ConversionDurationMS = 4200
	})
	require.NoError(t, err)

	got, err := repo.GetByUUID(ctx, dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, int64(4200), got.ConversionDurationMS)
}

func TestDatasetRepository_AppendFile(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewDatasetRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)

	err := repo.AppendFile(ctx, dataset.UUID, domain.DatasetFile{
		Filename:     "band1.tif",
		SizeBytes:    1024,
		UploadedAt:   time.Now(),
		RelativePath: "band1.tif",
	})
	require.NoError(t, err)

	got, err := repo.GetByUUID(ctx, dataset.UUID)
	require.NoError(t, err)
	assert.Contains(t, string(got.Files), "band1.tif")
}
