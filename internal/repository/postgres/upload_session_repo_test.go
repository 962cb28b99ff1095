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

func TestUploadSessionRepository_GetByID(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUploadSessionRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)
	session := testutil.NewUploadSessionBuilder(dataset.UUID).Build(t, testDB.DB)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr bool
	}{
		{name: "existing session", id: session.SessionID, wantErr: false},
		{name: "non-existent session", id: uuid.New(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByID(ctx, tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, session.SessionID, got.SessionID)
			assert.Equal(t, dataset.UUID, got.DatasetUUID)
		})
	}
}

func TestUploadSessionRepository_FindExpired(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUploadSessionRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)
	stale := testutil.NewUploadSessionBuilder(dataset.UUID).Build(t, testDB.DB)
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, testDB.DB.Save(stale).Error)

	fresh := testutil.NewUploadSessionBuilder(dataset.UUID).Build(t, testDB.DB)
	_ = fresh

	completed := testutil.NewUploadSessionBuilder(dataset.UUID).WithState(domain.SessionComplete).Build(t, testDB.DB)
	completed.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, testDB.DB.Save(completed).Error)

	out, err := repo.FindExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stale.SessionID, out[0].SessionID)
}

func TestUploadSessionRepository_CompareAndSetState(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUploadSessionRepository(testDB.DB)
	ctx := context.Background()

	dataset := testutil.NewDatasetBuilder().Build(t, testDB.DB)
	session := testutil.NewUploadSessionBuilder(dataset.UUID).Build(t, testDB.DB)

	err := repo.CompareAndSetState(ctx, session.SessionID, domain.SessionOpen, domain.SessionCompleting)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleting, got.State)

	// retrying against the now-stale "open" expectation must fail
	err = repo.CompareAndSetState(ctx, session.SessionID, domain.SessionOpen, domain.SessionCompleting)
	assert.ErrorIs(t, err, apperr.ErrStaleState)
}
