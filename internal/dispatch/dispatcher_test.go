package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/remote"
	"github.com/dom/ingest-pipeline/internal/repository/postgres"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/dom/ingest-pipeline/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, testDB *testutil.TestDB, registry *Registry) (*Dispatcher, *storage.Layout) {
	t.Helper()
	cfg := testutil.TestConfig()
	repos := postgres.NewRepositories(testDB.DB)
	layout := storage.New(cfg.IngestRoot)
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return NewDispatcher(repos.Dataset, registry, remote.NewRegistry(), layout, cfg, log, nil), layout
}

func TestDispatcher_ClaimOne_UploadStageSucceeds(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	d, layout := newTestDispatcher(t, testDB, DefaultRegistry(time.Second, 3))

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusUploadQueued).WithSensorKind(domain.SensorTIFF).Build(t, testDB.DB)

	require.NoError(t, layout.EnsureDir(layout.UploadDir(dataset.UUID)))
	require.NoError(t, os.WriteFile(filepath.Join(layout.UploadDir(dataset.UUID), "raw.tif"), []byte("data"), 0o644))

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConversionQueued, got.Status)
}

func TestDispatcher_ClaimOne_UploadStageSkipsConversionWhenConvertIsFalse(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	d, layout := newTestDispatcher(t, testDB, DefaultRegistry(time.Second, 3))

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusUploadQueued).WithSensorKind(domain.SensorTIFF).WithConvert(false).Build(t, testDB.DB)

	require.NoError(t, layout.EnsureDir(layout.UploadDir(dataset.UUID)))
	require.NoError(t, os.WriteFile(filepath.Join(layout.UploadDir(dataset.UUID), "raw.tif"), []byte("data"), 0o644))

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status, "convert=false should terminate at done without queuing conversion")
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, cfg *remote.SourceConfig, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	return int64(len("data")), os.WriteFile(destPath, []byte("data"), 0o644)
}

func TestDispatcher_ClaimOne_SyncStageSkipsConversionWhenConvertIsFalse(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	cfg := testutil.TestConfig()
	repos := postgres.NewRepositories(testDB.DB)
	layout := storage.New(cfg.IngestRoot)
	log := logrus.New()
	log.SetOutput(os.Stderr)

	fetchers := remote.NewRegistry()
	fetchers.Register(remote.SourceURL, fakeFetcher{})
	d := NewDispatcher(repos.Dataset, DefaultRegistry(time.Second, 3), fetchers, layout, cfg, log, nil)

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusSyncQueued).WithSensorKind(domain.SensorTIFF).WithConvert(false).
		Build(t, testDB.DB)
	require.NoError(t, testDB.DB.Model(&domain.Dataset{}).Where("uuid = ?", dataset.UUID).
		Update("source_config", []byte(`{"kind":"url","url":"https://example.com/data.tif"}`)).Error)

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status, "convert=false should terminate at done without queuing conversion")
}

func TestDispatcher_ClaimOne_ConvertStagePrefersHigherPriority(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	registry := NewRegistry([]ConverterEntry{
		{SensorKind: domain.SensorTIFF, Executable: "convert_tiff", Timeout: time.Second, MaxAttempts: 3, Priority: 10},
		{SensorKind: domain.SensorRGBDrone, Executable: "convert_rgb_drone", Timeout: time.Second, MaxAttempts: 3, Priority: 15},
	})
	d, _ := newTestDispatcher(t, testDB, registry)

	low := testutil.NewDatasetBuilder().WithStatus(domain.StatusConversionQueued).WithSensorKind(domain.SensorTIFF).Build(t, testDB.DB)
	high := testutil.NewDatasetBuilder().WithStatus(domain.StatusConversionQueued).WithSensorKind(domain.SensorRGBDrone).Build(t, testDB.DB)

	candidates := []*domain.Dataset{low, high}
	d.sortByConverterPriority(candidates)

	assert.Equal(t, high.UUID, candidates[0].UUID, "higher-priority converter should sort first")
	assert.Equal(t, low.UUID, candidates[1].UUID)
}

func TestDispatcher_ClaimOne_UploadStageFailsOnEmptyDir(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	d, layout := newTestDispatcher(t, testDB, DefaultRegistry(time.Second, 3))

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusUploadQueued).WithSensorKind(domain.SensorTIFF).Build(t, testDB.DB)
	require.NoError(t, layout.EnsureDir(layout.UploadDir(dataset.UUID)))

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploadError, got.Status)
	assert.NotEmpty(t, got.ConversionErrorMessage)
}

func TestDispatcher_ClaimOne_NoCandidatesReturnsFalse(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	d, _ := newTestDispatcher(t, testDB, DefaultRegistry(time.Second, 3))

	testutil.NewDatasetBuilder().WithStatus(domain.StatusDone).Build(t, testDB.DB)

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestDispatcher_ClaimOne_CancelledBeforeProcessing(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	d, _ := newTestDispatcher(t, testDB, DefaultRegistry(time.Second, 3))

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusUploadQueued).Build(t, testDB.DB)
	require.NoError(t, testDB.DB.Model(&domain.Dataset{}).Where("uuid = ?", dataset.UUID).Update("cancel_requested", true).Error)

	claimed, err := d.claimOne(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestDispatcher_Fail_RetriesConversionUntilMaxAttempts(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	registry := NewRegistry([]ConverterEntry{
		{SensorKind: domain.SensorTIFF, Executable: "convert_tiff", Timeout: time.Second, MaxAttempts: 3, Priority: 10},
	})
	d, _ := newTestDispatcher(t, testDB, registry)
	logger := d.log.WithField("test", "retry")

	dataset := testutil.NewDatasetBuilder().WithStatus(domain.StatusConverting).WithSensorKind(domain.SensorTIFF).Build(t, testDB.DB)
	require.NoError(t, testDB.DB.Model(&domain.Dataset{}).Where("uuid = ?", dataset.UUID).Update("conversion_attempts", 2).Error)

	d.fail(context.Background(), dataset.UUID, domain.StatusConverting, domain.StatusConversionError, "boom", logger)

	got, err := d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConversionQueued, got.Status, "should be requeued for retry while under max attempts")

	require.NoError(t, d.datasets.CompareAndSetStatus(context.Background(), dataset.UUID, domain.StatusConversionQueued, domain.StatusConverting, nil))
	require.NoError(t, testDB.DB.Model(&domain.Dataset{}).Where("uuid = ?", dataset.UUID).Update("conversion_attempts", 3).Error)

	d.fail(context.Background(), dataset.UUID, domain.StatusConverting, domain.StatusConversionError, "boom again", logger)

	got, err = d.datasets.GetByUUID(context.Background(), dataset.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConversionFailed, got.Status, "should give up once attempts reach MaxAttempts")
}
