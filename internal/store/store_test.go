package store

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/airwatch/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func date(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Migrate())
	version, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestInsertAndGetHistory(t *testing.T) {
	store := setupTestStore(t)

	points := []models.HistoricalPoint{
		{City: "Delhi", Date: date("2024-01-02"), AQI: 310},
		{City: "delhi ", Date: date("2024-01-01"), AQI: 290},
		{City: "Mumbai", Date: date("2024-01-01"), AQI: 120},
	}
	n, err := store.InsertHistory(points)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	series, err := store.GetHistoricalSeries("DELHI")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, date("2024-01-01"), series[0].Date)
	assert.Equal(t, 290.0, series[0].AQI)
	assert.Equal(t, date("2024-01-02"), series[1].Date)

	missing, err := store.GetHistoricalSeries("Chennai")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertHistory_Upsert(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.InsertHistory([]models.HistoricalPoint{{City: "Delhi", Date: date("2024-01-01"), AQI: 100}})
	require.NoError(t, err)
	_, err = store.InsertHistory([]models.HistoricalPoint{{City: "Delhi", Date: date("2024-01-01"), AQI: 150}})
	require.NoError(t, err)

	series, err := store.GetHistoricalSeries("Delhi")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 150.0, series[0].AQI)
}

func TestGetHistoricalRange(t *testing.T) {
	store := setupTestStore(t)

	var points []models.HistoricalPoint
	for i := 0; i < 10; i++ {
		points = append(points, models.HistoricalPoint{City: "Pune", Date: date("2024-03-01").AddDate(0, 0, i), AQI: float64(i)})
	}
	_, err := store.InsertHistory(points)
	require.NoError(t, err)

	series, err := store.GetHistoricalRange("Pune", date("2024-03-03"), date("2024-03-05"))
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 2.0, series[0].AQI)
	assert.Equal(t, 4.0, series[2].AQI)
}

func TestHistoryCities(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.InsertHistory([]models.HistoricalPoint{
		{City: "Delhi", Date: date("2024-01-01"), AQI: 1},
		{City: "Delhi", Date: date("2024-02-01"), AQI: 2},
		{City: "Agra", Date: date("2024-01-15"), AQI: 3},
	})
	require.NoError(t, err)

	cities, err := store.HistoryCities()
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "agra", cities[0].City)
	assert.Equal(t, "delhi", cities[1].City)
	assert.Equal(t, 2, cities[1].Count)
	assert.Equal(t, date("2024-01-01"), cities[1].First)
	assert.Equal(t, date("2024-02-01"), cities[1].Last)
}

func TestModelArtifacts(t *testing.T) {
	store := setupTestStore(t)

	artifact := ModelArtifact{
		City:               "Delhi",
		Version:            "v1",
		LastTrainingDate:   date("2025-01-10"),
		RegressorNames:     []string{"temperature", "humidity"},
		HistoricalResidual: sql.NullFloat64{Float64: 12.5, Valid: true},
		Payload:            []byte(`{"city":"Delhi"}`),
	}

	saved, err := store.SaveModelArtifact(artifact)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = store.SaveModelArtifact(artifact)
	require.NoError(t, err)
	assert.False(t, saved, "identical payload should not be rewritten")

	payload, err := store.LoadModelArtifact("delhi", "v1")
	require.NoError(t, err)
	assert.Equal(t, artifact.Payload, payload)

	payload, err = store.LoadModelArtifact("Delhi", "v2")
	require.NoError(t, err)
	assert.Nil(t, payload)

	infos, err := store.ListModels()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "delhi", infos[0].City)
	assert.Equal(t, date("2025-01-10"), infos[0].LastTrainingDate)
	assert.Equal(t, []string{"temperature", "humidity"}, infos[0].RegressorNames)
	assert.Equal(t, 12.5, infos[0].HistoricalResidual.Float64)
}

func TestRawPayloads(t *testing.T) {
	store := setupTestStore(t)

	body := []byte(`{"forecast":{"forecastday":[]}}`)
	id, err := store.StoreRawPayload("weatherapi", "forecast.json", "Delhi", 200, body)
	require.NoError(t, err)
	assert.NotZero(t, id)

	dup, err := store.StoreRawPayload("weatherapi", "forecast.json", "Delhi", 200, body)
	require.NoError(t, err)
	assert.Zero(t, dup)

	got, err := store.GetRawPayload(id)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	deleted, err := store.CleanupOldRawPayloads(30)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestForecastRuns(t *testing.T) {
	store := setupTestStore(t)

	run := &ForecastRun{
		StartedAt:         time.Now().UTC().Add(-time.Second),
		City:              "Delhi",
		ModelVersion:      sql.NullString{String: "v1", Valid: true},
		DaysAhead:         3,
		Points:            sql.NullInt64{Int64: 3, Valid: true},
		CorrectionApplied: true,
		BaseResidual:      sql.NullFloat64{Float64: -8, Valid: true},
		Success:           true,
	}
	require.NoError(t, store.RecordForecastRun(run))
	assert.NotZero(t, run.ID)

	runs, err := store.RecentForecastRuns("DELHI", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].DaysAhead)
	assert.True(t, runs[0].CorrectionApplied)
	assert.Equal(t, -8.0, runs[0].BaseResidual.Float64)
	assert.True(t, runs[0].FinishedAt.Valid)
}
