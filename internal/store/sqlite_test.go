package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/urban-recommender/internal/indicator"
	"github.com/sells-group/urban-recommender/internal/recommender"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// testRecord fits a small engine and exports its record.
func testRecord(t *testing.T, version string) *recommender.Record {
	t.Helper()
	e, err := recommender.New(recommender.Options{ModelVersion: version})
	require.NoError(t, err)
	_, err = e.Fit(indicator.NewTable([]indicator.Row{
		{"GRAPROES": 0.1, "RAMPAS_C": 0.2, "ALUMPUB_C": 0.9},
		{"GRAPROES": 0.5, "RAMPAS_C": 0.7, "ALUMPUB_C": 0.3},
		{"GRAPROES": 0.9, "RAMPAS_C": 0.4, "ALUMPUB_C": 0.6},
		{"GRAPROES": 0.3, "RAMPAS_C": 0.1, "ALUMPUB_C": 0.8},
	}))
	require.NoError(t, err)
	rec, err := e.Export()
	require.NoError(t, err)
	return rec
}

func TestSQLite_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := testRecord(t, "v1.0")

	info, err := st.SaveModel(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "v1.0", info.ModelVersion)
	assert.Equal(t, recommender.RecordSchemaVersion, info.SchemaVersion)
	assert.Equal(t, rec.Fingerprint, info.Fingerprint)
	assert.Equal(t, rec.NComponents(), info.NComponents)

	got, err := st.GetModel(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, rec.Fingerprint, got.Record.Fingerprint)
	assert.Equal(t, rec.State, got.Record.State)

	restored, err := recommender.Restore(got.Record)
	require.NoError(t, err)
	assert.True(t, restored.Fitted())
}

func TestSQLite_GetModel_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetModel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_LatestModel(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.LatestModel(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := st.SaveModel(ctx, testRecord(t, "v1.0"))
	require.NoError(t, err)
	second, err := st.SaveModel(ctx, testRecord(t, "v2.0"))
	require.NoError(t, err)

	latest, err := st.LatestModel(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	v1, err := st.LatestModel(ctx, "v1.0")
	require.NoError(t, err)
	assert.Equal(t, first.ID, v1.ID)

	_, err = st.LatestModel(ctx, "v9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListModels(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	models, err := st.ListModels(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, models)

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := st.SaveModel(ctx, testRecord(t, "v1.0"))
		require.NoError(t, err)
		ids = append(ids, info.ID)
	}

	models, err = st.ListModels(ctx, 0)
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, ids[2], models[0].ID)
	assert.Equal(t, ids[0], models[2].ID)

	models, err = st.ListModels(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, models, 2)
}

func TestSQLite_SaveNilRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.SaveModel(context.Background(), nil)
	assert.Error(t, err)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	models, err := st.ListModels(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, models)

	_, err = Open(ctx, "mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
