package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var modelColumns = []string{"id", "model_version", "schema_version", "fingerprint", "n_components", "created_at", "record"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pipeline_models`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveModel(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := testRecord(t, "v1.0")

	mock.ExpectExec(`INSERT INTO pipeline_models`).
		WithArgs(pgxmock.AnyArg(), "v1.0", 1, rec.Fingerprint, rec.NComponents(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	info, err := s.SaveModel(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, rec.Fingerprint, info.Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveModel_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_models`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("connection refused"))

	_, err := s.SaveModel(context.Background(), testRecord(t, "v1.0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert model")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetModel(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := testRecord(t, "v1.0")
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM pipeline_models WHERE id = \$1`).
		WithArgs("model-1").
		WillReturnRows(pgxmock.NewRows(modelColumns).
			AddRow("model-1", "v1.0", 1, rec.Fingerprint, rec.NComponents(), now, data))

	got, err := s.GetModel(context.Background(), "model-1")
	require.NoError(t, err)
	assert.Equal(t, "model-1", got.ID)
	assert.Equal(t, now, got.CreatedAt)
	assert.Equal(t, rec.State, got.Record.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM pipeline_models WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetModel(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestModel_ByVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := testRecord(t, "v2.0")
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery(`WHERE model_version = \$1 ORDER BY created_at DESC, id DESC LIMIT 1`).
		WithArgs("v2.0").
		WillReturnRows(pgxmock.NewRows(modelColumns).
			AddRow("model-2", "v2.0", 1, rec.Fingerprint, rec.NComponents(), time.Now().UTC(), data))

	got, err := s.LatestModel(context.Background(), "v2.0")
	require.NoError(t, err)
	assert.Equal(t, "v2.0", got.Record.ModelVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestModel_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM pipeline_models ORDER BY created_at DESC`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestModel(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListModels(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, model_version, schema_version, fingerprint, n_components, created_at FROM pipeline_models`).
		WithArgs(DefaultListLimit).
		WillReturnRows(pgxmock.NewRows(modelColumns[:6]).
			AddRow("b", "v1.0", 1, "fp-b", 2, now).
			AddRow("a", "v1.0", 1, "fp-a", 3, now.Add(-time.Hour)))

	models, err := s.ListModels(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "b", models[0].ID)
	assert.Equal(t, 3, models[1].NComponents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListModels_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM pipeline_models`).
		WithArgs(5).
		WillReturnError(eris.New("timeout"))

	_, err := s.ListModels(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list models")
	assert.NoError(t, mock.ExpectationsWereMet())
}
