package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/urban-recommender/internal/recommender"
)

// SQLiteStore implements ModelStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pipeline_models (
	id             TEXT PRIMARY KEY,
	model_version  TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	fingerprint    TEXT NOT NULL,
	n_components   INTEGER NOT NULL,
	record         TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pipeline_models_created_at ON pipeline_models(created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_models_version ON pipeline_models(model_version, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveModel(ctx context.Context, rec *recommender.Record) (*ModelInfo, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		ID:            uuid.New().String(),
		ModelVersion:  rec.ModelVersion,
		SchemaVersion: rec.SchemaVersion,
		Fingerprint:   rec.Fingerprint,
		NComponents:   rec.NComponents(),
		CreatedAt:     time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_models (id, model_version, schema_version, fingerprint, n_components, record, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.ModelVersion, info.SchemaVersion, info.Fingerprint, info.NComponents, string(data), info.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert model")
	}
	return info, nil
}

const sqliteModelColumns = `id, model_version, schema_version, fingerprint, n_components, created_at, record`

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*StoredModel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteModelColumns+` FROM pipeline_models WHERE id = ?`,
		id,
	)
	return scanModel(row)
}

func (s *SQLiteStore) LatestModel(ctx context.Context, modelVersion string) (*StoredModel, error) {
	query := `SELECT ` + sqliteModelColumns + ` FROM pipeline_models`
	var args []any
	if modelVersion != "" {
		query += ` WHERE model_version = ?`
		args = append(args, modelVersion)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`
	return scanModel(s.db.QueryRowContext(ctx, query, args...))
}

func (s *SQLiteStore) ListModels(ctx context.Context, limit int) ([]ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_version, schema_version, fingerprint, n_components, created_at FROM pipeline_models ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list models")
	}
	defer rows.Close() //nolint:errcheck

	var out []ModelInfo
	for rows.Next() {
		var m ModelInfo
		if err := rows.Scan(&m.ID, &m.ModelVersion, &m.SchemaVersion, &m.Fingerprint, &m.NComponents, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan model")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate models")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanModel(row scannable) (*StoredModel, error) {
	var m StoredModel
	var recordJSON string

	err := row.Scan(&m.ID, &m.ModelVersion, &m.SchemaVersion, &m.Fingerprint, &m.NComponents, &m.CreatedAt, &recordJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan model")
	}

	m.Record, err = decodeRecord([]byte(recordJSON))
	if err != nil {
		return nil, err
	}
	return &m, nil
}
