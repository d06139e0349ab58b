package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/urban-recommender/internal/recommender"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements ModelStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with small defaults.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pipeline_models (
	id             TEXT PRIMARY KEY,
	model_version  TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	fingerprint    TEXT NOT NULL,
	n_components   INTEGER NOT NULL,
	record         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_models_created_at ON pipeline_models(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_models_version ON pipeline_models(model_version, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveModel(ctx context.Context, rec *recommender.Record) (*ModelInfo, error) {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_models (id, model_version, schema_version, fingerprint, n_components, record, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		info.ID, info.ModelVersion, info.SchemaVersion, info.Fingerprint, info.NComponents, data, info.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert model")
	}
	return info, nil
}

const postgresModelColumns = `id, model_version, schema_version, fingerprint, n_components, created_at, record`

func (s *PostgresStore) GetModel(ctx context.Context, id string) (*StoredModel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresModelColumns+` FROM pipeline_models WHERE id = $1`,
		id,
	)
	m, err := scanPgModel(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(err, "postgres: get model %s", id)
	}
	return m, err
}

func (s *PostgresStore) LatestModel(ctx context.Context, modelVersion string) (*StoredModel, error) {
	query := `SELECT ` + postgresModelColumns + ` FROM pipeline_models`
	var args []any
	if modelVersion != "" {
		query += ` WHERE model_version = $1`
		args = append(args, modelVersion)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	m, err := scanPgModel(s.pool.QueryRow(ctx, query, args...))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, eris.Wrap(err, "postgres: latest model")
	}
	return m, err
}

func (s *PostgresStore) ListModels(ctx context.Context, limit int) ([]ModelInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, model_version, schema_version, fingerprint, n_components, created_at FROM pipeline_models ORDER BY created_at DESC, id DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list models")
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var m ModelInfo
		if err := rows.Scan(&m.ID, &m.ModelVersion, &m.SchemaVersion, &m.Fingerprint, &m.NComponents, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan model")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate models")
}

func scanPgModel(row pgx.Row) (*StoredModel, error) {
	var m StoredModel
	var recordJSON []byte

	err := row.Scan(&m.ID, &m.ModelVersion, &m.SchemaVersion, &m.Fingerprint, &m.NComponents, &m.CreatedAt, &recordJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Record, err = decodeRecord(recordJSON)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
