// Package store persists fitted pipeline records so a server can restart with
// the model it was serving, and so CLI runs can share models.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/urban-recommender/internal/recommender"
)

// ErrNotFound is returned when no stored model matches a lookup.
var ErrNotFound = eris.New("store: model not found")

// DefaultListLimit caps ListModels when the caller passes no limit.
const DefaultListLimit = 20

// ModelInfo is the indexed metadata of a stored record.
type ModelInfo struct {
	ID            string    `json:"id"`
	ModelVersion  string    `json:"model_version"`
	SchemaVersion int       `json:"schema_version"`
	Fingerprint   string    `json:"fingerprint"`
	NComponents   int       `json:"n_components"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoredModel is a record together with its store metadata.
type StoredModel struct {
	ModelInfo
	Record *recommender.Record `json:"record"`
}

// ModelStore defines the persistence interface for fitted pipeline records.
type ModelStore interface {
	SaveModel(ctx context.Context, rec *recommender.Record) (*ModelInfo, error)
	GetModel(ctx context.Context, id string) (*StoredModel, error)
	// LatestModel returns the newest record, restricted to modelVersion
	// unless it is empty.
	LatestModel(ctx context.Context, modelVersion string) (*StoredModel, error)
	ListModels(ctx context.Context, limit int) ([]ModelInfo, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by driver ("sqlite" or "postgres").
// The schema is migrated before the store is returned.
func Open(ctx context.Context, driver, dsn string) (ModelStore, error) {
	var (
		st  ModelStore
		err error
	)
	switch driver {
	case "sqlite":
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func encodeRecord(rec *recommender.Record) ([]byte, error) {
	if rec == nil {
		return nil, eris.New("store: nil record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal record")
	}
	return data, nil
}

func decodeRecord(data []byte) (*recommender.Record, error) {
	var rec recommender.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &rec, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
