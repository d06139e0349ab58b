package recommender

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Persisted record schema tag and version.
const (
	RecordSchema        = "urban-recommender/pipeline"
	RecordSchemaVersion = 1
)

// Record is the versioned, self-describing persisted form of a fitted engine.
type Record struct {
	Schema        string      `json:"schema"`
	SchemaVersion int         `json:"schema_version"`
	ModelVersion  string      `json:"model_version"`
	CreatedAt     time.Time   `json:"created_at"`
	Fingerprint   string      `json:"fingerprint"`
	Config        Options     `json:"config"`
	State         RecordState `json:"state"`
}

// RecordState holds every fitted artifact.
type RecordState struct {
	ColumnsUsed            []string            `json:"columns_used"`
	Medians                []float64           `json:"medians"`
	Means                  []float64           `json:"means"`
	Scales                 []float64           `json:"scales"`
	Center                 []float64           `json:"center"`
	Components             [][]float64         `json:"components"`
	ExplainedVarianceRatio []float64           `json:"explained_variance_ratio"`
	ComponentTopFeatures   map[string][]string `json:"component_top_features"`
}

// NComponents returns the number of retained components.
func (r *Record) NComponents() int {
	return len(r.State.Components)
}

func (s *state) record() RecordState {
	comps := make([][]float64, len(s.components))
	for k, v := range s.components {
		comps[k] = append([]float64(nil), v...)
	}
	return RecordState{
		ColumnsUsed:            append([]string(nil), s.columnsUsed...),
		Medians:                append([]float64(nil), s.medians...),
		Means:                  append([]float64(nil), s.means...),
		Scales:                 append([]float64(nil), s.scales...),
		Center:                 append([]float64(nil), s.center...),
		Components:             comps,
		ExplainedVarianceRatio: append([]float64(nil), s.ratios...),
		ComponentTopFeatures:   copyFeatures(s.topFeatures),
	}
}

// fingerprint hashes the fitted artifacts. Map keys are sorted by
// encoding/json, so equal states hash equally.
func fingerprint(rs RecordState) string {
	data, err := json.Marshal(rs)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}

// Export snapshots the fitted state and its options as a Record.
func (e *Engine) Export() (*Record, error) {
	s := e.current.Load()
	if s == nil {
		return nil, &UnfittedModelError{}
	}
	return s.export(), nil
}

func (s *state) export() *Record {
	return &Record{
		Schema:        RecordSchema,
		SchemaVersion: RecordSchemaVersion,
		ModelVersion:  s.opts.ModelVersion,
		CreatedAt:     s.fittedAt,
		Fingerprint:   s.fingerprint,
		Config:        s.opts.withDefaults(),
		State:         s.record(),
	}
}

// Restore builds a fitted Engine from a record. The engine's options are the
// record's config, so later fits follow the same recipe.
func Restore(rec *Record) (*Engine, error) {
	if rec == nil {
		return nil, &ValidationError{Msg: "nil record"}
	}
	e, err := New(rec.Config)
	if err != nil {
		return nil, err
	}
	if err := e.Load(rec); err != nil {
		return nil, err
	}
	return e, nil
}

// Load replaces the fitted state with the one in rec. The record's config
// travels with its state, so transform output after Load matches the engine
// that exported it.
func (e *Engine) Load(rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	opts := rec.Config.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}

	rs := rec.State
	comps := make([][]float64, len(rs.Components))
	for k, v := range rs.Components {
		comps[k] = append([]float64(nil), v...)
	}
	s := &state{
		opts:        opts,
		columnsUsed: append([]string(nil), rs.ColumnsUsed...),
		medians:     append([]float64(nil), rs.Medians...),
		means:       append([]float64(nil), rs.Means...),
		scales:      append([]float64(nil), rs.Scales...),
		center:      append([]float64(nil), rs.Center...),
		components:  comps,
		ratios:      append([]float64(nil), rs.ExplainedVarianceRatio...),
		topFeatures: copyFeatures(rs.ComponentTopFeatures),
		fittedAt:    rec.CreatedAt,
	}
	s.fingerprint = fingerprint(s.record())
	if rec.Fingerprint != "" && rec.Fingerprint != s.fingerprint {
		return &ValidationError{Msg: fmt.Sprintf("record fingerprint %s does not match state %s", rec.Fingerprint, s.fingerprint)}
	}

	e.fitMu.Lock()
	e.current.Store(s)
	e.fitMu.Unlock()
	return nil
}

func validateRecord(rec *Record) error {
	if rec == nil {
		return &ValidationError{Msg: "nil record"}
	}
	if rec.Schema != RecordSchema {
		return &ValidationError{Msg: fmt.Sprintf("unknown record schema %q", rec.Schema)}
	}
	if rec.SchemaVersion != RecordSchemaVersion {
		return &ValidationError{Msg: fmt.Sprintf("unsupported record schema version %d", rec.SchemaVersion)}
	}

	rs := rec.State
	p := len(rs.ColumnsUsed)
	if p == 0 {
		return &ValidationError{Msg: "record has no columns_used"}
	}
	for name, v := range map[string][]float64{
		"medians": rs.Medians,
		"means":   rs.Means,
		"scales":  rs.Scales,
		"center":  rs.Center,
	} {
		if len(v) != p {
			return &ValidationError{Msg: fmt.Sprintf("record %s has %d values, want %d", name, len(v), p)}
		}
		if !allFinite(v) {
			return &ValidationError{Msg: fmt.Sprintf("record %s has non-finite values", name)}
		}
	}
	for j, sc := range rs.Scales {
		if sc == 0 {
			return &ValidationError{Msg: fmt.Sprintf("record scale for %s is zero", rs.ColumnsUsed[j])}
		}
	}

	k := len(rs.Components)
	if k == 0 {
		return &ValidationError{Msg: "record has no components"}
	}
	if len(rs.ExplainedVarianceRatio) != k {
		return &ValidationError{Msg: fmt.Sprintf("record has %d variance ratios for %d components", len(rs.ExplainedVarianceRatio), k)}
	}
	for i, vec := range rs.Components {
		if len(vec) != p {
			return &ValidationError{Msg: fmt.Sprintf("record component %d has %d weights, want %d", i+1, len(vec), p)}
		}
		if !allFinite(vec) {
			return &ValidationError{Msg: fmt.Sprintf("record component %d has non-finite weights", i+1)}
		}
	}
	return validateTopFeatures(rs.ComponentTopFeatures, rs.ColumnsUsed, k)
}

// validateTopFeatures requires one non-empty ranking per retained component,
// naming only columns the record uses.
func validateTopFeatures(top map[string][]string, columns []string, k int) error {
	if len(top) != k {
		return &ValidationError{Msg: fmt.Sprintf("record has %d component_top_features entries for %d components", len(top), k)}
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	for i := 0; i < k; i++ {
		pc := componentName(i)
		names, ok := top[pc]
		if !ok {
			return &ValidationError{Msg: fmt.Sprintf("record component_top_features has no entry for %s", pc)}
		}
		if len(names) == 0 {
			return &ValidationError{Msg: fmt.Sprintf("record component_top_features for %s is empty", pc)}
		}
		for _, name := range names {
			if !known[name] {
				return &ValidationError{Msg: fmt.Sprintf("record component_top_features for %s names %q, which is not in columns_used", pc, name)}
			}
		}
	}
	return nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// WriteRecord encodes rec as indented JSON.
func WriteRecord(w io.Writer, rec *Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(rec), "recommender: encode record")
}

// ReadRecord decodes a record written by WriteRecord. Schema checks happen on
// Restore or Load.
func ReadRecord(r io.Reader) (*Record, error) {
	var rec Record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, eris.Wrap(err, "recommender: decode record")
	}
	return &rec, nil
}
