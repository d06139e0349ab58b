// Package recommender ranks urban infrastructure deficiencies per zone. It
// imputes and standardizes indicator tables, extracts principal components
// up to a variance target, and maps each zone's weakest indicator to an
// intervention.
package recommender

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// StatusOK is the status reported by a successful fit.
const StatusOK = "ok"

// ExplainedVariance describes one retained component.
type ExplainedVariance struct {
	Component              string  `json:"component"`
	ExplainedVarianceRatio float64 `json:"explained_variance_ratio"`
	CumulativeVariance     float64 `json:"cumulative_variance"`
}

// FitSummary is returned by Fit.
type FitSummary struct {
	Status            string              `json:"status"`
	NComponents       int                 `json:"n_components"`
	ExplainedVariance []ExplainedVariance `json:"explained_variance"`
	ColumnsUsed       []string            `json:"columns_used"`
}

// state is an immutable fitted snapshot. Every field is derived from the same
// fit, so it is only ever replaced as a whole.
type state struct {
	opts        Options
	columnsUsed []string
	medians     []float64
	means       []float64
	scales      []float64
	center      []float64
	components  [][]float64
	ratios      []float64
	topFeatures map[string][]string
	fingerprint string
	fittedAt    time.Time
}

// Engine owns the fit/transform lifecycle. Fit calls are serialized and
// publish a new snapshot atomically; Transform reads whichever snapshot is
// current without locking, so concurrent callers always see complete state.
type Engine struct {
	opts    Options
	fitMu   sync.Mutex
	current atomic.Pointer[state]
}

// New creates an unfitted Engine. Zero-valued option fields take defaults.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts}, nil
}

// Options returns a copy of the options used for new fits.
func (e *Engine) Options() Options {
	return e.opts.withDefaults()
}

// Fitted reports whether a fitted snapshot is available.
func (e *Engine) Fitted() bool {
	return e.current.Load() != nil
}

// Fit learns imputation, standardization and component parameters from t and
// replaces any previous fitted state.
func (e *Engine) Fit(t *indicator.Table) (*FitSummary, error) {
	_, summary, err := e.fit(t)
	return summary, err
}

// FitRecord fits on t and returns the summary together with the record of
// the snapshot that fit published. A concurrent Fit cannot swap the record.
func (e *Engine) FitRecord(t *indicator.Table) (*FitSummary, *Record, error) {
	s, summary, err := e.fit(t)
	if err != nil {
		return nil, nil, err
	}
	return summary, s.export(), nil
}

// FitTransform fits on t and then transforms the same table with the state
// that fit produced.
func (e *Engine) FitTransform(t *indicator.Table) (*FitSummary, *Result, error) {
	s, summary, err := e.fit(t)
	if err != nil {
		return nil, nil, err
	}
	return summary, s.transform(t), nil
}

// fit builds and publishes a new snapshot.
func (e *Engine) fit(t *indicator.Table) (*state, *FitSummary, error) {
	e.fitMu.Lock()
	defer e.fitMu.Unlock()

	if t.Len() == 0 {
		return nil, nil, &ValidationError{Msg: "fit table has no rows"}
	}
	used := reconcile(e.opts.Columns, t)
	if len(used) == 0 {
		return nil, nil, &ConfigurationError{Problems: []string{"none of the expected indicator columns are present"}}
	}

	x := buildMatrix(t, used)
	medians, empty := fitMedians(x)
	for _, j := range empty {
		zap.L().Warn("recommender: indicator has no values in fit data, imputing 0",
			zap.String("column", used[j]),
		)
	}
	impute(x, medians)
	means, scales := fitScaler(x)
	standardize(x, means, scales)

	d, err := decompose(x)
	if err != nil {
		return nil, nil, err
	}
	n := selectComponents(d.ratios, e.opts.VarTarget)

	s := &state{
		opts:        e.opts,
		columnsUsed: used,
		medians:     medians,
		means:       means,
		scales:      scales,
		center:      d.center,
		components:  d.components[:n:n],
		ratios:      d.ratios[:n:n],
		topFeatures: rankFeatures(d.components[:n], used, e.opts.TopK),
		fittedAt:    time.Now().UTC(),
	}
	s.fingerprint = fingerprint(s.record())
	e.current.Store(s)

	summary := &FitSummary{
		Status:            StatusOK,
		NComponents:       n,
		ExplainedVariance: s.explained(),
		ColumnsUsed:       append([]string(nil), used...),
	}

	zap.L().Info("recommender: fit complete",
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(used)),
		zap.Int("components", n),
		zap.Float64("cumulative_variance", summary.ExplainedVariance[n-1].CumulativeVariance),
		zap.String("fingerprint", s.fingerprint),
	)
	return s, summary, nil
}

// ModelInfo describes the current fitted snapshot.
type ModelInfo struct {
	ModelVersion         string              `json:"model_version"`
	Fingerprint          string              `json:"fingerprint"`
	FittedAt             time.Time           `json:"fitted_at"`
	ColumnsUsed          []string            `json:"columns_used"`
	ExplainedVariance    []ExplainedVariance `json:"explained_variance"`
	ComponentTopFeatures map[string][]string `json:"component_top_features"`
}

// Model describes the fitted snapshot, or fails with UnfittedModelError.
func (e *Engine) Model() (*ModelInfo, error) {
	s := e.current.Load()
	if s == nil {
		return nil, &UnfittedModelError{}
	}
	return &ModelInfo{
		ModelVersion:         s.opts.ModelVersion,
		Fingerprint:          s.fingerprint,
		FittedAt:             s.fittedAt,
		ColumnsUsed:          append([]string(nil), s.columnsUsed...),
		ExplainedVariance:    s.explained(),
		ComponentTopFeatures: copyFeatures(s.topFeatures),
	}, nil
}

func (s *state) explained() []ExplainedVariance {
	out := make([]ExplainedVariance, len(s.ratios))
	var cum float64
	for k, r := range s.ratios {
		cum += r
		out[k] = ExplainedVariance{
			Component:              componentName(k),
			ExplainedVarianceRatio: r,
			CumulativeVariance:     cum,
		}
	}
	return out
}

// standardized applies the fitted imputation and scaling to t.
func (s *state) standardized(t *indicator.Table) *mat.Dense {
	x := buildMatrix(t, s.columnsUsed)
	impute(x, s.medians)
	standardize(x, s.means, s.scales)
	return x
}

// project returns the component scores of standardized row i. Each score is
// a plain dot product, so a row scores identically in any batch.
func (s *state) project(z *mat.Dense, i int) []float64 {
	_, c := z.Dims()
	scores := make([]float64, len(s.components))
	for k, vec := range s.components {
		var sum float64
		for j := 0; j < c; j++ {
			sum += (z.At(i, j) - s.center[j]) * vec[j]
		}
		scores[k] = sum
	}
	return scores
}

func copyFeatures(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
