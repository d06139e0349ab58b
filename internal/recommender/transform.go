package recommender

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// NoRecommendation is the intervention reported for a row with no
// resolvable indicator.
const NoRecommendation = "No recommendation"

// Recommendation is the per-zone output of Transform. WorstFeature and
// WorstFeatureZ are nil when no indicator could be evaluated.
type Recommendation struct {
	ZoneID                  string   `json:"zone_id,omitempty"`
	WeakComponent           string   `json:"weak_component"`
	WeakScore               float64  `json:"weak_score"`
	WorstFeature            *string  `json:"worst_feature"`
	WorstFeatureZ           *float64 `json:"worst_feature_z"`
	RecommendedIntervention string   `json:"recommended_intervention"`
}

// Loading is one component's weight per column of ColumnsUsed.
type Loading struct {
	Component string    `json:"component"`
	Weights   []float64 `json:"weights"`
}

// Result is returned by Transform.
type Result struct {
	ModelVersion         string              `json:"model_version"`
	ColumnsUsed          []string            `json:"columns_used"`
	ExplainedVariance    []ExplainedVariance `json:"explained_variance"`
	ComponentTopFeatures map[string][]string `json:"component_top_features"`
	Recommendations      []Recommendation    `json:"recommendations"`
	// Scores holds every component score per row, aligned with Recommendations.
	Scores   [][]float64 `json:"scores,omitempty"`
	Loadings []Loading   `json:"loadings,omitempty"`
}

// Transform scores every row of t against the fitted state and recommends an
// intervention per row. Columns the model uses but t lacks are treated as
// missing and imputed. Exactly one recommendation is produced per input row.
func (e *Engine) Transform(t *indicator.Table) (*Result, error) {
	s := e.current.Load()
	if s == nil {
		return nil, &UnfittedModelError{}
	}
	return s.transform(t), nil
}

func (s *state) transform(t *indicator.Table) *Result {
	res := &Result{
		ModelVersion:         s.opts.ModelVersion,
		ColumnsUsed:          append([]string(nil), s.columnsUsed...),
		ExplainedVariance:    s.explained(),
		ComponentTopFeatures: copyFeatures(s.topFeatures),
		Recommendations:      make([]Recommendation, 0, t.Len()),
		Scores:               make([][]float64, 0, t.Len()),
		Loadings:             s.loadings(),
	}
	if t.Len() == 0 {
		return res
	}

	z := s.standardized(t)
	for i := 0; i < t.Len(); i++ {
		row := s.project(z, i)
		rec := s.recommend(z, i, row)
		rec.ZoneID = t.ID(i)
		res.Recommendations = append(res.Recommendations, rec)
		res.Scores = append(res.Scores, row)
	}
	return res
}

// recommend picks the weakest component for row i (minimum score) and, among
// that component's top features, the indicator with the lowest standardized
// value.
func (s *state) recommend(z *mat.Dense, i int, scores []float64) Recommendation {
	weak := 0
	for k := range scores {
		if scores[k] < scores[weak] {
			weak = k
		}
	}
	pc := componentName(weak)
	rec := Recommendation{
		WeakComponent:           pc,
		WeakScore:               scores[weak],
		RecommendedIntervention: NoRecommendation,
	}

	candidates := s.resolve(s.topFeatures[pc])
	if len(candidates) == 0 {
		zap.L().Debug("recommender: no top features resolvable, evaluating all columns",
			zap.Int("row", i),
			zap.String("component", pc),
		)
		candidates = s.resolve(s.columnsUsed)
	}
	if len(candidates) == 0 {
		return rec
	}

	worst := candidates[0]
	for _, j := range candidates[1:] {
		if z.At(i, j) < z.At(i, worst) {
			worst = j
		}
	}
	name := s.columnsUsed[worst]
	value := z.At(i, worst)
	rec.WorstFeature = &name
	rec.WorstFeatureZ = &value
	rec.RecommendedIntervention = s.intervention(name)
	return rec
}

// resolve maps names to column indices, skipping names the model does not use.
func (s *state) resolve(names []string) []int {
	var out []int
	for _, n := range names {
		for j, c := range s.columnsUsed {
			if c == n {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

func (s *state) intervention(feature string) string {
	if v, ok := s.opts.Interventions[feature]; ok {
		return v
	}
	return fmt.Sprintf("Improve '%s'", feature)
}

func (s *state) loadings() []Loading {
	out := make([]Loading, len(s.components))
	for k, vec := range s.components {
		out[k] = Loading{
			Component: componentName(k),
			Weights:   append([]float64(nil), vec...),
		}
	}
	return out
}
