package recommender

import (
	"fmt"
	"strings"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultVarTarget    = 0.80
	DefaultTopK         = 5
	DefaultModelVersion = "v1.0"
)

// Options fixes the analysis recipe for an Engine. They are set at
// construction and never change afterwards.
type Options struct {
	// Columns is the ordered reference indicator list.
	Columns []string `json:"columns"`
	// Interventions maps indicator names to intervention descriptions.
	Interventions map[string]string `json:"interventions"`
	// VarTarget is the cumulative explained-variance fraction to retain, in (0, 1].
	VarTarget float64 `json:"var_target"`
	// TopK is how many indicators are ranked per component.
	TopK int `json:"top_k_loadings"`
	// ModelVersion is an opaque label echoed in transform output.
	ModelVersion string `json:"model_version"`
}

// DefaultOptions returns the built-in recipe.
func DefaultOptions() Options {
	return Options{
		Columns:       indicator.DefaultColumns(),
		Interventions: indicator.DefaultInterventions(),
		VarTarget:     DefaultVarTarget,
		TopK:          DefaultTopK,
		ModelVersion:  DefaultModelVersion,
	}
}

// withDefaults fills zero-valued fields and deep-copies slices and maps so the
// engine never shares them with the caller.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	out := Options{
		VarTarget:    o.VarTarget,
		TopK:         o.TopK,
		ModelVersion: o.ModelVersion,
	}
	if len(o.Columns) == 0 {
		out.Columns = def.Columns
	} else {
		out.Columns = append([]string(nil), o.Columns...)
	}
	if o.Interventions == nil {
		out.Interventions = def.Interventions
	} else {
		out.Interventions = make(map[string]string, len(o.Interventions))
		for k, v := range o.Interventions {
			out.Interventions[k] = v
		}
	}
	if out.VarTarget == 0 {
		out.VarTarget = def.VarTarget
	}
	if out.TopK == 0 {
		out.TopK = def.TopK
	}
	if out.ModelVersion == "" {
		out.ModelVersion = def.ModelVersion
	}
	return out
}

// Validate checks that the options are internally consistent.
func (o Options) Validate() error {
	var problems []string

	if len(o.Columns) == 0 {
		problems = append(problems, "columns must not be empty")
	}
	seen := make(map[string]struct{}, len(o.Columns))
	for _, c := range o.Columns {
		if strings.TrimSpace(c) == "" {
			problems = append(problems, "columns must not contain blank names")
			continue
		}
		if _, dup := seen[c]; dup {
			problems = append(problems, fmt.Sprintf("duplicate column %q", c))
		}
		seen[c] = struct{}{}
	}
	if !(o.VarTarget > 0 && o.VarTarget <= 1) {
		problems = append(problems, fmt.Sprintf("var_target must be in (0, 1], got %v", o.VarTarget))
	}
	if o.TopK < 1 {
		problems = append(problems, fmt.Sprintf("top_k_loadings must be >= 1, got %d", o.TopK))
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
