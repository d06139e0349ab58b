package indicator

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// interventionsFile is the on-disk layout of a custom intervention map.
//
//	interventions:
//	  BANQUETA_C: Sidewalks & walkability
type interventionsFile struct {
	Interventions map[string]string `yaml:"interventions"`
}

// LoadInterventions reads an intervention map from a YAML file. Keys are
// indicator names and are kept case-sensitive.
func LoadInterventions(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "indicator: read interventions %s", path)
	}
	return ParseInterventions(data)
}

// ParseInterventions decodes an intervention map from YAML bytes.
func ParseInterventions(data []byte) (map[string]string, error) {
	var f interventionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "indicator: parse interventions")
	}
	if len(f.Interventions) == 0 {
		return nil, eris.New("indicator: interventions file has no entries")
	}
	out := make(map[string]string, len(f.Interventions))
	for k, v := range f.Interventions {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, eris.New("indicator: empty indicator name in interventions")
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
