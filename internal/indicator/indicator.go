// Package indicator defines the urban infrastructure indicators understood by
// the recommender, the intervention each one maps to, and the tables that
// carry indicator values per zone.
package indicator

// defaultColumns is the reference indicator list. Order matters: it decides
// the order of columns_used after reconciliation.
var defaultColumns = []string{
	"GRAPROES", "GRAPROES_F", "GRAPROES_M", "RECUCALL_C", "RAMPAS_C", "PASOPEAT_C",
	"BANQUETA_C", "GUARNICI_C", "CICLOVIA_C", "CICLOCAR_C", "ALUMPUB_C", "LETRERO_C",
	"TELPUB_C", "ARBOLES_C", "DRENAJEP_C", "TRANSCOL_C", "ACESOPER_C", "ACESOAUT_C",
}

// TRANSCOL_C has no entry; it falls back to a synthesized intervention.
var defaultInterventions = map[string]string{
	"GRAPROES":   "Escuelas",
	"GRAPROES_F": "Escuelas",
	"GRAPROES_M": "Escuelas",
	"ARBOLES_C":  "Urban forestry (arbolado / pocket parks / sombreaderos)",
	"BANQUETA_C": "Sidewalks & walkability (banquetas)",
	"PASOPEAT_C": "Crosswalks / cruces peatonales",
	"RAMPAS_C":   "Accessibility (rampas PMR)",
	"ALUMPUB_C":  "Public lighting (alumbrado)",
	"CICLOVIA_C": "Bike lanes (ciclovía)",
	"CICLOCAR_C": "Traffic calming / carriles bici-seguro",
	"DRENAJEP_C": "Stormwater / drenaje pluvial",
	"RECUCALL_C": "Street maintenance / recarpeteo",
	"GUARNICI_C": "Curbs / guarniciones",
	"LETRERO_C":  "Wayfinding & signage",
	"TELPUB_C":   "Street furniture / telecom",
	"ACESOPER_C": "Senderos operativos / servidumbres",
	"ACESOAUT_C": "Gestión de acceso vehicular",
}

// DefaultColumns returns a copy of the reference indicator list.
func DefaultColumns() []string {
	out := make([]string, len(defaultColumns))
	copy(out, defaultColumns)
	return out
}

// DefaultInterventions returns a copy of the built-in intervention map.
func DefaultInterventions() map[string]string {
	out := make(map[string]string, len(defaultInterventions))
	for k, v := range defaultInterventions {
		out[k] = v
	}
	return out
}
