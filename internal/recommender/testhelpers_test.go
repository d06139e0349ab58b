package recommender

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// randomTable builds n rows over every reference indicator with values in
// [0, 1), reproducible for a given seed.
func randomTable(n int, seed int64) *indicator.Table {
	rng := rand.New(rand.NewSource(seed))
	cols := indicator.DefaultColumns()
	rows := make([]indicator.Row, n)
	for i := range rows {
		row := make(indicator.Row, len(cols))
		for _, c := range cols {
			row[c] = rng.Float64()
		}
		rows[i] = row
	}
	return indicator.NewTable(rows)
}

// twoZoneTable is the two-row fixture with every reference indicator set.
func twoZoneTable() *indicator.Table {
	return indicator.NewTable([]indicator.Row{
		{
			"GRAPROES": 0.5, "GRAPROES_F": 0.45, "GRAPROES_M": 0.55, "RECUCALL_C": 0.6,
			"RAMPAS_C": 0.3, "PASOPEAT_C": 0.7, "BANQUETA_C": 0.7, "GUARNICI_C": 0.65,
			"CICLOVIA_C": 0.4, "CICLOCAR_C": 0.35, "ALUMPUB_C": 0.8, "LETRERO_C": 0.5,
			"TELPUB_C": 0.6, "ARBOLES_C": 0.55, "DRENAJEP_C": 0.7, "TRANSCOL_C": 0.45,
			"ACESOPER_C": 0.5, "ACESOAUT_C": 0.6,
		},
		{
			"GRAPROES": 0.6, "GRAPROES_F": 0.55, "GRAPROES_M": 0.65, "RECUCALL_C": 0.5,
			"RAMPAS_C": 0.4, "PASOPEAT_C": 0.6, "BANQUETA_C": 0.5, "GUARNICI_C": 0.55,
			"CICLOVIA_C": 0.3, "CICLOCAR_C": 0.25, "ALUMPUB_C": 0.7, "LETRERO_C": 0.4,
			"TELPUB_C": 0.5, "ARBOLES_C": 0.45, "DRENAJEP_C": 0.6, "TRANSCOL_C": 0.35,
			"ACESOPER_C": 0.4, "ACESOAUT_C": 0.5,
		},
	})
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func fittedEngine(t *testing.T, tbl *indicator.Table) *Engine {
	t.Helper()
	e := newTestEngine(t, Options{})
	_, err := e.Fit(tbl)
	require.NoError(t, err)
	return e
}
