package indicator

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Row maps indicator names to raw values. Values are coerced to numbers only
// when the recommender reads them, see Float.
type Row map[string]any

// Table is an ordered sequence of indicator rows, one per zone.
type Table struct {
	// Columns optionally declares the header of the source. A column is
	// present when it is declared here or appears as a key in any row.
	Columns []string `json:"columns,omitempty"`
	Rows    []Row    `json:"rows"`
	// IDs holds zone identifiers aligned with Rows. It may be nil.
	IDs []string `json:"ids,omitempty"`
}

// NewTable builds a table from rows, deriving nothing up front.
func NewTable(rows []Row) *Table {
	return &Table{Rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ID returns the zone identifier for row i, or "" when none is known.
func (t *Table) ID(i int) string {
	if t == nil || i < 0 || i >= len(t.IDs) {
		return ""
	}
	return t.IDs[i]
}

// ColumnSet returns every column present in the table.
func (t *Table) ColumnSet() map[string]struct{} {
	set := make(map[string]struct{})
	if t == nil {
		return set
	}
	for _, c := range t.Columns {
		set[c] = struct{}{}
	}
	for _, r := range t.Rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	return set
}

// Has reports whether column is present in the table.
func (t *Table) Has(column string) bool {
	_, ok := t.ColumnSet()[column]
	return ok
}

// Append concatenates other onto t. Declared columns are unioned in first-seen
// order. IDs are kept aligned; rows without an id get "".
func (t *Table) Append(other *Table) {
	if other == nil {
		return
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		seen[c] = struct{}{}
	}
	for _, c := range other.Columns {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			t.Columns = append(t.Columns, c)
		}
	}

	if t.IDs != nil || other.IDs != nil {
		for len(t.IDs) < len(t.Rows) {
			t.IDs = append(t.IDs, "")
		}
		for i := range other.Rows {
			t.IDs = append(t.IDs, other.ID(i))
		}
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// Float coerces a raw cell to a number. Anything that is not a finite number
// (nil, blank, unparseable text, NaN, ±Inf, unsupported types) is reported as
// missing rather than as an error.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case *float64:
		if x == nil {
			return 0, false
		}
		f = *x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
