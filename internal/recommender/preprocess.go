package recommender

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/urban-recommender/internal/indicator"
)

// reconcile intersects the table's columns with the reference list, keeping
// the reference order.
func reconcile(reference []string, t *indicator.Table) []string {
	present := t.ColumnSet()
	var used []string
	for _, c := range reference {
		if _, ok := present[c]; ok {
			used = append(used, c)
		}
	}
	return used
}

// buildMatrix lays the table out as rows x columns. Columns absent from the
// table and values that do not coerce to a number become NaN.
func buildMatrix(t *indicator.Table, columns []string) *mat.Dense {
	x := mat.NewDense(len(t.Rows), len(columns), nil)
	for i, row := range t.Rows {
		for j, c := range columns {
			v, ok := indicator.Float(row[c])
			if !ok {
				v = math.NaN()
			}
			x.Set(i, j, v)
		}
	}
	return x
}

// fitMedians returns the median of the present values of each column. A
// column with no present values gets 0.
func fitMedians(x *mat.Dense) (medians []float64, empty []int) {
	r, c := x.Dims()
	medians = make([]float64, c)
	vals := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		vals = vals[:0]
		for i := 0; i < r; i++ {
			if v := x.At(i, j); !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			empty = append(empty, j)
			continue
		}
		medians[j] = median(vals)
	}
	return medians, empty
}

// median sorts vals in place.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// impute replaces NaN cells with the column fill value, in place.
func impute(x *mat.Dense, fill []float64) {
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(x.At(i, j)) {
				x.Set(i, j, fill[j])
			}
		}
	}
}

// fitScaler returns per-column means and scales using the population
// standard deviation. Constant columns get a scale of 1, so they standardize
// to 0 after centering instead of dividing by zero.
func fitScaler(x *mat.Dense) (means, scales []float64) {
	r, c := x.Dims()
	n := float64(r)
	means = make([]float64, c)
	scales = make([]float64, c)
	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += x.At(i, j)
		}
		mean := sum / n

		var ss float64
		for i := 0; i < r; i++ {
			d := x.At(i, j) - mean
			ss += d * d
		}
		variance := ss / n

		means[j] = mean
		if isConstant(variance, mean, n) {
			scales[j] = 1
		} else {
			scales[j] = math.Sqrt(variance)
		}
	}
	return means, scales
}

// isConstant treats a variance within floating-point noise of zero as zero.
func isConstant(variance, mean, n float64) bool {
	const eps = 2.220446049250313e-16
	bound := n*eps*variance + (n*mean*eps)*(n*mean*eps)
	return variance <= bound
}

// standardize centers and scales x in place.
func standardize(x *mat.Dense, means, scales []float64) {
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x.Set(i, j, (x.At(i, j)-means[j])/scales[j])
		}
	}
}
