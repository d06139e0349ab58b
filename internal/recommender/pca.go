package recommender

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// decomposition is a full principal-component fit of a standardized matrix.
type decomposition struct {
	center     []float64   // column means of the input, subtracted before projection
	components [][]float64 // one unit loading vector per component, descending variance
	ratios     []float64   // explained variance ratio per component
}

// decompose computes every principal component of z with a thin SVD. The
// solver is deterministic and each component's sign is fixed so that its
// largest absolute loading is positive, which makes repeated fits on the same
// data identical.
func decompose(z *mat.Dense) (*decomposition, error) {
	r, c := z.Dims()

	center := make([]float64, c)
	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += z.At(i, j)
		}
		center[j] = sum / float64(r)
	}

	zc := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			zc.Set(i, j, z.At(i, j)-center[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(zc, mat.SVDThin); !ok {
		return nil, eris.New("recommender: singular value decomposition failed")
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	var total float64
	for _, s := range values {
		total += s * s
	}

	d := &decomposition{
		center:     center,
		components: make([][]float64, len(values)),
		ratios:     make([]float64, len(values)),
	}
	for k, s := range values {
		vec := make([]float64, c)
		for j := 0; j < c; j++ {
			vec[j] = v.At(j, k)
		}
		flipSign(vec)
		d.components[k] = vec
		if total > 0 {
			d.ratios[k] = s * s / total
		}
	}
	return d, nil
}

// flipSign negates vec when its largest absolute entry is negative. Ties go
// to the first index.
func flipSign(vec []float64) {
	best := 0
	for j := range vec {
		if math.Abs(vec[j]) > math.Abs(vec[best]) {
			best = j
		}
	}
	if len(vec) > 0 && vec[best] < 0 {
		for j := range vec {
			vec[j] = -vec[j]
		}
	}
}

// selectComponents returns the smallest n whose cumulative ratio reaches
// target. It never returns less than 1, and returns every component when the
// target is out of reach (floating-point shortfall at target 1.0, or a matrix
// with no variance at all, which keeps a single component).
func selectComponents(ratios []float64, target float64) int {
	var cum, total float64
	for _, r := range ratios {
		total += r
	}
	if total == 0 || len(ratios) == 0 {
		return 1
	}
	for i, r := range ratios {
		cum += r
		if cum >= target {
			return i + 1
		}
	}
	return len(ratios)
}

// rankFeatures returns, for each component, the topK column names ordered by
// descending absolute loading. Equal weights keep column order.
func rankFeatures(components [][]float64, columns []string, topK int) map[string][]string {
	out := make(map[string][]string, len(components))
	for k, vec := range components {
		idx := make([]int, len(columns))
		for j := range idx {
			idx[j] = j
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return math.Abs(vec[idx[a]]) > math.Abs(vec[idx[b]])
		})
		n := topK
		if n > len(idx) {
			n = len(idx)
		}
		names := make([]string, n)
		for i := 0; i < n; i++ {
			names[i] = columns[idx[i]]
		}
		out[componentName(k)] = names
	}
	return out
}

// componentName is the 1-based public identifier of component k.
func componentName(k int) string {
	return fmt.Sprintf("PC%d", k+1)
}
