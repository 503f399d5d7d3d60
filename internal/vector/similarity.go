package vector

import (
	"cmp"
	"math"
	"slices"
)

// Cosine returns the cosine similarity of a and b. Zero-length or zero-norm
// input yields 0.
func Cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Rank orders results by descending score, ascending ID on ties, and keeps
// at most limit of them.
func Rank(results []SearchResult, limit int) []SearchResult {
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
