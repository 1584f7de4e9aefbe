package rank

import "math"

// Cosine returns the cosine similarity of two dense vectors.
//
// Returns 0.0 if either vector is empty, the lengths differ, or either norm
// is zero. Never returns NaN. Norms are recomputed per comparison; store
// sizes are small enough that caching is not worth the bookkeeping.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
