package embed

import "math"

// Test-only vector helpers shared across the package's suites.

// vectorMagnitude returns the Euclidean norm of v.
func vectorMagnitude(v []float32) float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	return math.Sqrt(sumSquares)
}

// cosineSimilarity scores two vectors; mismatched lengths and zero
// vectors score 0 rather than erroring, mirroring how the scoring paths
// treat degenerate inputs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / math.Sqrt(normA*normB)
}
