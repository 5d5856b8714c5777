package embedding

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// CosineSimilarity computes the cosine similarity between two vectors,
// returning a value in [-1, 1]. Returns 0 when either vector is absent, has
// zero magnitude, or the dimensions disagree: a missing embedding is a
// zero-contribution signal, never a hard failure.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}

	return float64(vek32.Dot(a, b)) / (normA * normB)
}

// NormalizedCosine maps cosine similarity from [-1, 1] into [0, 1] so it can
// be blended with the other scoring terms.
func NormalizedCosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	return (CosineSimilarity(a, b) + 1.0) / 2.0
}
