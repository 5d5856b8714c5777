package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// HashingEmbedder is a deterministic, dependency-free Embedder backed by
// feature hashing. It exists for tests and for running the engine without an
// external embedding service: identical text always produces identical
// vectors, and token overlap produces correlated vectors.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a hashing embedder with the given dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingEmbedder{dimension: dimension}
}

// Embed hashes whitespace tokens into a normalized vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		slot := binary.BigEndian.Uint32(sum[:4]) % uint32(h.dimension)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[slot] += sign
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimension returns the configured vector dimension.
func (h *HashingEmbedder) Dimension() int {
	return h.dimension
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
