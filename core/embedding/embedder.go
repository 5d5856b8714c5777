// Package embedding defines the boundary contract with the external
// embedding source and the similarity metric used across the retrieval
// engine. The engine only ever consumes vectors; generation lives behind the
// Embedder interface, and an unavailable embedder degrades embedding terms
// to zero contribution rather than failing retrieval.
package embedding

import "context"

// Embedder produces fixed-dimension vectors for episode text.
type Embedder interface {
	// Embed generates an embedding for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension
	Dimension() int
}
