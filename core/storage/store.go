// Package storage provides durable episode persistence. The durable store
// owns the canonical episode record; the cache and spatiotemporal index only
// ever hold copies derived from it.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
)

// DurableStore is the boundary contract with the persistence backend.
// Implementations must be safe for concurrent use.
type DurableStore interface {
	// Write persists an episode, replacing any existing record with the
	// same ID.
	Write(ctx context.Context, ep *episode.Episode) error

	// Read loads an episode by ID. Returns errors.ErrNotFound when absent.
	Read(ctx context.Context, id uuid.UUID) (*episode.Episode, error)

	// Delete removes an episode and, by cascade, every relationship edge
	// referencing it. Returns errors.ErrNotFound when absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// ScanAll streams every stored episode to fn. Each call starts a fresh
	// scan; fn returning an error stops the scan and propagates it. This
	// is the legacy flat-scan retrieval path.
	ScanAll(ctx context.Context, fn func(*episode.Episode) error) error

	// WriteRelationship persists a relationship edge. Both endpoints must
	// exist; the (from, to, type) triple is unique and replaced on
	// rewrite.
	WriteRelationship(ctx context.Context, rel *episode.Relationship) error

	// Relationships returns every edge touching the given episode, in
	// either direction.
	Relationships(ctx context.Context, id uuid.UUID) ([]*episode.Relationship, error)

	// DeleteRelationship removes a single edge. Absent edges are a no-op.
	DeleteRelationship(ctx context.Context, from, to uuid.UUID, relType episode.RelationType) error

	// Close releases the backing resources.
	Close() error
}
