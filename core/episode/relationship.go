package episode

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelationType classifies a directed edge between two episodes.
type RelationType string

const (
	RelationCausedBy        RelationType = "caused-by"
	RelationPrerequisiteFor RelationType = "prerequisite-for"
	RelationRelatedTo       RelationType = "related-to"
	RelationSimilarTo       RelationType = "similar-to"
	RelationFollows         RelationType = "follows"
	RelationDuplicates      RelationType = "duplicates"
)

// Directional reports whether the relation type carries meaning in one
// direction only. Symmetric types (related-to, similar-to, duplicates) do
// not.
func (rt RelationType) Directional() bool {
	switch rt {
	case RelationCausedBy, RelationPrerequisiteFor, RelationFollows:
		return true
	default:
		return false
	}
}

// Valid reports whether the relation type is one of the known values.
func (rt RelationType) Valid() bool {
	switch rt {
	case RelationCausedBy, RelationPrerequisiteFor, RelationRelatedTo,
		RelationSimilarTo, RelationFollows, RelationDuplicates:
		return true
	default:
		return false
	}
}

// Relationship is a typed, directed edge between two episodes. The
// (From, To, Type) triple is unique; both endpoints must reference stored
// episodes, and deleting either endpoint deletes the edge.
type Relationship struct {
	From      uuid.UUID         `json:"from"`
	To        uuid.UUID         `json:"to"`
	Type      RelationType      `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewRelationship creates an edge with the creation time set to now.
func NewRelationship(from, to uuid.UUID, relType RelationType) *Relationship {
	return &Relationship{
		From:      from,
		To:        to,
		Type:      relType,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks edge invariants before storage.
func (r *Relationship) Validate() error {
	if r.From == uuid.Nil || r.To == uuid.Nil {
		return fmt.Errorf("relationship endpoints must not be nil")
	}
	if r.From == r.To {
		return fmt.Errorf("relationship %s must not be self-referential", r.From)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("unknown relationship type %q", r.Type)
	}
	return nil
}
