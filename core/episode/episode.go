package episode

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how an episode ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Episode is a complete record of one unit of agent work. It is the unit of
// memory: the durable store owns the canonical record, the cache holds a
// time-limited copy, and the spatiotemporal index holds only denormalized
// keys plus the embedding.
type Episode struct {
	ID          uuid.UUID         `json:"id"`
	Domain      string            `json:"domain"`
	TaskType    string            `json:"task_type"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`

	Outcome Outcome `json:"outcome"`
	Reward  float64 `json:"reward"`

	// Embedding is optional. When present it must have been generated from
	// the same text used for domain/task classification.
	Embedding []float32 `json:"embedding,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates an episode with a fresh ID and the start time set to now.
func New(domain, taskType, description string) *Episode {
	return &Episode{
		ID:          uuid.New(),
		Domain:      domain,
		TaskType:    taskType,
		Description: description,
		StartTime:   time.Now().UTC(),
		Outcome:     OutcomeUnknown,
	}
}

// Complete marks the episode finished with the given outcome and reward.
func (e *Episode) Complete(outcome Outcome, reward float64) {
	e.EndTime = time.Now().UTC()
	e.Outcome = outcome
	e.Reward = reward
}

// IsComplete reports whether the episode has ended.
func (e *Episode) IsComplete() bool {
	return !e.EndTime.IsZero()
}

// Duration returns the elapsed time between start and end. Zero if the
// episode is still in progress.
func (e *Episode) Duration() time.Duration {
	if e.EndTime.IsZero() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// HasEmbedding reports whether the episode carries an embedding vector.
func (e *Episode) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// Validate checks structural invariants before the episode is accepted for
// storage.
func (e *Episode) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("episode ID must not be nil")
	}
	if e.Domain == "" {
		return fmt.Errorf("episode %s: domain must not be empty", e.ID)
	}
	if e.TaskType == "" {
		return fmt.Errorf("episode %s: task type must not be empty", e.ID)
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("episode %s: start time must be set", e.ID)
	}
	if !e.EndTime.IsZero() && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("episode %s: end time precedes start time", e.ID)
	}
	return nil
}

// Clone returns a deep copy. The coordinator hands clones to the cache and
// index so callers can keep mutating their copy safely.
func (e *Episode) Clone() *Episode {
	clone := *e
	if e.Embedding != nil {
		clone.Embedding = make([]float32, len(e.Embedding))
		copy(clone.Embedding, e.Embedding)
	}
	if e.Context != nil {
		clone.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			clone.Context[k] = v
		}
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
