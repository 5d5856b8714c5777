package episode

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Episode Unit Tests
// =============================================================================

func TestNew_SetsDefaults(t *testing.T) {
	ep := New("backend", "refactor", "split billing service")

	assert.NotEqual(t, uuid.Nil, ep.ID, "New should assign an ID")
	assert.Equal(t, "backend", ep.Domain)
	assert.Equal(t, "refactor", ep.TaskType)
	assert.Equal(t, OutcomeUnknown, ep.Outcome, "new episodes have unknown outcome")
	assert.False(t, ep.StartTime.IsZero(), "start time should be set")
	assert.False(t, ep.IsComplete(), "new episodes are in progress")
}

func TestEpisode_Complete(t *testing.T) {
	ep := New("backend", "refactor", "split billing service")
	ep.Complete(OutcomeSuccess, 0.9)

	assert.True(t, ep.IsComplete())
	assert.Equal(t, OutcomeSuccess, ep.Outcome)
	assert.Equal(t, 0.9, ep.Reward)
	assert.GreaterOrEqual(t, ep.Duration(), time.Duration(0))
}

func TestEpisode_Duration_InProgress(t *testing.T) {
	ep := New("backend", "refactor", "in flight")

	assert.Equal(t, time.Duration(0), ep.Duration(), "in-progress episodes have zero duration")
}

func TestEpisode_Validate(t *testing.T) {
	valid := func() *Episode {
		return &Episode{
			ID:        uuid.New(),
			Domain:    "backend",
			TaskType:  "refactor",
			StartTime: time.Now().UTC(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Episode)
		wantErr bool
	}{
		{"valid", func(ep *Episode) {}, false},
		{"nil id", func(ep *Episode) { ep.ID = uuid.Nil }, true},
		{"empty domain", func(ep *Episode) { ep.Domain = "" }, true},
		{"empty task type", func(ep *Episode) { ep.TaskType = "" }, true},
		{"zero start time", func(ep *Episode) { ep.StartTime = time.Time{} }, true},
		{"end before start", func(ep *Episode) { ep.EndTime = ep.StartTime.Add(-time.Hour) }, true},
		{"end after start", func(ep *Episode) { ep.EndTime = ep.StartTime.Add(time.Hour) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := valid()
			tt.mutate(ep)
			err := ep.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEpisode_Clone_DeepCopy(t *testing.T) {
	ep := New("backend", "refactor", "original")
	ep.Embedding = []float32{0.1, 0.2, 0.3}
	ep.Context = map[string]string{"ticket": "ENG-1"}
	ep.Metadata = map[string]string{"source": "ci"}

	clone := ep.Clone()
	require.Equal(t, ep, clone, "clone should be value-equal")

	// Mutating the clone must not leak into the original.
	clone.Embedding[0] = 99
	clone.Context["ticket"] = "ENG-2"
	clone.Metadata["source"] = "manual"

	assert.Equal(t, float32(0.1), ep.Embedding[0])
	assert.Equal(t, "ENG-1", ep.Context["ticket"])
	assert.Equal(t, "ci", ep.Metadata["source"])
}

func TestEpisode_HasEmbedding(t *testing.T) {
	ep := New("backend", "refactor", "test")
	assert.False(t, ep.HasEmbedding())

	ep.Embedding = []float32{1, 0}
	assert.True(t, ep.HasEmbedding())
}
