package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBatch(id string) Batch {
	return Batch{
		ID:        id,
		TaskType:  "perspective",
		Prompt:    "golden hour",
		CreatedAt: time.Now(),
		Results: []Result{
			{ID: id + "_r1", InputImage: "data:image/png;base64,aW4=", OutputImage: "data:image/png;base64,b3V0"},
		},
	}
}

func TestAddBatchAndList(t *testing.T) {
	store := NewStore()
	assert.Equal(t, 0, store.Len())

	store.AddBatch(makeBatch("b1"))
	store.AddBatch(makeBatch("b2"))
	store.AddBatch(makeBatch("b3"))

	batches := store.List()
	require.Len(t, batches, 3)
	assert.Equal(t, "b3", batches[0].ID, "List returns newest first")
	assert.Equal(t, "b1", batches[2].ID)
}

func TestEvictionBeyondCap(t *testing.T) {
	store := NewStore()

	for i := 0; i < MaxBatches+5; i++ {
		store.AddBatch(makeBatch(fmt.Sprintf("b%02d", i)))
	}

	assert.Equal(t, MaxBatches, store.Len())

	batches := store.List()
	assert.Equal(t, fmt.Sprintf("b%02d", MaxBatches+4), batches[0].ID, "newest batch survives")
	assert.Equal(t, "b05", batches[len(batches)-1].ID, "the five oldest batches were evicted")
}

func TestListReturnsCopy(t *testing.T) {
	store := NewStore()
	store.AddBatch(makeBatch("b1"))

	batches := store.List()
	batches[0].ID = "mutated"

	assert.Equal(t, "b1", store.List()[0].ID, "mutating the snapshot must not touch the store")
}

func TestSetFeedback(t *testing.T) {
	store := NewStore()
	store.AddBatch(makeBatch("b1"))

	require.NoError(t, store.SetFeedback("b1", "b1_r1", FeedbackLike))

	result := store.List()[0].Results[0]
	require.NotNil(t, result.Feedback)
	assert.Equal(t, FeedbackLike, *result.Feedback)

	// overwrite is allowed
	require.NoError(t, store.SetFeedback("b1", "b1_r1", FeedbackDislike))
	assert.Equal(t, FeedbackDislike, *store.List()[0].Results[0].Feedback)
}

func TestSetFeedbackNotFound(t *testing.T) {
	store := NewStore()
	store.AddBatch(makeBatch("b1"))

	assert.Error(t, store.SetFeedback("missing", "b1_r1", FeedbackLike))
	assert.Error(t, store.SetFeedback("b1", "missing", FeedbackLike))
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewID("batch")
		assert.False(t, seen[id], "ids must not collide")
		seen[id] = true
	}
}
