package history

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// MaxBatches - most recent batches kept; the oldest is evicted first.
// Memory only: nothing survives a restart.
const MaxBatches = 20

// Feedback - nullable like/dislike on a single result
type Feedback string

const (
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// Result - one input/output pair inside a batch
type Result struct {
	ID          string    `json:"id"`
	InputImage  string    `json:"input_image"`  // data URI
	OutputImage string    `json:"output_image"` // data URI
	Feedback    *Feedback `json:"feedback"`
}

// Batch - one user-triggered action covering N sequential results
type Batch struct {
	ID              string    `json:"id"`
	TaskType        string    `json:"task_type"`
	Prompt          string    `json:"prompt"`
	CreatedAt       time.Time `json:"created_at"`
	Results         []Result  `json:"results"`
	ReferenceImages []string  `json:"reference_images"` // data URIs
}

// Store - process-owned bounded batch history. Handlers share it, so all
// access is mutex-guarded.
type Store struct {
	mu      sync.Mutex
	batches []Batch // oldest first
}

// NewStore - empty history
func NewStore() *Store {
	return &Store{}
}

// NewID - timestamped identifier for batches and results
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%d_%06d", prefix, time.Now().UnixNano()/int64(time.Millisecond), rand.Intn(999999))
}

// AddBatch - append a completed batch, evicting the oldest beyond capacity
func (s *Store) AddBatch(batch Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, batch)
	if len(s.batches) > MaxBatches {
		evicted := len(s.batches) - MaxBatches
		s.batches = append([]Batch(nil), s.batches[evicted:]...)
		log.Printf("🗑️  History full, evicted %d oldest batch(es)", evicted)
	}
}

// List - newest-first snapshot copy
func (s *Store) List() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Batch, len(s.batches))
	for i, b := range s.batches {
		out[len(s.batches)-1-i] = b
	}
	return out
}

// Len - current batch count
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// SetFeedback - record like/dislike on one result
func (s *Store) SetFeedback(batchID, resultID string, feedback Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for bi := range s.batches {
		if s.batches[bi].ID != batchID {
			continue
		}
		for ri := range s.batches[bi].Results {
			if s.batches[bi].Results[ri].ID == resultID {
				fb := feedback
				s.batches[bi].Results[ri].Feedback = &fb
				return nil
			}
		}
		return fmt.Errorf("result not found: %s", resultID)
	}
	return fmt.Errorf("batch not found: %s", batchID)
}
