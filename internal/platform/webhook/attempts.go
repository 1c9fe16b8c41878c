package webhook

import (
	"context"
	"sync"
	"time"
)

// Attempt results.
const (
	AttemptPending   = "PENDING"
	AttemptDelivered = "DELIVERED"
	AttemptFailed    = "FAILED"
)

// Attempt is one append-only audit row per outbound delivery try.
type Attempt struct {
	ID             string        `json:"id"`
	TargetBridgeID string        `json:"targetBridgeId"`
	MessageID      string        `json:"messageId"`
	MessageType    string        `json:"messageType"`
	AttemptNumber  int           `json:"attemptNumber"`
	Result         string        `json:"result"`
	StatusCode     int           `json:"statusCode,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	NextRetryAt    *time.Time    `json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// AttemptStore records delivery attempts for audit and for the
// webhookAttempts counter surfaced on data requests.
type AttemptStore interface {
	Record(ctx context.Context, attempt *Attempt)
	ByMessage(ctx context.Context, messageID string) []*Attempt
	CountByMessage(ctx context.Context, messageID string) int
}

// MemAttemptStore is a thread-safe in-memory AttemptStore.
type MemAttemptStore struct {
	mu       sync.RWMutex
	attempts []*Attempt
}

func NewMemAttemptStore() *MemAttemptStore {
	return &MemAttemptStore{}
}

func (s *MemAttemptStore) Record(_ context.Context, attempt *Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
}

func (s *MemAttemptStore) ByMessage(_ context.Context, messageID string) []*Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Attempt
	for _, a := range s.attempts {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemAttemptStore) CountByMessage(_ context.Context, messageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.MessageID == messageID {
			n++
		}
	}
	return n
}
