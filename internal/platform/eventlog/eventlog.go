// Package eventlog is the append-only audit trail behind the gateway's
// history surfaces. Every cross-bridge effect (message, data request, data
// response) is recorded as an immutable event; the history endpoints are
// read-only projections over this log.
package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Event kinds.
const (
	KindMessage      = "MESSAGE"
	KindDataRequest  = "DATA_REQUEST"
	KindDataResponse = "DATA_RESPONSE"
)

// Event is one append-only audit record. Seq is assigned by the store and
// makes ordering deterministic when timestamps collide.
type Event struct {
	ID         string          `json:"id"`
	Kind       string          `json:"item_type"`
	FromBridge string          `json:"fromBridgeId"`
	ToBridge   string          `json:"toBridgeId"`
	Status     string          `json:"status"`
	Details    json.RawMessage `json:"details,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Seq        int64           `json:"-"`
}

// Store is the persistence interface for the event log.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	// ByBridge returns events touching the bridge (as sender or receiver),
	// ordered by timestamp descending; events with equal timestamps keep
	// insertion order.
	ByBridge(ctx context.Context, bridgeID string) ([]*Event, error)
}

// MemStore is a thread-safe in-memory Store.
type MemStore struct {
	mu     sync.RWMutex
	events []*Event
	seq    int64
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	s.events = append(s.events, ev)
	return nil
}

func (s *MemStore) ByBridge(_ context.Context, bridgeID string) ([]*Event, error) {
	s.mu.RLock()
	var out []*Event
	for _, ev := range s.events {
		if ev.FromBridge == bridgeID || ev.ToBridge == bridgeID {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	// Stable sort keeps insertion order among equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
