package bridge

import (
	"context"
	"sync"
)

// Repository owns bridge identity storage. All mutations are atomic per
// bridge id: concurrent registrations of the same id resolve to a single
// winner and every later caller observes the winner's record.
type Repository interface {
	// Register stores b if the id is unknown and returns the stored record
	// plus whether this call created it (first-registration-wins).
	Register(ctx context.Context, b *Bridge) (*Bridge, bool)
	Get(ctx context.Context, bridgeID string) (*Bridge, bool)
	SetWebhookURL(ctx context.Context, bridgeID, url string) (*Bridge, bool)
	GetService(ctx context.Context, serviceID string) (*ServiceDescriptor, bool)
}

// MemRepo is a thread-safe in-memory Repository.
type MemRepo struct {
	mu       sync.RWMutex
	bridges  map[string]*Bridge
	services map[string]*ServiceDescriptor
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		bridges:  make(map[string]*Bridge),
		services: make(map[string]*ServiceDescriptor),
	}
}

func (r *MemRepo) Register(_ context.Context, b *Bridge) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bridges[b.BridgeID]; ok {
		return copyBridge(existing), false
	}
	stored := copyBridge(b)
	r.bridges[b.BridgeID] = stored
	for i := range stored.Services {
		svc := stored.Services[i]
		r.services[svc.ID] = &svc
	}
	return copyBridge(stored), true
}

func (r *MemRepo) Get(_ context.Context, bridgeID string) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[bridgeID]
	if !ok {
		return nil, false
	}
	return copyBridge(b), true
}

func (r *MemRepo) SetWebhookURL(_ context.Context, bridgeID, url string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[bridgeID]
	if !ok {
		return nil, false
	}
	b.WebhookURL = url
	return copyBridge(b), true
}

func (r *MemRepo) GetService(_ context.Context, serviceID string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return nil, false
	}
	cp := *svc
	return &cp, true
}

// copyBridge returns a deep copy so callers never hold a pointer into the
// store; readers like the webhook URL resolver run concurrently with writes.
func copyBridge(b *Bridge) *Bridge {
	cp := *b
	cp.Services = append([]ServiceDescriptor(nil), b.Services...)
	return &cp
}
