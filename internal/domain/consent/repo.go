package consent

import (
	"context"
	"sync"
)

// Repository owns consent request storage. Update serializes read-modify-
// write per consent id so concurrent notify calls cannot both transition the
// same record.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, consentRequestID string) (*Request, bool)
	Update(ctx context.Context, consentRequestID string, fn func(*Request) error) (*Request, error)
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "consent request not found" }

// MemRepo is a thread-safe in-memory Repository.
type MemRepo struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

func NewMemRepo() *MemRepo {
	return &MemRepo{requests: make(map[string]*Request)}
}

func (r *MemRepo) Create(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ConsentRequestID] = req
	return nil
}

func (r *MemRepo) Get(_ context.Context, id string) (*Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, false
	}
	cp := *req
	return &cp, true
}

func (r *MemRepo) Update(_ context.Context, id string, fn func(*Request) error) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, errNotFound
	}
	if err := fn(req); err != nil {
		return nil, err
	}
	cp := *req
	return &cp, nil
}
