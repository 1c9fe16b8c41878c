package dataexchange

import (
	"context"
	"sync"
)

// Repository owns data requests and their deliveries. All request mutations
// go through Update, which serializes writers per requestId; deliveries are
// write-once.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, requestID string) (*Request, bool)
	Update(ctx context.Context, requestID string, fn func(*Request) error) (*Request, error)
	// PutDelivery stores the delivery unless one already exists; it returns
	// the stored record either way, with created=false on replay.
	PutDelivery(ctx context.Context, d *Delivery) (*Delivery, bool, error)
	GetDelivery(ctx context.Context, requestID string) (*Delivery, bool)
	CreatePush(ctx context.Context, p *Push) error
	PushByTxn(ctx context.Context, txnID string) (*Push, bool)
	// SetPushStatus updates the push recorded for txnID and reports whether
	// one matched.
	SetPushStatus(ctx context.Context, txnID, status string) bool
}

var errRequestNotFound = &requestNotFoundError{}

type requestNotFoundError struct{}

func (*requestNotFoundError) Error() string { return "data request not found" }

// MemRepo is a thread-safe in-memory Repository.
type MemRepo struct {
	mu         sync.RWMutex
	requests   map[string]*Request
	deliveries map[string]*Delivery
	pushes     map[string]*Push // keyed by txnId
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		requests:   make(map[string]*Request),
		deliveries: make(map[string]*Delivery),
		pushes:     make(map[string]*Push),
	}
}

func (r *MemRepo) Create(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.requests[req.RequestID] = &cp
	return nil
}

func (r *MemRepo) Get(_ context.Context, requestID string) (*Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[requestID]
	if !ok {
		return nil, false
	}
	cp := *req
	return &cp, true
}

// Update runs fn against the stored request under the write lock, so two
// concurrent responders for the same requestId cannot both transition it.
func (r *MemRepo) Update(_ context.Context, requestID string, fn func(*Request) error) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return nil, errRequestNotFound
	}
	if err := fn(req); err != nil {
		return nil, err
	}
	cp := *req
	return &cp, nil
}

func (r *MemRepo) PutDelivery(_ context.Context, d *Delivery) (*Delivery, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if have, ok := r.deliveries[d.RequestID]; ok {
		cp := *have
		return &cp, false, nil
	}
	cp := *d
	r.deliveries[d.RequestID] = &cp
	out := cp
	return &out, true, nil
}

func (r *MemRepo) GetDelivery(_ context.Context, requestID string) (*Delivery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[requestID]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

func (r *MemRepo) CreatePush(_ context.Context, p *Push) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.pushes[p.TxnID] = &cp
	return nil
}

func (r *MemRepo) PushByTxn(_ context.Context, txnID string) (*Push, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pushes[txnID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (r *MemRepo) SetPushStatus(_ context.Context, txnID, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pushes[txnID]
	if !ok {
		return false
	}
	p.Status = status
	return true
}
