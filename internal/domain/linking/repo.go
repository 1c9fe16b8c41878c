package linking

import (
	"context"
	"sync"
)

// Repository owns link tokens, sessions, and care context links. Session
// mutations are serialized per txnId through Update.
type Repository interface {
	SaveToken(ctx context.Context, t *Token) error
	// ConsumeToken removes and returns the token, enforcing one-time use:
	// a second consume of the same value misses.
	ConsumeToken(ctx context.Context, value string) (*Token, bool)
	PutSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, txnID string) (*Session, bool)
	UpdateSession(ctx context.Context, txnID string, fn func(*Session) error) (*Session, error)
	AppendLinks(ctx context.Context, links []*CareContextLink) error
	LinksByPatient(ctx context.Context, patientID string) []*CareContextLink
	ActivateLinks(ctx context.Context, patientID string) int
}

var errSessionNotFound = &sessionNotFoundError{}

type sessionNotFoundError struct{}

func (*sessionNotFoundError) Error() string { return "link session not found" }

// MemRepo is a thread-safe in-memory Repository.
type MemRepo struct {
	mu       sync.RWMutex
	tokens   map[string]*Token
	sessions map[string]*Session
	links    map[string][]*CareContextLink // keyed by patientId
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		tokens:   make(map[string]*Token),
		sessions: make(map[string]*Session),
		links:    make(map[string][]*CareContextLink),
	}
}

func (r *MemRepo) SaveToken(_ context.Context, t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Value] = t
	return nil
}

func (r *MemRepo) ConsumeToken(_ context.Context, value string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok {
		return nil, false
	}
	delete(r.tokens, value)
	cp := *t
	return &cp, true
}

func (r *MemRepo) PutSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.TxnID] = s
	return nil
}

func (r *MemRepo) GetSession(_ context.Context, txnID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[txnID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// UpdateSession runs fn against the stored session under the write lock.
// Mutations fn makes are kept even when it returns an error; the OTP
// attempt counter relies on this.
func (r *MemRepo) UpdateSession(_ context.Context, txnID string, fn func(*Session) error) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[txnID]
	if !ok {
		return nil, errSessionNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

// AppendLinks adds links, silently keeping the existing row when the
// (patientId, careContextId) pair is already present.
func (r *MemRepo) AppendLinks(_ context.Context, links []*CareContextLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range links {
		exists := false
		for _, have := range r.links[l.PatientID] {
			if have.CareContextID == l.CareContextID {
				exists = true
				break
			}
		}
		if !exists {
			r.links[l.PatientID] = append(r.links[l.PatientID], l)
		}
	}
	return nil
}

func (r *MemRepo) LinksByPatient(_ context.Context, patientID string) []*CareContextLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CareContextLink, 0, len(r.links[patientID]))
	for _, l := range r.links[patientID] {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

func (r *MemRepo) ActivateLinks(_ context.Context, patientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.links[patientID] {
		if l.LinkStatus == LinkPending {
			l.LinkStatus = LinkActive
			n++
		}
	}
	return n
}
