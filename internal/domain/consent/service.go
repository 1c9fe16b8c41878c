package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
)

// Service is the ConsentManager. It owns every consent request mutation;
// other components (the data exchange coordinator) read consent state
// through Granted, never write.
type Service struct {
	repo     Repository
	validity time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, validity time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		validity: validity,
		logger:   logger,
		now:      time.Now,
	}
}

// Init registers a new consent request in REQUESTED state.
func (s *Service) Init(ctx context.Context, patientID, hipID string, purpose Purpose) (*Request, error) {
	if patientID == "" || hipID == "" {
		return nil, apierr.Validation("patientId and hipId are required")
	}
	if purpose.Code == "" {
		return nil, apierr.Validation("purpose.code is required")
	}

	req := &Request{
		ConsentRequestID: uuid.New().String(),
		PatientID:        patientID,
		HIPID:            hipID,
		Purpose:          purpose,
		Status:           StatusRequested,
		CreatedAt:        s.now(),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("consent_request_id", req.ConsentRequestID).
		Str("patient_id", patientID).
		Str("hip_id", hipID).
		Str("purpose", purpose.Code).
		Msg("consent request initialized")
	return req, nil
}

// Status returns the consent request, lazily expiring stale grants.
func (s *Service) Status(ctx context.Context, id string) (*Request, error) {
	return s.get(ctx, id)
}

// Fetch returns the consent artefact. Only a GRANTED (and unexpired)
// request yields one.
func (s *Service) Fetch(ctx context.Context, id string) (*Artefact, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case StatusGranted:
		return &Artefact{
			ConsentRequestID: req.ConsentRequestID,
			PatientID:        req.PatientID,
			HIPID:            req.HIPID,
			Purpose:          req.Purpose,
			GrantedAt:        *req.GrantedAt,
		}, nil
	case StatusExpired:
		return nil, apierr.Expired(fmt.Sprintf("consent %s has expired", id))
	default:
		return nil, apierr.Consent(fmt.Sprintf("consent %s is not granted", id)).
			WithDetail("currentState", string(req.Status))
	}
}

// Notify applies an externally decided transition. Only REQUESTED may move,
// and only to GRANTED or DENIED; repeating an already-applied terminal
// status is a no-op, anything else is rejected with the current state.
func (s *Service) Notify(ctx context.Context, id string, newStatus Status) (*Request, error) {
	if newStatus != StatusGranted && newStatus != StatusDenied {
		return nil, apierr.Validation(fmt.Sprintf("status must be GRANTED or DENIED, got %q", newStatus))
	}

	req, err := s.repo.Update(ctx, id, func(r *Request) error {
		if r.Status == newStatus {
			return nil // idempotent re-notify
		}
		if r.Status != StatusRequested {
			return apierr.InvalidState(
				fmt.Sprintf("consent %s cannot transition to %s", id, newStatus),
				string(r.Status))
		}
		r.Status = newStatus
		if newStatus == StatusGranted {
			now := s.now()
			r.GrantedAt = &now
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("consent request %s not found", id))
		}
		return nil, err
	}

	s.logger.Info().
		Str("consent_request_id", id).
		Str("status", string(req.Status)).
		Msg("consent status updated")
	return req, nil
}

// Granted reports whether the consent authorizes an exchange right now.
// Read-only accessor for the data exchange coordinator.
func (s *Service) Granted(ctx context.Context, id string) (bool, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}
	return req.Status == StatusGranted, nil
}

// get loads a request and applies lazy expiry: a GRANTED consent past its
// validity window flips to EXPIRED on read. No background sweep needed.
func (s *Service) get(ctx context.Context, id string) (*Request, error) {
	req, ok := s.repo.Get(ctx, id)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("consent request %s not found", id))
	}
	if req.Status == StatusGranted && req.GrantedAt != nil &&
		s.now().After(req.GrantedAt.Add(s.validity)) {
		expired, err := s.repo.Update(ctx, id, func(r *Request) error {
			if r.Status == StatusGranted && r.GrantedAt != nil &&
				s.now().After(r.GrantedAt.Add(s.validity)) {
				r.Status = StatusExpired
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return expired, nil
	}
	return req, nil
}
