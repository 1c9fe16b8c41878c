package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
)

// Service is the LinkingManager: patient discovery, link tokens, and the
// OTP-confirmed link session lifecycle.
type Service struct {
	repo          Repository
	tokenTTL      time.Duration
	maxOTPRetries int
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(repo Repository, tokenTTL time.Duration, maxOTPRetries int, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		tokenTTL:      tokenTTL,
		maxOTPRetries: maxOTPRetries,
		logger:        logger,
		now:           time.Now,
	}
}

// GenerateLinkToken mints a one-time, short-lived capability bound to
// (patientId, hipId).
func (s *Service) GenerateLinkToken(ctx context.Context, patientID, hipID string) (*Token, error) {
	if patientID == "" || hipID == "" {
		return nil, apierr.Validation("patientId and hipId are required")
	}
	t := &Token{
		Value:     uuid.New().String(),
		PatientID: patientID,
		HIPID:     hipID,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	if err := s.repo.SaveToken(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", patientID).Str("hip_id", hipID).Msg("link token issued")
	return t, nil
}

// ExpiresIn returns the token TTL in whole seconds for the wire response.
func (s *Service) ExpiresIn() int {
	return int(s.tokenTTL.Seconds())
}

// LinkCareContexts records a HIP-authoritative bulk declaration of care
// contexts for a patient. Links start PENDING and activate when the patient
// confirms a link session. A presented link token is consumed whether or not
// the declaration succeeds: each token authorizes one attempt, for the
// patient it was minted for, until expiry. Callers that never obtained a
// token may omit it.
func (s *Service) LinkCareContexts(ctx context.Context, patientID, linkToken string, contexts []CareContext) (LinkStatus, error) {
	if patientID == "" {
		return "", apierr.Validation("patientId is required")
	}
	if len(contexts) == 0 {
		return "", apierr.Validation("careContexts must not be empty")
	}
	if linkToken != "" {
		t, ok := s.repo.ConsumeToken(ctx, linkToken)
		if !ok {
			return "", apierr.NotFound("link token not found or already used")
		}
		if s.now().After(t.ExpiresAt) {
			return "", apierr.Expired("link token has expired")
		}
		if t.PatientID != patientID {
			return "", apierr.Validation("link token is bound to a different patient")
		}
	}

	links := make([]*CareContextLink, 0, len(contexts))
	now := s.now()
	for _, cc := range contexts {
		if cc.ID == "" {
			return "", apierr.Validation("careContext id is required")
		}
		links = append(links, &CareContextLink{
			PatientID:       patientID,
			CareContextID:   cc.ID,
			ReferenceNumber: cc.ReferenceNumber,
			LinkStatus:      LinkPending,
			CreatedAt:       now,
		})
	}
	if err := s.repo.AppendLinks(ctx, links); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("patient_id", patientID).
		Int("care_contexts", len(contexts)).
		Msg("care contexts linked")
	return LinkPending, nil
}

// DiscoverPatient derives the patient identity for a mobile number. The
// derivation is deterministic, so repeated discovery for the same mobile
// always resolves to the same patient id.
func (s *Service) DiscoverPatient(ctx context.Context, mobile, name string) (string, string, error) {
	if mobile == "" {
		return "", "", apierr.Validation("mobile is required")
	}
	patientID := "pat-" + mobile
	return patientID, "FOUND", nil
}

// InitLink creates (or overwrites) the session for txnId and generates the
// OTP challenge. OTP delivery to the patient is an external collaborator;
// the gateway only records that a challenge is outstanding.
func (s *Service) InitLink(ctx context.Context, patientID, txnID string) (*Session, error) {
	if patientID == "" || txnID == "" {
		return nil, apierr.Validation("patientId and txnId are required")
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	session := &Session{
		TxnID:     txnID,
		PatientID: patientID,
		Status:    StatusInitiated,
		OTP:       otp,
		CreatedAt: s.now(),
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	if err := s.repo.PutSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("txn_id", txnID).
		Str("patient_id", patientID).
		Msg("link session initiated, OTP challenge issued")
	return session, nil
}

// ConfirmLink verifies the OTP for an INITIATED session. A wrong OTP counts
// against the retry budget; exhausting it forces the session to FAILED, and
// later attempts are rejected on state, not on the OTP.
func (s *Service) ConfirmLink(ctx context.Context, patientID, txnID, otp string) (*Session, error) {
	var confirmed bool
	session, err := s.repo.UpdateSession(ctx, txnID, func(sess *Session) error {
		if sess.Status == StatusFailed {
			return apierr.InvalidState(
				fmt.Sprintf("link session %s has failed, no further attempts allowed", txnID),
				string(StatusFailed))
		}
		if sess.Status != StatusInitiated {
			return apierr.InvalidState(
				fmt.Sprintf("link session %s is not awaiting confirmation", txnID),
				string(sess.Status))
		}
		if s.now().After(sess.ExpiresAt) {
			sess.Status = StatusFailed
			return apierr.Expired(fmt.Sprintf("link session %s has expired", txnID))
		}
		if sess.OTP != otp {
			sess.OTPAttempts++
			if sess.OTPAttempts >= s.maxOTPRetries {
				sess.Status = StatusFailed
				return apierr.InvalidState(
					fmt.Sprintf("otp retry limit reached for session %s", txnID),
					string(StatusFailed))
			}
			return apierr.Validation("invalid otp").
				WithDetail("attemptsRemaining", s.maxOTPRetries-sess.OTPAttempts)
		}
		sess.Status = StatusConfirmed
		sess.OTP = "" // one-time challenge
		confirmed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("link session %s not found", txnID))
		}
		return nil, err
	}

	if confirmed {
		activated := s.repo.ActivateLinks(ctx, patientID)
		s.logger.Info().
			Str("txn_id", txnID).
			Str("patient_id", patientID).
			Int("links_activated", activated).
			Msg("link session confirmed")
	}
	return session, nil
}

// NotifyLink propagates an externally observed session status. One-way
// sync: the value is recorded as-is and logged, not validated against the
// local state machine.
func (s *Service) NotifyLink(ctx context.Context, txnID string, status SessionStatus) (*Session, error) {
	if txnID == "" {
		return nil, apierr.Validation("txnId is required")
	}

	session, err := s.repo.UpdateSession(ctx, txnID, func(sess *Session) error {
		sess.Status = status
		return nil
	})
	if err != nil {
		// Counter-party may notify about a session the gateway never saw.
		session = &Session{
			TxnID:     txnID,
			Status:    status,
			CreatedAt: s.now(),
		}
		if putErr := s.repo.PutSession(ctx, session); putErr != nil {
			return nil, putErr
		}
	}

	s.logger.Info().
		Str("txn_id", txnID).
		Str("status", string(status)).
		Msg("link status notified")
	return session, nil
}

// LinksByPatient lists the care context links recorded for a patient.
func (s *Service) LinksByPatient(ctx context.Context, patientID string) []*CareContextLink {
	return s.repo.LinksByPatient(ctx, patientID)
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
