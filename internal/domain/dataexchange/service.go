package dataexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/internal/platform/crypto"
	"github.com/abdm/gateway/internal/platform/eventlog"
	"github.com/abdm/gateway/internal/platform/webhook"
)

// ConsentChecker is the read-only view of consent state the coordinator
// needs. Consent mutations stay with the consent service.
type ConsentChecker interface {
	Granted(ctx context.Context, consentID string) (bool, error)
}

// Dispatcher is the async delivery capability.
type Dispatcher interface {
	Enqueue(job *webhook.Job) error
}

// Service is the DataExchangeCoordinator: it mediates the request → fetch →
// encrypted delivery → ack protocol between HIU and HIP bridges and owns the
// per-request state machine.
type Service struct {
	repo       Repository
	consents   ConsentChecker
	dispatcher Dispatcher
	resolver   webhook.URLResolver
	cipher     crypto.RecordCipher
	events     eventlog.Store
	ttl        time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(
	repo Repository,
	consents ConsentChecker,
	dispatcher Dispatcher,
	resolver webhook.URLResolver,
	cipher crypto.RecordCipher,
	events eventlog.Store,
	ttl time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		consents:   consents,
		dispatcher: dispatcher,
		resolver:   resolver,
		cipher:     cipher,
		events:     events,
		ttl:        ttl,
		logger:     logger,
		now:        time.Now,
	}
}

// RequestData opens a mediated data request. The consent must be GRANTED and
// the HIP must have a webhook URL; the request is then forwarded to the HIP
// asynchronously, and the caller polls Status for progress.
func (s *Service) RequestData(ctx context.Context, hiuID, hipID, patientID, consentID string, careContextIDs, dataTypes []string) (*Request, error) {
	if hiuID == "" || hipID == "" || patientID == "" || consentID == "" {
		return nil, apierr.Validation("hiuId, hipId, patientId and consentId are required")
	}
	if len(careContextIDs) == 0 {
		return nil, apierr.Validation("careContextIds must not be empty")
	}

	granted, err := s.consents.Granted(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, apierr.Consent(fmt.Sprintf("consent %s is not granted", consentID))
	}
	if url, ok := s.resolver.WebhookURL(hipID); !ok || url == "" {
		return nil, apierr.BridgeNotConfigured(hipID)
	}

	now := s.now()
	req := &Request{
		RequestID:      uuid.New().String(),
		HIUID:          hiuID,
		HIPID:          hipID,
		PatientID:      patientID,
		ConsentID:      consentID,
		CareContextIDs: careContextIDs,
		DataTypes:      dataTypes,
		Status:         StatusRequested,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, eventlog.KindDataRequest, hiuID, hipID, string(StatusRequested), map[string]interface{}{
		"requestId": req.RequestID,
		"consentId": consentID,
	})

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	requestID := req.RequestID
	job := &webhook.Job{
		TargetBridgeID: hipID,
		Message: webhook.Message{
			MessageID:   uuid.New().String(),
			MessageType: eventlog.KindDataRequest,
			FromBridge:  hiuID,
			Timestamp:   now,
			Payload:     payload,
		},
		ExpiresAt: req.ExpiresAt,
		OnAttempt: func(attempt int, lastErr string) {
			s.recordAttempt(requestID, attempt, lastErr)
		},
		Done: func(outcome webhook.Outcome, attempts int, lastErr string) {
			s.onForwardDone(requestID, outcome, attempts, lastErr)
		},
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		// Done has already marked the request FAILED.
		return s.Status(ctx, requestID)
	}

	updated, err := s.transition(ctx, requestID, StatusForwarded, 0, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("request_id", requestID).
		Str("hiu_id", hiuID).
		Str("hip_id", hipID).
		Msg("data request forwarded to HIP")
	return updated, nil
}

// RespondData accepts the HIP's records for a request, seals them, stores the
// delivery, and schedules the encrypted payload for delivery to the HIU. A
// replay for an already-READY or DELIVERED request returns the stored
// delivery without producing a second one.
func (s *Service) RespondData(ctx context.Context, requestID, patientID string, records []json.RawMessage, metadata map[string]interface{}) (*Ack, error) {
	if requestID == "" {
		return nil, apierr.Validation("requestId is required")
	}
	if len(records) == 0 {
		return nil, apierr.Validation("records must not be empty")
	}

	encrypted, err := crypto.SealJSON(s.cipher, records)
	if err != nil {
		return nil, fmt.Errorf("seal records: %w", err)
	}

	var replay bool
	req, err := s.repo.Update(ctx, requestID, func(r *Request) error {
		if patientID != r.PatientID {
			return apierr.Validation(
				fmt.Sprintf("patientId %q does not match data request %s", patientID, requestID))
		}
		if s.now().After(r.ExpiresAt) && !r.Status.Terminal() {
			r.advance(StatusExpired)
			return apierr.Expired(fmt.Sprintf("data request %s has expired", requestID))
		}
		switch r.Status {
		case StatusReady, StatusDelivered:
			replay = true
			return nil
		case StatusForwarded, StatusProcessing:
			r.advance(StatusReady)
			return nil
		case StatusExpired:
			return apierr.Expired(fmt.Sprintf("data request %s has expired", requestID))
		default:
			return apierr.InvalidState(
				fmt.Sprintf("data request %s does not accept a response", requestID),
				string(r.Status))
		}
	})
	if err != nil {
		if errors.Is(err, errRequestNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("data request %s not found", requestID))
		}
		return nil, err
	}

	if replay {
		stored, _ := s.repo.GetDelivery(ctx, requestID)
		return &Ack{RequestID: requestID, Status: req.Status, Delivery: stored}, nil
	}

	delivery := &Delivery{
		RequestID:        requestID,
		EncryptedData:    encrypted,
		DataCount:        len(records),
		RecordsEncrypted: true,
		Metadata:         metadata,
		CreatedAt:        s.now(),
	}
	stored, created, err := s.repo.PutDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent responder won; its delivery stands.
		return &Ack{RequestID: requestID, Status: req.Status, Delivery: stored}, nil
	}

	s.appendEvent(ctx, eventlog.KindDataResponse, req.HIPID, req.HIUID, string(StatusReady), map[string]interface{}{
		"requestId": requestID,
		"dataCount": stored.DataCount,
	})
	s.enqueueDelivery(req, stored)

	s.logger.Info().
		Str("request_id", requestID).
		Int("data_count", stored.DataCount).
		Msg("data response sealed, delivery scheduled to HIU")
	return &Ack{RequestID: requestID, Status: StatusReady, Delivery: stored}, nil
}

// Status returns the request projection, lazily expiring requests past TTL.
func (s *Service) Status(ctx context.Context, requestID string) (*Request, error) {
	req, ok := s.repo.Get(ctx, requestID)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("data request %s not found", requestID))
	}
	if s.now().After(req.ExpiresAt) && !req.Status.Terminal() {
		expired, err := s.repo.Update(ctx, requestID, func(r *Request) error {
			if s.now().After(r.ExpiresAt) && !r.Status.Terminal() {
				r.advance(StatusExpired)
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

// Delivery returns the stored delivery for a request, if the HIP has
// responded.
func (s *Service) Delivery(ctx context.Context, requestID string) (*Delivery, bool) {
	return s.repo.GetDelivery(ctx, requestID)
}

// History lists the audit events touching a bridge, newest first.
func (s *Service) History(ctx context.Context, bridgeID string) ([]*eventlog.Event, error) {
	return s.events.ByBridge(ctx, bridgeID)
}

// ReceiveHealthInfo records an unsolicited health-info push from a HIP on the
// legacy surface. The payload is stored as received; pushes never enter the
// request state machine.
func (s *Service) ReceiveHealthInfo(ctx context.Context, txnID, patientID, hipID, careContextID string, healthInfo json.RawMessage, metadata map[string]interface{}) (*Push, error) {
	if txnID == "" || patientID == "" || hipID == "" {
		return nil, apierr.Validation("txnId, patientId and hipId are required")
	}
	p := &Push{
		PushID:        uuid.New().String(),
		TxnID:         txnID,
		PatientID:     patientID,
		HIPID:         hipID,
		CareContextID: careContextID,
		HealthInfo:    healthInfo,
		Metadata:      metadata,
		Status:        "RECEIVED",
		SentAt:        s.now(),
	}
	if err := s.repo.CreatePush(ctx, p); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, eventlog.KindDataResponse, hipID, "", "RECEIVED", map[string]interface{}{
		"txnId":         txnID,
		"careContextId": careContextID,
	})
	s.logger.Info().Str("txn_id", txnID).Str("hip_id", hipID).Msg("unsolicited health info received")
	return p, nil
}

// LegacyRequest opens a consent-less data request on the legacy surface. The
// request enters the normal projection at REQUESTED but is not forwarded;
// legacy HIPs poll for it instead of receiving a webhook.
func (s *Service) LegacyRequest(ctx context.Context, patientID, hipID, careContextID string, dataTypes []string) (*Request, error) {
	if patientID == "" || hipID == "" || careContextID == "" {
		return nil, apierr.Validation("patientId, hipId and careContextId are required")
	}

	now := s.now()
	req := &Request{
		RequestID:      uuid.New().String(),
		HIPID:          hipID,
		PatientID:      patientID,
		CareContextIDs: []string{careContextID},
		DataTypes:      dataTypes,
		Status:         StatusRequested,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, eventlog.KindDataRequest, "", hipID, string(StatusRequested), map[string]interface{}{
		"requestId": req.RequestID,
	})
	s.logger.Info().
		Str("request_id", req.RequestID).
		Str("hip_id", hipID).
		Msg("legacy data request recorded")
	return req, nil
}

// AckDataFlow acknowledges a one-way data-flow status notification. The
// status lands on the matching push when one exists; the ack does not depend
// on a match and never touches the request state machine.
func (s *Service) AckDataFlow(ctx context.Context, txnID, status, hipID string) (string, error) {
	if txnID == "" {
		return "", apierr.Validation("txnId is required")
	}
	matched := s.repo.SetPushStatus(ctx, txnID, status)
	s.logger.Info().
		Str("txn_id", txnID).
		Str("status", status).
		Str("hip_id", hipID).
		Bool("matched", matched).
		Msg("data flow notification acknowledged")
	return "ACKNOWLEDGED", nil
}

// onForwardDone settles the HIP-bound forward leg.
func (s *Service) onForwardDone(requestID string, outcome webhook.Outcome, attempts int, lastErr string) {
	ctx := context.Background()
	switch outcome {
	case webhook.OutcomeDelivered:
		s.transition(ctx, requestID, StatusProcessing, attempts, "")
	default:
		s.transition(ctx, requestID, StatusFailed, attempts, lastErr)
		s.logger.Warn().
			Str("request_id", requestID).
			Int("attempts", attempts).
			Str("error", lastErr).
			Msg("forwarding data request to HIP failed")
	}
}

// enqueueDelivery schedules the sealed payload for the HIU.
func (s *Service) enqueueDelivery(req *Request, d *Delivery) {
	payload, err := json.Marshal(d)
	if err != nil {
		s.transition(context.Background(), req.RequestID, StatusFailed, 0, err.Error())
		return
	}
	requestID := req.RequestID
	job := &webhook.Job{
		TargetBridgeID: req.HIUID,
		Message: webhook.Message{
			MessageID:   uuid.New().String(),
			MessageType: eventlog.KindDataResponse,
			FromBridge:  req.HIPID,
			Timestamp:   s.now(),
			Payload:     payload,
		},
		ExpiresAt: req.ExpiresAt,
		OnAttempt: func(attempt int, lastErr string) {
			s.recordAttempt(requestID, attempt, lastErr)
		},
		Done: func(outcome webhook.Outcome, attempts int, lastErr string) {
			s.onDeliveryDone(requestID, outcome, attempts, lastErr)
		},
	}
	s.dispatcher.Enqueue(job)
}

// onDeliveryDone settles the HIU-bound delivery leg.
func (s *Service) onDeliveryDone(requestID string, outcome webhook.Outcome, attempts int, lastErr string) {
	ctx := context.Background()
	switch outcome {
	case webhook.OutcomeDelivered:
		s.transition(ctx, requestID, StatusDelivered, attempts, "")
		s.logger.Info().
			Str("request_id", requestID).
			Int("attempts", attempts).
			Msg("encrypted payload delivered to HIU")
	default:
		s.transition(ctx, requestID, StatusFailed, attempts, lastErr)
		s.logger.Warn().
			Str("request_id", requestID).
			Int("attempts", attempts).
			Str("error", lastErr).
			Msg("delivering data response to HIU failed")
	}
}

// recordAttempt folds webhook attempt progress into the projection without
// moving the state machine, so Status reflects retries still in flight.
func (s *Service) recordAttempt(requestID string, attempt int, lastErr string) {
	s.repo.Update(context.Background(), requestID, func(r *Request) error {
		r.WebhookAttempts = attempt
		if attempt > 1 {
			r.RetryCount = attempt - 1
		}
		if lastErr != "" {
			r.LastError = lastErr
		}
		return nil
	})
}

// transition applies a forward (or sideways) move plus the delivery counters.
// A move the state machine forbids is dropped silently: callbacks may race
// with the synchronous path, and the forward-only rule decides the winner.
func (s *Service) transition(ctx context.Context, requestID string, next Status, attempts int, lastErr string) (*Request, error) {
	req, err := s.repo.Update(ctx, requestID, func(r *Request) error {
		if attempts > 0 {
			r.WebhookAttempts = attempts
			if attempts > 1 {
				r.RetryCount = attempts - 1
			}
		}
		if lastErr != "" {
			r.LastError = lastErr
		}
		r.advance(next)
		return nil
	})
	if err != nil {
		if errors.Is(err, errRequestNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("data request %s not found", requestID))
		}
		return nil, err
	}
	return req, nil
}

func (s *Service) appendEvent(ctx context.Context, kind, from, to, status string, details map[string]interface{}) {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	ev := &eventlog.Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		FromBridge: from,
		ToBridge:   to,
		Status:     status,
		Details:    raw,
		Timestamp:  s.now(),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("failed to append audit event")
	}
}
