package dataexchange

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/internal/platform/crypto"
	"github.com/abdm/gateway/internal/platform/eventlog"
	"github.com/abdm/gateway/internal/platform/webhook"
)

type stubConsents struct {
	granted map[string]bool
}

func (s *stubConsents) Granted(_ context.Context, id string) (bool, error) {
	granted, ok := s.granted[id]
	if !ok {
		return false, apierr.NotFound("consent request " + id + " not found")
	}
	return granted, nil
}

type stubResolver map[string]string

func (r stubResolver) WebhookURL(bridgeID string) (string, bool) {
	url, ok := r[bridgeID]
	return url, ok
}

// captureDispatcher records jobs instead of delivering them; tests settle
// the Done callback by hand to drive the async legs deterministically.
type captureDispatcher struct {
	jobs []*webhook.Job
}

func (d *captureDispatcher) Enqueue(job *webhook.Job) error {
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *captureDispatcher) settle(t *testing.T, i int, outcome webhook.Outcome, attempts int, lastErr string) {
	t.Helper()
	if i >= len(d.jobs) {
		t.Fatalf("no job at index %d (have %d)", i, len(d.jobs))
	}
	d.jobs[i].Done(outcome, attempts, lastErr)
}

type fixture struct {
	svc        *Service
	dispatcher *captureDispatcher
	consents   *stubConsents
	cipher     *crypto.AESCipher
	events     *eventlog.MemStore
}

func newFixture() *fixture {
	f := &fixture{
		dispatcher: &captureDispatcher{},
		consents:   &stubConsents{granted: map[string]bool{"consent-ok": true, "consent-pending": false}},
		cipher:     crypto.NewAESCipher("test-secret"),
		events:     eventlog.NewMemStore(),
	}
	f.svc = NewService(NewMemRepo(), f.consents, f.dispatcher,
		stubResolver{"hip-1": "https://hip.example.com/hook", "hiu-1": "https://hiu.example.com/hook"},
		f.cipher, f.events, 24*time.Hour, zerolog.Nop())
	return f
}

func (f *fixture) request(t *testing.T) *Request {
	t.Helper()
	req, err := f.svc.RequestData(context.Background(),
		"hiu-1", "hip-1", "pat-1", "consent-ok", []string{"cc-1"}, []string{"OPConsultation"})
	if err != nil {
		t.Fatalf("failed to open data request: %v", err)
	}
	return req
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	apiErr := &apierr.Error{}
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierr.Error with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, apiErr.Code, apiErr.Message)
	}
}

func records(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{"resourceType":"Observation"}`)
	}
	return out
}

func TestService_RequestData(t *testing.T) {
	f := newFixture()
	req := f.request(t)

	if req.Status != StatusForwarded {
		t.Errorf("expected FORWARDED after enqueue, got %s", req.Status)
	}
	if req.ExpiresAt.Before(req.CreatedAt) {
		t.Error("expected expiry after creation")
	}
	if len(f.dispatcher.jobs) != 1 {
		t.Fatalf("expected 1 forwarded job, got %d", len(f.dispatcher.jobs))
	}
	job := f.dispatcher.jobs[0]
	if job.TargetBridgeID != "hip-1" {
		t.Errorf("expected job for hip-1, got %s", job.TargetBridgeID)
	}
	if job.Message.MessageType != eventlog.KindDataRequest {
		t.Errorf("expected DATA_REQUEST message, got %s", job.Message.MessageType)
	}

	events, _ := f.events.ByBridge(context.Background(), "hiu-1")
	if len(events) != 1 || events[0].Kind != eventlog.KindDataRequest {
		t.Errorf("expected one DATA_REQUEST audit event, got %+v", events)
	}
}

func TestService_RequestDataPreconditions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RequestData(ctx, "hiu-1", "hip-1", "pat-1", "consent-ok", nil, nil)
	assertCode(t, err, apierr.CodeValidation)

	_, err = f.svc.RequestData(ctx, "hiu-1", "hip-1", "pat-1", "consent-pending", []string{"cc-1"}, nil)
	assertCode(t, err, apierr.CodeConsent)

	_, err = f.svc.RequestData(ctx, "hiu-1", "hip-1", "pat-1", "consent-missing", []string{"cc-1"}, nil)
	assertCode(t, err, apierr.CodeNotFound)

	_, err = f.svc.RequestData(ctx, "hiu-1", "hip-unconfigured", "pat-1", "consent-ok", []string{"cc-1"}, nil)
	assertCode(t, err, apierr.CodeBridgeNotConfigured)
	if len(f.dispatcher.jobs) != 0 {
		t.Errorf("expected no jobs after rejected requests, got %d", len(f.dispatcher.jobs))
	}
}

func TestService_ForwardAckMovesToProcessing(t *testing.T) {
	f := newFixture()
	req := f.request(t)

	f.dispatcher.settle(t, 0, webhook.OutcomeDelivered, 2, "")

	got, err := f.svc.Status(context.Background(), req.RequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
	if got.WebhookAttempts != 2 || got.RetryCount != 1 {
		t.Errorf("expected attempts=2 retries=1, got %d/%d", got.WebhookAttempts, got.RetryCount)
	}
}

func TestService_ForwardFailureMarksFailed(t *testing.T) {
	f := newFixture()
	req := f.request(t)

	f.dispatcher.settle(t, 0, webhook.OutcomeTerminal, 5, "non-2xx response: 503")

	got, _ := f.svc.Status(context.Background(), req.RequestID)
	if got.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	if got.LastError != "non-2xx response: 503" {
		t.Errorf("expected lastError populated, got %q", got.LastError)
	}
}

func TestService_RespondData(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()
	f.dispatcher.settle(t, 0, webhook.OutcomeDelivered, 1, "")

	ack, err := f.svc.RespondData(ctx, req.RequestID, "pat-1", records(2), map[string]interface{}{"source": "emr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != StatusReady {
		t.Errorf("expected READY, got %s", ack.Status)
	}
	if ack.Delivery == nil {
		t.Fatal("expected delivery on ack")
	}
	if ack.Delivery.DataCount != 2 || !ack.Delivery.RecordsEncrypted {
		t.Errorf("unexpected delivery: %+v", ack.Delivery)
	}

	// The payload is sealed; the raw records must not appear on the wire.
	plain, err := f.cipher.Open(ack.Delivery.EncryptedData)
	if err != nil {
		t.Fatalf("expected decryptable payload: %v", err)
	}
	var decoded []json.RawMessage
	if err := json.Unmarshal(plain, &decoded); err != nil || len(decoded) != 2 {
		t.Errorf("unexpected sealed records: %v %v", decoded, err)
	}

	// Second job targets the HIU with the encrypted delivery.
	if len(f.dispatcher.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(f.dispatcher.jobs))
	}
	job := f.dispatcher.jobs[1]
	if job.TargetBridgeID != "hiu-1" || job.Message.MessageType != eventlog.KindDataResponse {
		t.Errorf("unexpected delivery job: %s %s", job.TargetBridgeID, job.Message.MessageType)
	}

	f.dispatcher.settle(t, 1, webhook.OutcomeDelivered, 1, "")
	got, _ := f.svc.Status(ctx, req.RequestID)
	if got.Status != StatusDelivered {
		t.Errorf("expected DELIVERED, got %s", got.Status)
	}
}

// A second response for an already-answered request returns the stored
// delivery and never produces a second one.
func TestService_RespondDataIdempotent(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()

	first, err := f.svc.RespondData(ctx, req.RequestID, "pat-1", records(2), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jobsAfterFirst := len(f.dispatcher.jobs)

	second, err := f.svc.RespondData(ctx, req.RequestID, "pat-1", records(2), nil)
	if err != nil {
		t.Fatalf("expected idempotent replay, got %v", err)
	}
	if second.Delivery == nil || second.Delivery.EncryptedData != first.Delivery.EncryptedData {
		t.Error("expected replay to return the stored delivery")
	}
	if len(f.dispatcher.jobs) != jobsAfterFirst {
		t.Errorf("expected no extra delivery jobs on replay, got %d", len(f.dispatcher.jobs)-jobsAfterFirst)
	}

	// Replay after final delivery behaves the same.
	f.dispatcher.settle(t, 1, webhook.OutcomeDelivered, 1, "")
	third, err := f.svc.RespondData(ctx, req.RequestID, "pat-1", records(2), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Status != StatusDelivered {
		t.Errorf("expected DELIVERED on replay, got %s", third.Status)
	}
}

// A response naming a different patient than the request is rejected before
// any state moves.
func TestService_RespondDataPatientMismatch(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()

	_, err := f.svc.RespondData(ctx, req.RequestID, "pat-other", records(1), nil)
	assertCode(t, err, apierr.CodeValidation)

	got, _ := f.svc.Status(ctx, req.RequestID)
	if got.Status != StatusForwarded {
		t.Errorf("expected request untouched at FORWARDED, got %s", got.Status)
	}
	if len(f.dispatcher.jobs) != 1 {
		t.Errorf("expected no delivery job for rejected response, got %d", len(f.dispatcher.jobs))
	}
}

// Attempt progress is visible through Status while retries are still in
// flight, before the job settles.
func TestService_StatusShowsRetryProgress(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()

	job := f.dispatcher.jobs[0]
	if job.OnAttempt == nil {
		t.Fatal("expected forward job to report attempt progress")
	}
	job.OnAttempt(1, "non-2xx response: 503")
	job.OnAttempt(2, "non-2xx response: 503")

	got, err := f.svc.Status(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusForwarded {
		t.Errorf("expected FORWARDED while retrying, got %s", got.Status)
	}
	if got.WebhookAttempts != 2 || got.RetryCount != 1 {
		t.Errorf("expected attempts=2 retries=1 mid-flight, got %d/%d", got.WebhookAttempts, got.RetryCount)
	}
	if got.LastError != "non-2xx response: 503" {
		t.Errorf("expected lastError mid-flight, got %q", got.LastError)
	}

	// Terminal settle then overrides with the final tally.
	f.dispatcher.settle(t, 0, webhook.OutcomeTerminal, 5, "non-2xx response: 503")
	got, _ = f.svc.Status(ctx, req.RequestID)
	if got.Status != StatusFailed || got.WebhookAttempts != 5 {
		t.Errorf("expected FAILED with attempts=5, got %s %d", got.Status, got.WebhookAttempts)
	}
}

func TestService_RespondDataInvalidState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RespondData(ctx, "ghost", "pat-1", records(1), nil)
	assertCode(t, err, apierr.CodeNotFound)

	_, err = f.svc.RespondData(ctx, "ghost", "pat-1", nil, nil)
	assertCode(t, err, apierr.CodeValidation)

	req := f.request(t)
	f.dispatcher.settle(t, 0, webhook.OutcomeTerminal, 5, "unreachable")
	_, err = f.svc.RespondData(ctx, req.RequestID, "pat-1", records(1), nil)
	assertCode(t, err, apierr.CodeInvalidState)
}

func TestService_StatusLazyExpiry(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	got, err := f.svc.Status(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}

	_, err = f.svc.RespondData(ctx, req.RequestID, "pat-1", records(1), nil)
	assertCode(t, err, apierr.CodeExpired)
}

// Settled callbacks racing with the synchronous path cannot move a request
// backwards through the lifecycle.
func TestRequest_ForwardOnlyTransitions(t *testing.T) {
	r := &Request{Status: StatusProcessing}
	if r.advance(StatusForwarded) {
		t.Error("expected backward move to be rejected")
	}
	if r.Status != StatusProcessing {
		t.Errorf("status changed on rejected move: %s", r.Status)
	}
	if !r.advance(StatusReady) {
		t.Error("expected forward move to succeed")
	}
	if !r.advance(StatusFailed) {
		t.Error("expected sideways move to FAILED from READY")
	}
	if r.advance(StatusDelivered) {
		t.Error("expected no moves out of a terminal state")
	}

	expired := &Request{Status: StatusDelivered}
	if expired.advance(StatusExpired) {
		t.Error("expected DELIVERED to be final")
	}
}

func TestService_History(t *testing.T) {
	f := newFixture()
	req := f.request(t)
	ctx := context.Background()

	if _, err := f.svc.RespondData(ctx, req.RequestID, "pat-1", records(1), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := f.svc.History(ctx, "hip-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected request and response events, got %d", len(events))
	}
	kinds := map[string]bool{}
	for _, ev := range events {
		kinds[ev.Kind] = true
	}
	if !kinds[eventlog.KindDataRequest] || !kinds[eventlog.KindDataResponse] {
		t.Errorf("expected both event kinds, got %v", kinds)
	}
}
