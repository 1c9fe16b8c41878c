package linking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
)

func newTestService() *Service {
	return NewService(NewMemRepo(), 5*time.Minute, 3, zerolog.Nop())
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

func TestService_GenerateLinkToken(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateLinkToken(context.Background(), "pat-1", "hip-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.Value == "" {
		t.Error("expected token value")
	}
	if token.ExpiresAt.Before(time.Now()) {
		t.Error("expected future expiry")
	}
	if svc.ExpiresIn() != 300 {
		t.Errorf("expected expiresIn 300, got %d", svc.ExpiresIn())
	}

	if _, err := svc.GenerateLinkToken(context.Background(), "", "hip-1"); err == nil {
		t.Error("expected error for empty patientId")
	}
}

func TestService_DiscoverPatientDeterministic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id1, status, err := svc.DiscoverPatient(ctx, "9876543210", "Asha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "FOUND" {
		t.Errorf("expected FOUND, got %s", status)
	}
	id2, _, _ := svc.DiscoverPatient(ctx, "9876543210", "different name")
	if id1 != id2 {
		t.Errorf("expected deterministic patient id, got %s and %s", id1, id2)
	}
}

func TestService_LinkCareContexts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	status, err := svc.LinkCareContexts(ctx, "pat-1", "", []CareContext{
		{ID: "cc-1", ReferenceNumber: "ref-1"},
		{ID: "cc-2", ReferenceNumber: "ref-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != LinkPending {
		t.Errorf("expected PENDING, got %s", status)
	}

	links := svc.LinksByPatient(ctx, "pat-1")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	for _, l := range links {
		if l.LinkStatus != LinkPending {
			t.Errorf("expected PENDING link, got %s", l.LinkStatus)
		}
	}

	// Re-declaring the same care context does not duplicate the link.
	svc.LinkCareContexts(ctx, "pat-1", "", []CareContext{{ID: "cc-1"}})
	if got := len(svc.LinksByPatient(ctx, "pat-1")); got != 2 {
		t.Errorf("expected 2 links after re-declare, got %d", got)
	}

	if _, err := svc.LinkCareContexts(ctx, "pat-1", "", nil); err == nil {
		t.Error("expected error for empty careContexts")
	}
}

// A presented link token is single-use: the first declaration consumes it,
// a replay misses, and a token minted for another patient is rejected.
func TestService_LinkCareContextsConsumesToken(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	token, err := svc.GenerateLinkToken(ctx, "pat-1", "hip-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.LinkCareContexts(ctx, "pat-1", token.Value, []CareContext{{ID: "cc-1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.LinkCareContexts(ctx, "pat-1", token.Value, []CareContext{{ID: "cc-2"}})
	assertCode(t, err, apierr.CodeNotFound)

	other, _ := svc.GenerateLinkToken(ctx, "pat-2", "hip-1")
	_, err = svc.LinkCareContexts(ctx, "pat-1", other.Value, []CareContext{{ID: "cc-2"}})
	assertCode(t, err, apierr.CodeValidation)
}

func TestService_LinkCareContextsExpiredToken(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	token, err := svc.GenerateLinkToken(ctx, "pat-1", "hip-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err = svc.LinkCareContexts(ctx, "pat-1", token.Value, []CareContext{{ID: "cc-1"}})
	assertCode(t, err, apierr.CodeExpired)
}

func TestService_ConfirmLinkHappyPath(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.LinkCareContexts(ctx, "pat-1", "", []CareContext{{ID: "cc-1"}})

	session, err := svc.InitLink(ctx, "pat-1", "txn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != StatusInitiated {
		t.Fatalf("expected INITIATED, got %s", session.Status)
	}
	if len(session.OTP) != 6 {
		t.Fatalf("expected 6-digit OTP, got %q", session.OTP)
	}

	confirmed, err := svc.ConfirmLink(ctx, "pat-1", "txn-1", session.OTP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", confirmed.Status)
	}
	if confirmed.OTP != "" {
		t.Error("expected OTP cleared after confirmation")
	}

	// Confirmation activates the pending links.
	for _, l := range svc.LinksByPatient(ctx, "pat-1") {
		if l.LinkStatus != LinkActive {
			t.Errorf("expected ACTIVE link, got %s", l.LinkStatus)
		}
	}
}

func TestService_ConfirmLinkWrongOTP(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, _ := svc.InitLink(ctx, "pat-1", "txn-1")
	wrong := "000000"
	if session.OTP == wrong {
		wrong = "000001"
	}

	_, err := svc.ConfirmLink(ctx, "pat-1", "txn-1", wrong)
	assertCode(t, err, apierr.CodeValidation)
	apiErr := &apierr.Error{}
	errors.As(err, &apiErr)
	if apiErr.Details["attemptsRemaining"] != 2 {
		t.Errorf("expected 2 attempts remaining, got %v", apiErr.Details)
	}

	// The right OTP still works while the budget lasts.
	confirmed, err := svc.ConfirmLink(ctx, "pat-1", "txn-1", session.OTP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", confirmed.Status)
	}
}

// Exhausting the OTP budget forces the session to FAILED; afterwards even
// the correct OTP is rejected on state, not on the OTP value.
func TestService_ConfirmLinkExhaustsRetries(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, _ := svc.InitLink(ctx, "pat-1", "txn-1")
	wrong := "000000"
	if session.OTP == wrong {
		wrong = "000001"
	}

	_, err := svc.ConfirmLink(ctx, "pat-1", "txn-1", wrong)
	assertCode(t, err, apierr.CodeValidation)
	_, err = svc.ConfirmLink(ctx, "pat-1", "txn-1", wrong)
	assertCode(t, err, apierr.CodeValidation)
	_, err = svc.ConfirmLink(ctx, "pat-1", "txn-1", wrong)
	assertCode(t, err, apierr.CodeInvalidState)

	got, ok := svc.repo.GetSession(ctx, "txn-1")
	if !ok || got.Status != StatusFailed {
		t.Fatalf("expected FAILED session, got %+v", got)
	}

	_, err = svc.ConfirmLink(ctx, "pat-1", "txn-1", session.OTP)
	assertCode(t, err, apierr.CodeInvalidState)
}

func TestService_ConfirmLinkExpired(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, _ := svc.InitLink(ctx, "pat-1", "txn-1")
	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	_, err := svc.ConfirmLink(ctx, "pat-1", "txn-1", session.OTP)
	assertCode(t, err, apierr.CodeExpired)

	got, _ := svc.repo.GetSession(ctx, "txn-1")
	if got.Status != StatusFailed {
		t.Errorf("expected FAILED after expiry, got %s", got.Status)
	}
}

func TestService_ConfirmLinkUnknownSession(t *testing.T) {
	svc := newTestService()
	_, err := svc.ConfirmLink(context.Background(), "pat-1", "ghost", "123456")
	assertCode(t, err, apierr.CodeNotFound)
}

func TestService_InitLinkOverwrites(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, _ := svc.InitLink(ctx, "pat-1", "txn-1")
	second, err := svc.InitLink(ctx, "pat-1", "txn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.OTP == first.OTP && second.CreatedAt.Equal(first.CreatedAt) {
		t.Log("OTP collision is possible but the session must be fresh")
	}
	if second.OTPAttempts != 0 {
		t.Errorf("expected fresh attempt counter, got %d", second.OTPAttempts)
	}
}

// NotifyLink is one-way sync: it records whatever status the counter-party
// observed, creating the session if the gateway never saw it.
func TestService_NotifyLink(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	svc.InitLink(ctx, "pat-1", "txn-1")
	session, err := svc.NotifyLink(ctx, "txn-1", StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", session.Status)
	}

	unseen, err := svc.NotifyLink(ctx, "txn-unknown", StatusFailed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unseen.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", unseen.Status)
	}
	if _, ok := svc.repo.GetSession(ctx, "txn-unknown"); !ok {
		t.Error("expected session to be recorded")
	}
}
