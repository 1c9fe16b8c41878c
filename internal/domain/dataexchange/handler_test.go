package dataexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
)

func newTestServer() (*echo.Echo, *fixture) {
	f := newFixture()
	e := echo.New()
	e.HTTPErrorHandler = apierr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterRoutes(
		e.Group("/api/communication"), e.Group("/api/data"), e.Group("/api/data"))
	return e, f
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

// The legacy request-info surface opens a consent-less request rather than
// looking one up.
func TestHandler_LegacyRequestInfo(t *testing.T) {
	e, _ := newTestServer()

	rec, body := doJSON(t, e, http.MethodPost, "/api/data/request-info",
		`{"patientId":"pat-1","hipId":"hip-1","careContextId":"cc-1","dataTypes":["OPConsultation"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	id, _ := body["requestId"].(string)
	if id == "" || body["status"] != "REQUESTED" {
		t.Fatalf("unexpected response: %v", body)
	}

	// The created request is visible on the status projection.
	rec, body = doJSON(t, e, http.MethodGet, "/api/data/request/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["patientId"] != "pat-1" || body["hipId"] != "hip-1" || body["status"] != "REQUESTED" {
		t.Errorf("unexpected projection: %v", body)
	}
}

func TestHandler_LegacyHealthInfoPush(t *testing.T) {
	e, f := newTestServer()

	rec, body := doJSON(t, e, http.MethodPost, "/api/data/health-info",
		`{"txnId":"txn-9","patientId":"pat-1","hipId":"hip-1","careContextId":"cc-1",`+
			`"healthInfo":{"encryptedData":"blob","keyMaterial":"key"},`+
			`"metadata":{"type":"DiagnosticReport","createdAt":"2026-08-25T10:00:00Z"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body["status"] != "RECEIVED" || body["txnId"] != "txn-9" {
		t.Fatalf("unexpected response: %v", body)
	}

	push, ok := f.svc.repo.PushByTxn(context.Background(), "txn-9")
	if !ok {
		t.Fatal("expected push stored under its txnId")
	}
	if push.Status != "RECEIVED" || push.CareContextID != "cc-1" {
		t.Errorf("unexpected push: %+v", push)
	}

	rec, _ = doJSON(t, e, http.MethodPost, "/api/data/health-info", `{"txnId":"txn-10"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete push, got %d", rec.Code)
	}
}

// The legacy notify is a one-way ack: it updates the matching push and never
// drives the request state machine.
func TestHandler_LegacyDataFlowNotify(t *testing.T) {
	e, f := newTestServer()

	doJSON(t, e, http.MethodPost, "/api/data/health-info",
		`{"txnId":"txn-9","patientId":"pat-1","hipId":"hip-1","careContextId":"cc-1"}`)

	rec, body := doJSON(t, e, http.MethodPost, "/api/data/notify",
		`{"txnId":"txn-9","status":"TRANSFERRED","hipId":"hip-1"}`)
	if rec.Code != http.StatusOK || body["status"] != "ACKNOWLEDGED" {
		t.Fatalf("unexpected response: %d %v", rec.Code, body)
	}
	push, _ := f.svc.repo.PushByTxn(context.Background(), "txn-9")
	if push.Status != "TRANSFERRED" {
		t.Errorf("expected push status TRANSFERRED, got %s", push.Status)
	}

	// Unknown txnId still acknowledges.
	rec, body = doJSON(t, e, http.MethodPost, "/api/data/notify",
		`{"txnId":"txn-ghost","status":"FAILED","hipId":"hip-1"}`)
	if rec.Code != http.StatusOK || body["status"] != "ACKNOWLEDGED" {
		t.Errorf("unexpected response for unknown txn: %d %v", rec.Code, body)
	}

	// A mediated request stays where the coordinator left it: the ack path
	// must not stand in for respond-data.
	req := f.request(t)
	doJSON(t, e, http.MethodPost, "/api/data/notify",
		`{"txnId":"`+req.RequestID+`","status":"READY","hipId":"hip-1"}`)
	got, err := f.svc.Status(context.Background(), req.RequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusForwarded {
		t.Errorf("expected FORWARDED untouched by notify, got %s", got.Status)
	}
}

func TestService_LegacyRequestValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.LegacyRequest(ctx, "", "hip-1", "cc-1", nil)
	assertCode(t, err, apierr.CodeValidation)
	_, err = f.svc.LegacyRequest(ctx, "pat-1", "hip-1", "", nil)
	assertCode(t, err, apierr.CodeValidation)
	_, err = f.svc.AckDataFlow(ctx, "", "FAILED", "hip-1")
	assertCode(t, err, apierr.CodeValidation)
}
