// Package apierr defines the gateway error taxonomy and the HTTP error
// handler that renders errors in the gateway response envelope. Every error
// carries a stable code so bridges can reconcile state without out-of-band
// support.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	CodeAuth                = "AUTH_ERROR"
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInvalidState        = "INVALID_STATE"
	CodeExpired             = "EXPIRED"
	CodeConsent             = "CONSENT_ERROR"
	CodeBridgeNotConfigured = "BRIDGE_NOT_CONFIGURED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is the typed error returned by services and rendered at the API
// boundary. Details carries machine-readable context such as the current
// entity state for INVALID_STATE errors.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"-"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns a copy of the error with an extra detail attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Status: e.Status, Details: details}
}

func Auth(msg string) *Error {
	return &Error{Code: CodeAuth, Message: msg, Status: http.StatusUnauthorized}
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Status: http.StatusBadRequest}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg, Status: http.StatusNotFound}
}

func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg, Status: http.StatusConflict}
}

// InvalidState rejects a state-machine violation, attaching the entity's
// current status so the caller can resynchronize.
func InvalidState(msg, currentState string) *Error {
	return &Error{
		Code:    CodeInvalidState,
		Message: msg,
		Status:  http.StatusConflict,
		Details: map[string]interface{}{"currentState": currentState},
	}
}

// Expired is distinct from NotFound so callers can tell "never existed"
// from "timed out".
func Expired(msg string) *Error {
	return &Error{Code: CodeExpired, Message: msg, Status: http.StatusGone}
}

func Consent(msg string) *Error {
	return &Error{Code: CodeConsent, Message: msg, Status: http.StatusForbidden}
}

func BridgeNotConfigured(bridgeID string) *Error {
	return &Error{
		Code:    CodeBridgeNotConfigured,
		Message: fmt.Sprintf("bridge %s has no webhook URL configured", bridgeID),
		Status:  http.StatusConflict,
		Details: map[string]interface{}{"bridgeId": bridgeID},
	}
}

// envelope mirrors the gateway wire format: either response or error is set.
type envelope struct {
	RequestID string      `json:"requestId"`
	Timestamp string      `json:"timestamp"`
	Response  interface{} `json:"response"`
	Err       *Error      `json:"error"`
}

// HTTPErrorHandler renders *apierr.Error values (and anything else) in the
// gateway envelope. Unknown errors are logged and masked as INTERNAL_ERROR.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := &Error{}
		if !errors.As(err, &apiErr) {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				apiErr = &Error{
					Code:    codeForStatus(httpErr.Code),
					Message: fmt.Sprintf("%v", httpErr.Message),
					Status:  httpErr.Code,
				}
			} else {
				logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
				apiErr = &Error{
					Code:    CodeInternal,
					Message: "internal server error",
					Status:  http.StatusInternalServerError,
				}
			}
		}

		requestID := c.Request().Header.Get("REQUEST-ID")
		if requestID == "" {
			requestID, _ = c.Get("request_id").(string)
		}

		resp := envelope{
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Err:       apiErr,
		}
		if jsonErr := c.JSON(apiErr.Status, resp); jsonErr != nil {
			logger.Error().Err(jsonErr).Msg("failed to write error response")
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeAuth
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusGone:
		return CodeExpired
	default:
		return CodeInternal
	}
}
