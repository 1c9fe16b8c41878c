package linking

import "time"

// SessionStatus values for a link session.
type SessionStatus string

const (
	StatusTokenIssued SessionStatus = "TOKEN_ISSUED"
	StatusInitiated   SessionStatus = "INITIATED"
	StatusConfirmed   SessionStatus = "CONFIRMED"
	StatusFailed      SessionStatus = "FAILED"
)

// LinkStatus values for a care context link.
type LinkStatus string

const (
	LinkPending LinkStatus = "PENDING"
	LinkActive  LinkStatus = "ACTIVE"
)

// Token is a one-time, short-lived capability bound to (patient, HIP).
type Token struct {
	Value     string    `json:"token"`
	PatientID string    `json:"patientId"`
	HIPID     string    `json:"hipId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session tracks one link transaction, keyed by txnId. The OTP challenge is
// generated at init; delivery to the patient happens out of band.
type Session struct {
	TxnID       string        `json:"txnId"`
	PatientID   string        `json:"patientId"`
	Status      SessionStatus `json:"status"`
	OTP         string        `json:"-"`
	OTPAttempts int           `json:"otpAttempts"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// CareContext is the inbound care-context reference from a HIP.
type CareContext struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"referenceNumber"`
}

// CareContextLink ties a patient to a HIP care context. Append-only per
// patient, unique on (patientId, careContextId).
type CareContextLink struct {
	PatientID       string     `json:"patientId"`
	CareContextID   string     `json:"careContextId"`
	ReferenceNumber string     `json:"referenceNumber"`
	LinkStatus      LinkStatus `json:"linkStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
}
