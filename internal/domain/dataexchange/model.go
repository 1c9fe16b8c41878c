package dataexchange

import (
	"encoding/json"
	"time"
)

// Status values for a data request. The lifecycle only moves forward:
// REQUESTED → FORWARDED → PROCESSING → READY → DELIVERED, with FAILED and
// EXPIRED as sideways terminal states.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusForwarded  Status = "FORWARDED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusExpired
}

// rank orders the forward path. Sideways states have no rank.
func (s Status) rank() int {
	switch s {
	case StatusRequested:
		return 0
	case StatusForwarded:
		return 1
	case StatusProcessing:
		return 2
	case StatusReady:
		return 3
	case StatusDelivered:
		return 4
	default:
		return -1
	}
}

// advance moves the request to next only if that is a forward step. Sideways
// moves to FAILED or EXPIRED are allowed from any non-terminal state.
func (r *Request) advance(next Status) bool {
	if r.Status.Terminal() {
		return false
	}
	if next == StatusFailed || next == StatusExpired {
		r.Status = next
		return true
	}
	if next.rank() > r.Status.rank() {
		r.Status = next
		return true
	}
	return false
}

// Request is one mediated health-information request from a HIU to a HIP.
type Request struct {
	RequestID       string    `json:"requestId"`
	HIUID           string    `json:"hiuId"`
	HIPID           string    `json:"hipId"`
	PatientID       string    `json:"patientId"`
	ConsentID       string    `json:"consentId"`
	CareContextIDs  []string  `json:"careContextIds"`
	DataTypes       []string  `json:"dataTypes,omitempty"`
	Status          Status    `json:"status"`
	RetryCount      int       `json:"retryCount"`
	WebhookAttempts int       `json:"webhookAttempts"`
	LastError       string    `json:"lastError,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Delivery is the encrypted payload produced when the HIP responds.
// Immutable once written, 1:1 with its request.
type Delivery struct {
	RequestID        string                 `json:"requestId"`
	EncryptedData    string                 `json:"encryptedData"`
	DataCount        int                    `json:"dataCount"`
	RecordsEncrypted bool                   `json:"recordsEncrypted"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// Ack is the synchronous result of respondData. Delivery carries the stored
// record so an idempotent replay returns the original outcome.
type Ack struct {
	RequestID string    `json:"requestId"`
	Status    Status    `json:"status"`
	Delivery  *Delivery `json:"delivery,omitempty"`
}

// Push is an unsolicited health-info delivery from a HIP, received on the
// legacy surface. Pushes live outside the request state machine; their status
// only changes through data-flow notifications, keyed by txnId.
type Push struct {
	PushID        string                 `json:"pushId"`
	TxnID         string                 `json:"txnId"`
	PatientID     string                 `json:"patientId"`
	HIPID         string                 `json:"hipId"`
	CareContextID string                 `json:"careContextId"`
	HealthInfo    json.RawMessage        `json:"healthInfo"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Status        string                 `json:"status"`
	SentAt        time.Time              `json:"sentAt"`
}
