package consent

import "time"

// Status values for a consent request. GRANTED, DENIED, and EXPIRED are
// final.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusGranted   Status = "GRANTED"
	StatusDenied    Status = "DENIED"
	StatusExpired   Status = "EXPIRED"
)

func (s Status) Terminal() bool {
	return s == StatusGranted || s == StatusDenied || s == StatusExpired
}

// Purpose is the coded reason a HIU requests access.
type Purpose struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// Request tracks one patient-consent request through its lifecycle.
type Request struct {
	ConsentRequestID string     `json:"consentRequestId"`
	PatientID        string     `json:"patientId"`
	HIPID            string     `json:"hipId"`
	Purpose          Purpose    `json:"purpose"`
	Status           Status     `json:"status"`
	GrantedAt        *time.Time `json:"grantedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Artefact is the granted-consent object authorizing a data exchange. Only
// available once the request is GRANTED.
type Artefact struct {
	ConsentRequestID string    `json:"consentRequestId"`
	PatientID        string    `json:"patientId"`
	HIPID            string    `json:"hipId"`
	Purpose          Purpose   `json:"purpose"`
	GrantedAt        time.Time `json:"grantedAt"`
}
