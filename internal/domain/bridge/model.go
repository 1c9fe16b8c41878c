package bridge

import "time"

// Role distinguishes record-holding bridges from record-requesting ones.
type Role string

const (
	RoleHIP Role = "HIP"
	RoleHIU Role = "HIU"
)

func (r Role) Valid() bool {
	return r == RoleHIP || r == RoleHIU
}

// ServiceDescriptor is one discoverable service a bridge exposes.
type ServiceDescriptor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Version string `json:"version"`
}

// Bridge is a registered hospital/system identity. Identity fields are
// immutable after registration; only WebhookURL is mutated, by a dedicated
// update.
type Bridge struct {
	BridgeID   string              `json:"bridgeId"`
	Role       Role                `json:"entityType"`
	Name       string              `json:"name"`
	WebhookURL string              `json:"webhookUrl,omitempty"`
	Services   []ServiceDescriptor `json:"services"`
	CreatedAt  time.Time           `json:"createdAt"`
}
