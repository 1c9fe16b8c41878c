// Package communication is the MessageRouter: fire-and-forget inter-bridge
// messages plus the merged history surface over the audit log.
package communication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/internal/platform/eventlog"
	"github.com/abdm/gateway/internal/platform/webhook"
)

// Dispatcher is the async delivery capability.
type Dispatcher interface {
	Enqueue(job *webhook.Job) error
}

// Receipt acknowledges acceptance of a message. SENT means routed for
// delivery, not acknowledged by the target.
type Receipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type Service struct {
	dispatcher Dispatcher
	events     eventlog.Store
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(dispatcher Dispatcher, events eventlog.Store, logger zerolog.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Send routes a message between bridges. The message is recorded for audit
// and handed to the dispatcher; delivery failures surface only in the
// attempt audit, never to the sender.
func (s *Service) Send(ctx context.Context, fromBridgeID, toBridgeID, messageType string, payload json.RawMessage) (*Receipt, error) {
	if fromBridgeID == "" || toBridgeID == "" {
		return nil, apierr.Validation("fromBridgeId and toBridgeId are required")
	}
	if messageType == "" {
		return nil, apierr.Validation("messageType is required")
	}

	messageID := uuid.New().String()
	now := s.now()

	details, _ := json.Marshal(map[string]interface{}{
		"messageId":   messageID,
		"messageType": messageType,
	})
	ev := &eventlog.Event{
		ID:         uuid.New().String(),
		Kind:       eventlog.KindMessage,
		FromBridge: fromBridgeID,
		ToBridge:   toBridgeID,
		Status:     "SENT",
		Details:    details,
		Timestamp:  now,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, err
	}

	s.dispatcher.Enqueue(&webhook.Job{
		TargetBridgeID: toBridgeID,
		Message: webhook.Message{
			MessageID:   messageID,
			MessageType: messageType,
			FromBridge:  fromBridgeID,
			Timestamp:   now,
			Payload:     payload,
		},
	})

	s.logger.Info().
		Str("message_id", messageID).
		Str("from_bridge", fromBridgeID).
		Str("to_bridge", toBridgeID).
		Str("message_type", messageType).
		Msg("message routed")
	return &Receipt{MessageID: messageID, Status: "SENT"}, nil
}

// Messages lists the audit events touching a bridge, newest first. This is
// the merged history: routed messages, data requests and data responses.
func (s *Service) Messages(ctx context.Context, bridgeID string) ([]*eventlog.Event, error) {
	if bridgeID == "" {
		return nil, apierr.Validation("bridgeId is required")
	}
	return s.events.ByBridge(ctx, bridgeID)
}
