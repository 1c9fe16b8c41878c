package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdm/gateway/internal/platform/apierr"
)

// Service is the BridgeRegistry: the single owner of bridge identity. Every
// other component resolves webhook targets through it, read-only.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register creates the bridge identity or returns the existing one
// unchanged. First registration wins: a repeat with a different name keeps
// the original; a repeat with a different role is rejected outright, since a
// bridge flipping between HIP and HIU would invalidate in-flight exchanges.
func (s *Service) Register(ctx context.Context, bridgeID string, role Role, name string) (*Bridge, error) {
	if bridgeID == "" || name == "" {
		return nil, apierr.Validation("bridgeId and name are required")
	}
	if !role.Valid() {
		return nil, apierr.Validation(fmt.Sprintf("entityType must be HIP or HIU, got %q", role))
	}

	candidate := &Bridge{
		BridgeID:  bridgeID,
		Role:      role,
		Name:      name,
		Services:  seedServices(bridgeID),
		CreatedAt: time.Now(),
	}

	stored, created := s.repo.Register(ctx, candidate)
	if !created && stored.Role != role {
		return nil, apierr.Conflict(
			fmt.Sprintf("bridge %s already registered as %s", bridgeID, stored.Role))
	}
	if created {
		s.logger.Info().Str("bridge_id", bridgeID).Str("role", string(role)).Msg("bridge registered")
	}
	return stored, nil
}

// SetWebhookURL updates the only mutable field of a bridge identity.
func (s *Service) SetWebhookURL(ctx context.Context, bridgeID, rawURL string) (*Bridge, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, apierr.Validation(err.Error())
	}
	b, ok := s.repo.SetWebhookURL(ctx, bridgeID, rawURL)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("bridge %s not found", bridgeID))
	}
	s.logger.Info().Str("bridge_id", bridgeID).Str("webhook_url", rawURL).Msg("bridge webhook URL updated")
	return b, nil
}

func (s *Service) Get(ctx context.Context, bridgeID string) (*Bridge, error) {
	b, ok := s.repo.Get(ctx, bridgeID)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("bridge %s not found", bridgeID))
	}
	return b, nil
}

func (s *Service) ListServices(ctx context.Context, bridgeID string) ([]ServiceDescriptor, error) {
	b, ok := s.repo.Get(ctx, bridgeID)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("bridge %s not found", bridgeID))
	}
	return b.Services, nil
}

func (s *Service) GetService(ctx context.Context, serviceID string) (*ServiceDescriptor, error) {
	svc, ok := s.repo.GetService(ctx, serviceID)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("service %s not found", serviceID))
	}
	return svc, nil
}

// WebhookURL implements webhook.URLResolver.
func (s *Service) WebhookURL(bridgeID string) (string, bool) {
	b, ok := s.repo.Get(context.Background(), bridgeID)
	if !ok || b.WebhookURL == "" {
		return "", false
	}
	return b.WebhookURL, true
}

// seedServices provisions the default service descriptors a fresh bridge
// advertises until it publishes its own catalogue.
func seedServices(bridgeID string) []ServiceDescriptor {
	services := make([]ServiceDescriptor, 0, 2)
	for i := 1; i <= 2; i++ {
		services = append(services, ServiceDescriptor{
			ID:      fmt.Sprintf("%s-svc-%d", bridgeID, i),
			Name:    fmt.Sprintf("Service-%d", i),
			Active:  true,
			Version: "v1",
		})
	}
	return services
}

func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhookUrl is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhookUrl: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhookUrl scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}
