package bridge

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/abdm/gateway/internal/platform/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/register", h.Register)
	g.PATCH("/url", h.UpdateURL)
	g.GET("/:id/services", h.ListServices)
	g.GET("/service/:id", h.GetService)
}

type registerRequest struct {
	BridgeID   string `json:"bridgeId"`
	EntityType string `json:"entityType"`
	Name       string `json:"name"`
}

// Register handles POST /bridge/register.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	b, err := h.svc.Register(c.Request().Context(), req.BridgeID, Role(req.EntityType), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"bridgeId":   b.BridgeID,
		"entityType": b.Role,
		"name":       b.Name,
	})
}

type updateURLRequest struct {
	BridgeID   string `json:"bridgeId"`
	WebhookURL string `json:"webhookUrl"`
}

// UpdateURL handles PATCH /bridge/url.
func (h *Handler) UpdateURL(c echo.Context) error {
	var req updateURLRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	b, err := h.svc.SetWebhookURL(c.Request().Context(), req.BridgeID, req.WebhookURL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"bridgeId":   b.BridgeID,
		"webhookUrl": b.WebhookURL,
	})
}

// ListServices handles GET /bridge/:id/services.
func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.svc.ListServices(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, services)
}

// GetService handles GET /bridge/service/:id.
func (h *Handler) GetService(c echo.Context) error {
	svc, err := h.svc.GetService(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}
