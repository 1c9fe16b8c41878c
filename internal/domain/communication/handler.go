package communication

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/send-message", h.Send)
	g.GET("/messages/:bridgeId", h.Messages)
}

type sendRequest struct {
	FromBridgeID string          `json:"fromBridgeId"`
	ToBridgeID   string          `json:"toBridgeId"`
	MessageType  string          `json:"messageType"`
	Payload      json.RawMessage `json:"payload"`
}

// Send handles POST /communication/send-message.
func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	receipt, err := h.svc.Send(c.Request().Context(), req.FromBridgeID, req.ToBridgeID, req.MessageType, req.Payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

// Messages handles GET /communication/messages/:bridgeId. The audit log
// orders events deterministically, so limit/offset paging is stable.
func (h *Handler) Messages(c echo.Context) error {
	events, err := h.svc.Messages(c.Request().Context(), c.Param("bridgeId"))
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	start, end := p.Window(len(events))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"bridgeId": c.Param("bridgeId"),
		"messages": pagination.NewResponse(events[start:end], len(events), p),
	})
}
