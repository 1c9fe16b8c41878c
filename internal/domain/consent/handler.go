package consent

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

// RegisterRoutes mounts the consent lifecycle. notify is a counter-party
// callback and is mounted on the unauthenticated group.
func (h *Handler) RegisterRoutes(g, notify *echo.Group) {
	g.POST("/init", h.Init)
	g.GET("/status/:id", h.Status)
	g.POST("/fetch", h.Fetch)
	notify.POST("/notify", h.Notify)
}

type initRequest struct {
	PatientID string  `json:"patientId"`
	HIPID     string  `json:"hipId"`
	Purpose   Purpose `json:"purpose"`
}

// Init handles POST /consent/init.
func (h *Handler) Init(c echo.Context) error {
	var req initRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	created, err := h.svc.Init(c.Request().Context(), req.PatientID, req.HIPID, req.Purpose)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"consentRequestId": created.ConsentRequestID,
		"status":           created.Status,
	})
}

// Status handles GET /consent/status/:id.
func (h *Handler) Status(c echo.Context) error {
	req, err := h.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"consentRequestId": req.ConsentRequestID,
		"status":           req.Status,
		"grantedAt":        req.GrantedAt,
	})
}

type fetchRequest struct {
	ConsentRequestID string `json:"consentRequestId"`
}

// Fetch handles POST /consent/fetch.
func (h *Handler) Fetch(c echo.Context) error {
	var req fetchRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	artefact, err := h.svc.Fetch(c.Request().Context(), req.ConsentRequestID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"consentRequestId": artefact.ConsentRequestID,
		"status":           StatusGranted,
		"consentArtefact":  artefact,
	})
}

type notifyRequest struct {
	ConsentRequestID string `json:"consentRequestId"`
	Status           Status `json:"status"`
}

// Notify handles POST /consent/notify.
func (h *Handler) Notify(c echo.Context) error {
	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	updated, err := h.svc.Notify(c.Request().Context(), req.ConsentRequestID, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"consentRequestId": updated.ConsentRequestID,
		"status":           updated.Status,
	})
}
