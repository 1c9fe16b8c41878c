package linking

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

// RegisterRoutes mounts the linking lifecycle. notify is a counter-party
// callback and is mounted on the unauthenticated group.
func (h *Handler) RegisterRoutes(g, notify *echo.Group) {
	g.POST("/token/generate", h.GenerateToken)
	g.POST("/carecontext", h.CareContexts)
	g.POST("/discover", h.Discover)
	g.POST("/init", h.Init)
	g.POST("/confirm", h.Confirm)
	g.GET("/patient/:patientId", h.PatientLinks)
	notify.POST("/notify", h.Notify)
}

type tokenRequest struct {
	PatientID string `json:"patientId"`
	HIPID     string `json:"hipId"`
}

// GenerateToken handles POST /link/token/generate.
func (h *Handler) GenerateToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	t, err := h.svc.GenerateLinkToken(c.Request().Context(), req.PatientID, req.HIPID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":     t.Value,
		"expiresIn": h.svc.ExpiresIn(),
	})
}

type careContextRequest struct {
	PatientID    string        `json:"patientId"`
	LinkToken    string        `json:"linkToken"`
	CareContexts []CareContext `json:"careContexts"`
}

// CareContexts handles POST /link/carecontext.
func (h *Handler) CareContexts(c echo.Context) error {
	var req careContextRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	status, err := h.svc.LinkCareContexts(c.Request().Context(), req.PatientID, req.LinkToken, req.CareContexts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patientId": req.PatientID,
		"status":    status,
	})
}

type discoverRequest struct {
	Mobile string `json:"mobile"`
	Name   string `json:"name"`
}

// Discover handles POST /link/discover.
func (h *Handler) Discover(c echo.Context) error {
	var req discoverRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	patientID, status, err := h.svc.DiscoverPatient(c.Request().Context(), req.Mobile, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patientId": patientID,
		"status":    status,
	})
}

type initLinkRequest struct {
	PatientID string `json:"patientId"`
	TxnID     string `json:"txnId"`
}

// Init handles POST /link/init.
func (h *Handler) Init(c echo.Context) error {
	var req initLinkRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	session, err := h.svc.InitLink(c.Request().Context(), req.PatientID, req.TxnID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"txnId":  session.TxnID,
		"status": session.Status,
	})
}

type confirmRequest struct {
	PatientID string `json:"patientId"`
	TxnID     string `json:"txnId"`
	OTP       string `json:"otp"`
}

// Confirm handles POST /link/confirm.
func (h *Handler) Confirm(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	session, err := h.svc.ConfirmLink(c.Request().Context(), req.PatientID, req.TxnID, req.OTP)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"txnId":  session.TxnID,
		"status": session.Status,
	})
}

// PatientLinks handles GET /link/patient/:patientId.
func (h *Handler) PatientLinks(c echo.Context) error {
	links := h.svc.LinksByPatient(c.Request().Context(), c.Param("patientId"))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patientId": c.Param("patientId"),
		"links":     links,
	})
}

type notifyLinkRequest struct {
	TxnID  string        `json:"txnId"`
	Status SessionStatus `json:"status"`
}

// Notify handles POST /link/notify.
func (h *Handler) Notify(c echo.Context) error {
	var req notifyLinkRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	session, err := h.svc.NotifyLink(c.Request().Context(), req.TxnID, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"txnId":  session.TxnID,
		"status": session.Status,
	})
}
