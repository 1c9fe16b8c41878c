package dataexchange

import (
	"encoding/json"
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

// RegisterRoutes mounts the exchange protocol on the communication group and
// the legacy compatibility surface on the data group. The legacy routes keep
// their original body shapes and responses: health-info records a HIP push,
// request-info opens a consent-less request, and notify is a one-way status
// ack mounted on the unauthenticated group. Only /communication/data-response
// drives the respond-data transition.
func (h *Handler) RegisterRoutes(comm, data, notify *echo.Group) {
	comm.POST("/data-request", h.Request)
	comm.POST("/data-response", h.Respond)

	data.POST("/health-info", h.HealthInfo)
	data.POST("/request-info", h.RequestInfo)
	data.GET("/request/:id", h.Status)
	notify.POST("/notify", h.DataFlowNotify)
}

type dataRequest struct {
	HIUID          string   `json:"hiuId"`
	HIPID          string   `json:"hipId"`
	PatientID      string   `json:"patientId"`
	ConsentID      string   `json:"consentId"`
	CareContextIDs []string `json:"careContextIds"`
	DataTypes      []string `json:"dataTypes"`
}

// Request handles POST /communication/data-request.
func (h *Handler) Request(c echo.Context) error {
	var req dataRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	created, err := h.svc.RequestData(c.Request().Context(),
		req.HIUID, req.HIPID, req.PatientID, req.ConsentID, req.CareContextIDs, req.DataTypes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"requestId": created.RequestID,
		"status":    created.Status,
	})
}

type dataResponse struct {
	RequestID string                 `json:"requestId"`
	PatientID string                 `json:"patientId"`
	Records   []json.RawMessage      `json:"records"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Respond handles POST /communication/data-response.
func (h *Handler) Respond(c echo.Context) error {
	var req dataResponse
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	ack, err := h.svc.RespondData(c.Request().Context(), req.RequestID, req.PatientID, req.Records, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ack)
}

type healthInfoRequest struct {
	TxnID         string                 `json:"txnId"`
	PatientID     string                 `json:"patientId"`
	HIPID         string                 `json:"hipId"`
	CareContextID string                 `json:"careContextId"`
	HealthInfo    json.RawMessage        `json:"healthInfo"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// HealthInfo handles the legacy POST /data/health-info.
func (h *Handler) HealthInfo(c echo.Context) error {
	var req healthInfoRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	p, err := h.svc.ReceiveHealthInfo(c.Request().Context(),
		req.TxnID, req.PatientID, req.HIPID, req.CareContextID, req.HealthInfo, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": p.Status,
		"txnId":  p.TxnID,
	})
}

type requestInfoRequest struct {
	PatientID     string   `json:"patientId"`
	HIPID         string   `json:"hipId"`
	CareContextID string   `json:"careContextId"`
	DataTypes     []string `json:"dataTypes"`
}

// RequestInfo handles the legacy POST /data/request-info.
func (h *Handler) RequestInfo(c echo.Context) error {
	var req requestInfoRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	r, err := h.svc.LegacyRequest(c.Request().Context(),
		req.PatientID, req.HIPID, req.CareContextID, req.DataTypes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"requestId": r.RequestID,
		"status":    r.Status,
	})
}

type dataFlowNotifyRequest struct {
	TxnID  string `json:"txnId"`
	Status string `json:"status"`
	HIPID  string `json:"hipId"`
}

// DataFlowNotify handles the legacy POST /data/notify.
func (h *Handler) DataFlowNotify(c echo.Context) error {
	var req dataFlowNotifyRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	status, err := h.svc.AckDataFlow(c.Request().Context(), req.TxnID, req.Status, req.HIPID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

// Status handles GET /data/request/:id.
func (h *Handler) Status(c echo.Context) error {
	r, err := h.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}
