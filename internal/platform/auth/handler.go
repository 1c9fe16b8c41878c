package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/internal/platform/middleware"
)

type Handler struct {
	svc *TokenService
}

func NewHandler(svc *TokenService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/session", h.CreateSession, middleware.GatewayHeaders())
	g.GET("/certs", h.Certs)
}

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
}

// CreateSession handles POST /auth/session.
func (h *Handler) CreateSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation(err.Error())
	}
	if req.GrantType != "client_credentials" {
		return apierr.Validation("only client_credentials grant type is supported")
	}

	session, err := h.svc.Issue(req.ClientID, req.ClientSecret, middleware.CMID(c))
	if err != nil {
		return apierr.Auth("invalid client credentials")
	}
	return c.JSON(http.StatusOK, session)
}

// Certs handles GET /auth/certs. Placeholder public key document; webhook
// payload signing uses a shared HMAC secret, not these keys.
func (h *Handler) Certs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{
			{
				"kty": "RSA",
				"use": "sig",
				"kid": "demo-key-1",
				"alg": "RS256",
				"n":   "placeholder",
				"e":   "AQAB",
			},
		},
	})
}
