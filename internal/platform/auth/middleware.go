package auth

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/abdm/gateway/internal/platform/apierr"
)

// Skipper reports whether a request bypasses bearer authentication.
type Skipper func(c echo.Context) bool

// DefaultSkipper exempts the session endpoint, health/metrics, and the
// /*/notify callbacks (counter-party pushes that carry no gateway session).
func DefaultSkipper(c echo.Context) bool {
	path := c.Request().URL.Path
	switch path {
	case "/health", "/metrics", "/api/auth/session", "/api/auth/certs":
		return true
	}
	return strings.HasSuffix(path, "/notify")
}

// Bearer validates the Authorization header on every mediated call and
// stores the caller identity on the echo context.
func Bearer(svc *TokenService, skipper Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return apierr.Auth("missing bearer token")
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				return apierr.Auth("invalid authorization format")
			}

			identity, err := svc.Validate(token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					return apierr.Auth("token expired")
				}
				return apierr.Auth("invalid token")
			}

			c.Set("client_id", identity.ClientID)
			c.Set("cm_id", identity.CMID)
			return next(c)
		}
	}
}
