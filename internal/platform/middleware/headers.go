package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/abdm/gateway/internal/platform/apierr"
)

// Gateway protocol headers. Every mediated call must carry all three.
const (
	HeaderRequestID = "REQUEST-ID"
	HeaderTimestamp = "TIMESTAMP"
	HeaderCMID      = "X-CM-ID"
)

// GatewayHeaders rejects requests missing any of the required protocol
// headers, naming the missing ones so the bridge can fix its client.
func GatewayHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var missing []string
			for _, h := range []string{HeaderRequestID, HeaderTimestamp, HeaderCMID} {
				if c.Request().Header.Get(h) == "" {
					missing = append(missing, h)
				}
			}
			if len(missing) > 0 {
				return apierr.Validation("Missing required headers: " + strings.Join(missing, ", "))
			}
			return next(c)
		}
	}
}

// CMID returns the consent-manager id carried in the request headers.
func CMID(c echo.Context) string {
	return c.Request().Header.Get(HeaderCMID)
}
