package auth

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
)

const (
	ownerIDKey      = "solvd.owner_id"
	maxCallerLength = 256
)

// CallerMiddleware trusts the caller name a fronting proxy puts in header
// (v1.CallerHeader when empty). The derived owner ID is stored on the Echo
// context for handlers and on the request context for log correlation.
// Requests without a usable caller get 401.
func CallerMiddleware(header string) echo.MiddlewareFunc {
	if header == "" {
		header = v1.CallerHeader
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := strings.TrimSpace(c.Request().Header.Get(header))
			if !validCaller(caller) {
				return unauthorized(c, "authentication failed: missing or invalid "+header+" header")
			}

			ownerID, err := DeriveOwnerID(caller)
			if err != nil {
				return unauthorized(c, "authentication failed: unable to derive owner ID")
			}

			c.Set(ownerIDKey, ownerID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithOwnerID(req.Context(), ownerID)))
			return next(c)
		}
	}
}

// OwnerID returns the authenticated owner ID, or "" when the request did
// not pass CallerMiddleware.
func OwnerID(c echo.Context) string {
	id, _ := c.Get(ownerIDKey).(string)
	return id
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, v1.ErrorResponse{Code: v1.CodeUnauthorized, Message: msg})
}

func validCaller(s string) bool {
	if s == "" || len(s) > maxCallerLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
