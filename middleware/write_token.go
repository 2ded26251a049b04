package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// ContextKeyWriteAuthorized is set on the context once a write token was accepted
const ContextKeyWriteAuthorized = "write_authorized"

// RequireWriteToken guards write routes with a shared bearer token. tokenHash is the
// bcrypt hash of the token; an empty hash leaves the routes open.
func RequireWriteToken(tokenHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tokenHash == "" {
				return next(c)
			}

			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="write"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing bearer token")
			}

			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "Invalid token")
			}

			c.Set(ContextKeyWriteAuthorized, true)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
