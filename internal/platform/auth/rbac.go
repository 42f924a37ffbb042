package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireAuthority returns middleware that lets the request through when the
// acting user holds any of authorities. ALL satisfies every check.
func RequireAuthority(authorities ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := UserFromContext(c.Request().Context())
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
			}
			for _, required := range authorities {
				if user.IsAuthorized(required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required authority: %s", strings.Join(authorities, " or ")))
		}
	}
}
