package gate

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/claims_auth/internal/errs"
)

const ctxIdentity = "identity"

func unauthorized() error {
	return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrAuthentication.Error())
}

// RequireAuth reads the Authorization header and stores the identity on
// the echo context.
func (g *Gate) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := g.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return unauthorized()
		}
		c.Set(ctxIdentity, id)
		return next(c)
	}
}

// Middleware must run after RequireAuth.
func (g RoleGate) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := FromContext(c)
		if !ok {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return unauthorized()
		}
		if _, err := g.Require(id); err != nil {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return next(c)
	}
}

func FromContext(c echo.Context) (Identity, bool) {
	id, ok := c.Get(ctxIdentity).(Identity)
	return id, ok
}
