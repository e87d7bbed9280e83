package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	CtxIdentity = "identity"

	roleAdmin = "admin"
)

type resolver interface {
	Identity(ctx context.Context, bearer string) (*Identity, error)
}

// Middleware authenticates requests in collaborator services by asking the
// auth service who the bearer is.
type Middleware struct {
	Client resolver
}

func NewMiddleware(c *Client) *Middleware {
	return &Middleware{Client: c}
}

func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		bearer := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
		scheme, token, ok := strings.Cut(bearer, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
		}

		id, err := m.Client.Identity(c.Request().Context(), bearer)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
			}
			return echo.NewHTTPError(http.StatusBadGateway, "auth service unavailable").SetInternal(err)
		}

		c.Set(CtxIdentity, *id)
		return next(c)
	}
}

// RequireRole admits the given role or admin. It must run after
// RequireAuth.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
			}
			if id.Role != role && id.Role != roleAdmin {
				return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("requires %s role", role))
			}
			return next(c)
		}
	}
}

func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(CtxIdentity).(Identity)
	return id, ok
}
