package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/gate"
	loggingmw "github.com/Skotchmaster/claims_auth/internal/middleware/logging"
	"github.com/Skotchmaster/claims_auth/internal/models"
)

var errMissingIdentity = errs.Unauthenticated(errs.ErrAuthentication.Error())

type Deps struct {
	AuthHandler *AuthHTTP
	Gate        *gate.Gate
	Ready       func(ctx context.Context) error
	Metrics     http.Handler
}

// New builds the echo instance with the service's middleware stack and
// routes.
func New(log *slog.Logger, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(loggingmw.RequestLogger(log))

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "unhealthy").SetInternal(err)
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}

	auth := e.Group("/api/auth")
	auth.POST("/register", d.AuthHandler.Register)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh", d.AuthHandler.Refresh)
	auth.POST("/request-password-reset", d.AuthHandler.RequestPasswordReset)
	auth.POST("/reset-password", d.AuthHandler.ResetPassword)
	auth.GET("/identity", d.AuthHandler.Identity)

	private := auth.Group("")
	private.Use(d.Gate.RequireAuth)
	private.POST("/logout", d.AuthHandler.LogOut)
	private.GET("/me", d.AuthHandler.Me)

	admin := e.Group("/api/admin")
	admin.Use(d.Gate.RequireAuth, gate.RequireRole(models.RoleAdmin).Middleware)
	admin.POST("/users/:id/revoke-sessions", d.AuthHandler.RevokeSessions)
}
