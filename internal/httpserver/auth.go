package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/claims_auth/internal/gate"
	"github.com/Skotchmaster/claims_auth/internal/logging"
	"github.com/Skotchmaster/claims_auth/internal/service"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

func toTokenResponse(res *service.LoginResult, now time.Time) tokenResponse {
	return tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		ExpiresIn:    int64(res.AccessExp.Sub(now).Seconds()),
		AccessExp:    res.AccessExp.Unix(),
		RefreshExp:   res.RefreshExp.Unix(),
		Role:         res.Role,
	}
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Svc.Register(ctx, req)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, registerResponse{
		Message:  "User registered successfully",
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(res, time.Now()))
}

// Refresh takes the token from the JSON body or, failing that, from the
// refresh_token query parameter.
func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("refresh_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.QueryParam("refresh_token")
	}

	res, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(res, time.Now()))
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	id, ok := gate.FromContext(c)
	if !ok {
		return fail(c, errMissingIdentity)
	}

	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("logout_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.QueryParam("refresh_token")
	}

	if err := h.Svc.LogOut(ctx, req.RefreshToken, id); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (h *AuthHTTP) RequestPasswordReset(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_request_reset")

	var req resetRequestRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("reset_request_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ack, err := h.Svc.RequestReset(ctx, req.Email)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: ack})
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_reset")

	var req resetRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("reset_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.Reset(ctx, req.Token, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

func (h *AuthHTTP) Me(c echo.Context) error {
	id, ok := gate.FromContext(c)
	if !ok {
		return fail(c, errMissingIdentity)
	}

	user, err := h.Svc.Me(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// Identity resolves the bearer token without touching the database.
func (h *AuthHTTP) Identity(c echo.Context) error {
	id, err := h.Svc.CurrentIdentity(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, id)
}

func (h *AuthHTTP) RevokeSessions(c echo.Context) error {
	actor, ok := gate.FromContext(c)
	if !ok {
		return fail(c, errMissingIdentity)
	}

	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || userID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	n, err := h.Svc.RevokeSessions(c.Request().Context(), actor, uint(userID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, revokeResponse{UserID: uint(userID), Revoked: n})
}
