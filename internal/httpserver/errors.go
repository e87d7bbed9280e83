package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/repo"
)

// fail maps service errors onto HTTP statuses. Only messages carried by an
// *errs.Error reach the client; everything else becomes a generic 500.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrAuthentication):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return echo.NewHTTPError(http.StatusUnauthorized, errs.Message(err, errs.ErrAuthentication.Error()))
	case errors.Is(err, errs.ErrAuthorization):
		return echo.NewHTTPError(http.StatusForbidden, errs.Message(err, errs.ErrAuthorization.Error()))
	case errors.Is(err, errs.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, errs.Message(err, errs.ErrValidation.Error()))
	case errors.Is(err, errs.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, errs.Message(err, errs.ErrRateLimited.Error()))
	case errors.Is(err, repo.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
