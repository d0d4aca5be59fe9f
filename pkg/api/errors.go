package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAccessDenied) {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	if errors.Is(err, fabric.ErrConnectionLimit) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection limit exceeded")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// connectionLimitBody is the JSON body for 429 responses on stream
// endpoints, carrying a machine-readable code.
type connectionLimitBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newConnectionLimitBody() connectionLimitBody {
	var body connectionLimitBody
	body.Error.Code = "CONNECTION_LIMIT"
	body.Error.Message = "too many concurrent connections for this organization"
	return body
}
