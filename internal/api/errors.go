package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cora-hq/cora/internal/chat"
	"github.com/cora-hq/cora/internal/service"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

var kindStatus = []struct {
	kind   error
	status int
}{
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrUnauthorized, http.StatusUnauthorized},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrConflict, http.StatusConflict},
	{service.ErrLimitReached, http.StatusTooManyRequests},
	{chat.ErrEmptyMessage, http.StatusBadRequest},
	{chat.ErrMessageTooLong, http.StatusBadRequest},
	{chat.ErrInvalidState, http.StatusBadRequest},
	{chat.ErrLimitReached, http.StatusTooManyRequests},
}

// errorStatus maps an error to a status code and client-facing message.
func errorStatus(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		case nil:
		default:
			msg = fmt.Sprint(m)
		}
		return he.Code, msg
	}

	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			var se *service.Error
			if errors.As(err, &se) {
				return ks.status, se.Message
			}
			if errors.Is(err, chat.ErrInvalidState) {
				return ks.status, chat.ErrInvalidState.Error()
			}
			return ks.status, err.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// handleError renders {"error": "..."} for every failed request.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: msg})
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

var errInvalidBody = echo.NewHTTPError(http.StatusBadRequest, "invalid request body")

// bind decodes the JSON body into v.
func bind(c echo.Context, v any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return errInvalidBody
	}
	return nil
}
