package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"autoreg/internal/control"
	logx "autoreg/pkg/logx"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorHandler(log logx.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := http.StatusInternalServerError, err.Error()

		var he *echo.HTTPError
		var ce *control.Error
		switch {
		case errors.As(err, &ce):
			code, msg = http.StatusBadRequest, ce.Msg
		case errors.Is(err, control.ErrHistoryDisabled):
			code = http.StatusNotFound
		case errors.As(err, &he):
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		default:
			log.Error("http handler failed", logx.String("path", c.Request().URL.Path), logx.Err(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{Success: false, Error: msg})
	}
}
