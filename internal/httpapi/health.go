package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthHandler struct {
	started time.Time
	extra   HealthFunc
}

func NewHealthHandler(extra HealthFunc) *HealthHandler {
	return &HealthHandler{started: time.Now(), extra: extra}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	out := map[string]any{}
	if h.extra != nil {
		for k, v := range h.extra() {
			out[k] = v
		}
	}
	out["status"] = "ok"
	out["uptime"] = time.Since(h.started).Round(time.Second).String()
	return c.JSON(http.StatusOK, out)
}
