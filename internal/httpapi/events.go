package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"autoreg/internal/progress"
	logx "autoreg/pkg/logx"
)

// EventsHandler streams progress notifications as Server-Sent Events.
type EventsHandler struct {
	cmd       Commands
	keepAlive time.Duration
	log       logx.Logger
}

func NewEventsHandler(cmd Commands, keepAlive time.Duration, log logx.Logger) *EventsHandler {
	return &EventsHandler{cmd: cmd, keepAlive: keepAlive, log: log}
}

func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/api/events", h.Stream)
}

// Stream writes the initial state first, then every live notification, until
// the client disconnects.
func (h *EventsHandler) Stream(c echo.Context) error {
	events, unsubscribe, initial := h.cmd.Subscribe(64)
	defer unsubscribe()

	id := uuid.NewString()
	log := h.log.With(logx.String("subscriber", id))
	log.Debug("sse client connected", logx.String("remote", c.RealIP()))
	defer log.Debug("sse client disconnected")

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, initial); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, n); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, n progress.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.Flush()
	return nil
}
