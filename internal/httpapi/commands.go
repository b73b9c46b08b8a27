package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"autoreg/internal/control"
)

type CommandHandler struct {
	cmd Commands
}

func NewCommandHandler(cmd Commands) *CommandHandler {
	return &CommandHandler{cmd: cmd}
}

func (h *CommandHandler) Register(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/run-now", h.RunNow)
	g.POST("/schedule", h.Schedule)
	g.POST("/cancel", h.Cancel)
	g.POST("/stop", h.Stop)
	g.POST("/configs", h.SaveConfigs)
	g.GET("/state", h.State)
	g.GET("/profiles", h.Profiles)
	g.GET("/history/:userId", h.History)
}

func (h *CommandHandler) RunNow(c echo.Context) error {
	var req control.RunRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ack, err := h.cmd.RunNow(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ack)
}

func (h *CommandHandler) Schedule(c echo.Context) error {
	var req control.ScheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ack, err := h.cmd.Schedule(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ack)
}

func (h *CommandHandler) Cancel(c echo.Context) error {
	var req control.UsersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.cmd.Cancel(req))
}

func (h *CommandHandler) Stop(c echo.Context) error {
	var req control.UsersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.cmd.Stop(req))
}

func (h *CommandHandler) SaveConfigs(c echo.Context) error {
	var req control.SaveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.cmd.SaveConfigs(req))
}

func (h *CommandHandler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cmd.State())
}

func (h *CommandHandler) Profiles(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cmd.Profiles())
}

// History accepts ?limit=N (default 20).
func (h *CommandHandler) History(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.cmd.History(c.Request().Context(), c.Param("userId"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// bind decodes the JSON body. An empty body leaves req at its zero value.
func bind(c echo.Context, req any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return nil
}
