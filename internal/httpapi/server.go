// Package httpapi binds the control commands to HTTP with echo: JSON
// command endpoints, the SSE progress stream, health, pprof and static files.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"autoreg/internal/control"
	"autoreg/internal/progress"
	logx "autoreg/pkg/logx"
)

// Commands is the command surface served over HTTP.
type Commands interface {
	RunNow(ctx context.Context, req control.RunRequest) (control.Ack, error)
	Schedule(ctx context.Context, req control.ScheduleRequest) (control.Ack, error)
	Cancel(req control.UsersRequest) control.Ack
	Stop(req control.UsersRequest) control.Ack
	SaveConfigs(req control.SaveRequest) control.Ack
	Subscribe(buffer int) (<-chan progress.Notification, func(), progress.Notification)
	State() control.StateView
	History(ctx context.Context, userID string, limit int) ([]control.RunView, error)
	Profiles() []control.Profile
}

// HealthFunc reports extra health details merged into /healthz.
type HealthFunc func() map[string]any

type Config struct {
	Addr         string
	StaticDir    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool
	// KeepAlive is the SSE comment interval; 0 means 15s.
	KeepAlive time.Duration
}

// Server owns the echo instance. Serve may be called again after it returns.
type Server struct {
	cfg Config
	log logx.Logger
	e   *echo.Echo

	mu     sync.Mutex
	srv    *http.Server
	cancel context.CancelFunc
}

func New(cfg Config, cmd Commands, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	NewCommandHandler(cmd).Register(e)
	NewEventsHandler(cmd, cfg.KeepAlive, log).Register(e)
	NewHealthHandler(health).Register(e)
	if cfg.Pprof {
		registerPprof(e)
	}
	if dir := strings.TrimSpace(cfg.StaticDir); dir != "" {
		e.Static("/", dir)
	}

	return &Server{cfg: cfg, log: log, e: e}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Serve listens on cfg.Addr and serves until ctx ends or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	base, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := &http.Server{
		Handler:      s.e,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	s.mu.Lock()
	s.srv, s.cancel = srv, cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes the listener, ends open SSE streams and waits for
// handlers until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.srv, s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	return err
}

func requestLogger(log logx.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if strings.HasPrefix(c.Path(), "/api/") {
				log.Debug("http request",
					logx.String("method", c.Request().Method),
					logx.String("path", c.Request().URL.Path),
					logx.Int("status", c.Response().Status),
					logx.Duration("took", time.Since(start)),
				)
			}
			return err
		}
	}
}
