package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"

	"github.com/labstack/echo/v4"
)

// registerPprof mounts the runtime profiles under /debug/pprof/ on the main
// listener. Only enable it on trusted networks.
func registerPprof(e *echo.Echo) {
	g := e.Group("/debug/pprof")
	g.GET("", func(c echo.Context) error {
		return c.Redirect(http.StatusPermanentRedirect, "/debug/pprof/")
	})
	g.GET("/", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	g.GET("/:name", func(c echo.Context) error {
		hpprof.Handler(c.Param("name")).ServeHTTP(c.Response(), c.Request())
		return nil
	})
}
