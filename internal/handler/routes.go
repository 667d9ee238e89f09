package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timeoutproxy/internal/config"
	"timeoutproxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Admin
// endpoints are static routes and take precedence over the proxy catch-all.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)

	// Any only covers the methods echo knows about. Methods such as MKCOL or
	// PURGE find no handler on the matched node and would get a 405; the
	// not-found handler on the same nodes takes them instead.
	e.RouteNotFound("/", proxy.Handle)
	e.RouteNotFound("/*", proxy.Handle)
}
