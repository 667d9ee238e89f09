package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"timeoutproxy/internal/metrics"
	"timeoutproxy/internal/model"
	"timeoutproxy/internal/service"
)

// ProxyHandler is the front door: it hands every non-admin request to the
// proxy service and turns the result into an HTTP response.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request and streams the upstream response back unchanged.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		Host:          req.Host,
		RemoteAddr:    req.RemoteAddr,
		TLS:           req.TLS != nil,
		Received:      time.Now(),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.Set(metrics.RouteContextKey, resp.Route)

	// Upstream values replace anything middleware already set, such as
	// X-Request-Id.
	for key, vals := range resp.Header {
		c.Response().Header()[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)
	c.Response().Flush()

	// The status line is already on the wire, so a failure from here on can
	// only be signalled by cutting the connection. Failures on the upstream
	// side abort the response so the client never mistakes a truncated body
	// for a complete one.
	if _, err := io.Copy(flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"kind", model.KindOf(err).String(),
			"path", req.URL.Path,
			"route", resp.Route,
		)
		var pe *model.ProxyError
		if errors.As(err, &pe) {
			panic(http.ErrAbortHandler)
		}
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var pe *model.ProxyError
	if errors.As(err, &pe) && pe.Route != "" {
		c.Set(metrics.RouteContextKey, pe.Route)
	}

	kind := model.KindOf(err)
	h.logger.Error("proxy error",
		"err", err,
		"kind", kind.String(),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	switch kind {
	case model.ResultRouteNotFound:
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no route matches the request path",
		})

	case model.ResultUpstreamTimeout:
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream activity timed out",
		})

	// A route timeout surfaces as a client error, not a gateway error.
	case model.ResultRouteTimeout:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request exceeded the route timeout",
		})

	case model.ResultClientCanceled:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request canceled by client",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// flushWriter sends each chunk to the client as soon as the upstream
// produces it.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err == nil {
		w.res.Flush()
	}
	return n, err
}
