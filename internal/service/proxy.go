// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"timeoutproxy/internal/client"
	"timeoutproxy/internal/metrics"
	"timeoutproxy/internal/model"
	"timeoutproxy/internal/routing"
	"timeoutproxy/internal/timeout"
)

// hopByHopHeaders are headers that apply to a single connection and must not
// be forwarded by proxies in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService matches requests to routes and forwards them to clusters
// under the route's effective timeout policy.
type ProxyService struct {
	client   *client.UpstreamClient
	routes   *routing.RouteTable
	clusters *routing.ClusterRegistry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	c *client.UpstreamClient,
	routes *routing.RouteTable,
	clusters *routing.ClusterRegistry,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ProxyService {
	return &ProxyService{
		client:   c,
		routes:   routes,
		clusters: clusters,
		metrics:  m,
		logger:   logger.With("component", "proxy_service"),
	}
}

// Forward sends a ProxyRequest to the cluster behind its matching route and
// returns the response. Exactly one attempt is made.
//
// On success the caller must close the response body; doing so releases the
// upstream connection and the request's timeout. On failure the error is a
// *model.ProxyError describing which outcome occurred.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	route, err := s.routes.Match(pr.Path)
	if err != nil {
		return nil, &model.ProxyError{Kind: model.ResultRouteNotFound, Cause: err}
	}

	cluster, err := s.clusters.Resolve(route.ClusterID)
	if err != nil {
		return nil, &model.ProxyError{Kind: model.ResultUpstreamError, Route: route.ID, Cause: err}
	}

	policy := timeout.Resolve(route.Timeout, cluster.ActivityTimeout)
	ctx, watchdog, cancel := policy.Apply(pr.Ctx, pr.Received)

	path, rawPath := upstreamPaths(route, pr)
	upstreamURL := buildUpstreamURL(cluster.BaseURL, path, rawPath, pr.RawQuery)
	header := outboundHeaders(pr)
	body, contentLength := requestBody(pr, watchdog)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"route", route.ID,
		"cluster", cluster.ID,
		"policy", policy.String(),
	)

	resp, err := s.client.DoStream(ctx, cluster.ID, pr.Method, upstreamURL, header, body, contentLength)
	if err != nil {
		kind := s.classify(ctx, pr.Ctx, route.ID)
		cancel()
		return nil, &model.ProxyError{
			Kind:    kind,
			Route:   route.ID,
			Cluster: cluster.ID,
			Cause:   fmt.Errorf("forward to upstream: %w", err),
		}
	}

	resp.Header = filterResponseHeaders(resp.Header)
	resp.Route = route.ID
	resp.Cluster = cluster.ID
	resp.Body = &upstreamBody{
		rc:      timeout.NewActivityReader(resp.Body, watchdog),
		ctx:     ctx,
		parent:  pr.Ctx,
		release: cancel,
		service: s,
		route:   route.ID,
		cluster: cluster.ID,
	}
	return resp, nil
}

// classify decides which outcome ended a failed exchange. Timeout causes on
// the policy context win over client cancellation.
func (s *ProxyService) classify(ctx, parent context.Context, route string) model.ResultKind {
	if scope, ok := timeout.Classify(ctx); ok {
		if s.metrics != nil {
			s.metrics.Timeouts.WithLabelValues(scope.String(), route).Inc()
		}
		if scope == timeout.ScopeRoute {
			return model.ResultRouteTimeout
		}
		return model.ResultUpstreamTimeout
	}
	if parent.Err() != nil {
		return model.ResultClientCanceled
	}
	return model.ResultUpstreamError
}

// upstreamBody ties the upstream response stream to the request's timeout
// resources and labels read failures with their outcome.
type upstreamBody struct {
	rc      io.ReadCloser
	ctx     context.Context
	parent  context.Context
	release context.CancelFunc
	service *ProxyService
	route   string
	cluster string
	once    sync.Once
}

func (b *upstreamBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &model.ProxyError{
			Kind:    b.service.classify(b.ctx, b.parent, b.route),
			Route:   b.route,
			Cluster: b.cluster,
			Cause:   fmt.Errorf("read upstream body: %w", err),
		}
	}
	return n, err
}

func (b *upstreamBody) Close() error {
	err := b.rc.Close()
	b.once.Do(b.release)
	return err
}

// upstreamPaths returns the decoded and escaped upstream paths for pr. The
// escaped form is empty when the inbound path carried no escapes worth
// keeping or when its escapes overlap the route prefix.
func upstreamPaths(route *routing.Route, pr *model.ProxyRequest) (path, rawPath string) {
	path = route.UpstreamPath(pr.Path)
	if pr.RawPath != "" && pr.RawPath != pr.Path && route.Matches(pr.RawPath) {
		rawPath = route.UpstreamPath(pr.RawPath)
	}
	return path, rawPath
}

func buildUpstreamURL(base *url.URL, path, rawPath, rawQuery string) string {
	u := *base
	u.Path = singleJoiningSlash(base.Path, path)
	u.RawPath = ""
	if rawPath != "" {
		u.RawPath = singleJoiningSlash(base.EscapedPath(), rawPath)
	}
	u.RawQuery = rawQuery
	return u.String()
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// outboundHeaders copies the inbound headers minus hop-by-hop fields and
// adds the X-Forwarded-* set.
func outboundHeaders(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)

	if clientIP, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil {
		if prior := dst.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		dst.Set("X-Forwarded-For", clientIP)
	}
	if pr.TLS {
		dst.Set("X-Forwarded-Proto", "https")
	} else {
		dst.Set("X-Forwarded-Proto", "http")
	}
	if pr.Host != "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	return dst
}

// filterResponseHeaders drops hop-by-hop fields; everything else passes through.
func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

// removeHopByHop deletes the standard hop-by-hop headers and any header
// named in the Connection field.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// requestBody returns the body to send upstream. Bytes read from it count as
// upstream activity.
func requestBody(pr *model.ProxyRequest, w *timeout.Watchdog) (io.Reader, int64) {
	if pr.Body == nil || pr.Body == http.NoBody || pr.ContentLength == 0 {
		return http.NoBody, 0
	}
	return timeout.NewActivityReader(pr.Body, w), pr.ContentLength
}
