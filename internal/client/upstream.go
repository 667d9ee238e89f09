// Package client provides the pooled HTTP client used to reach upstream clusters.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"timeoutproxy/internal/config"
	"timeoutproxy/internal/metrics"
	"timeoutproxy/internal/model"
	"timeoutproxy/internal/timeout"
)

// UpstreamClient sends requests to upstream clusters.
//
// It carries no total timeout of its own: the request context decides when
// an exchange is abandoned. Idle connections are pooled per upstream host by
// the underlying transport.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialTimeout := cfg.Upstream.DialTimeout.Std()
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects belong to the client, not the proxy.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against a cluster and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request, cluster string) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"cluster", cluster,
		"method", req.Method,
		"url", req.URL.String(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(cluster, method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(cluster, method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(cluster, method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Cluster:    cluster,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
//
// The provided context controls the lifetime of the upstream exchange: when
// it is canceled (client disconnect or timeout expiry) the upstream
// connection is torn down. If the context carries an activity watchdog,
// connection setup, request writes and the first response byte count as
// activity.
func (c *UpstreamClient) DoStream(ctx context.Context, cluster, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	if w := timeout.WatchdogFrom(ctx); w != nil {
		ctx = httptrace.WithClientTrace(ctx, activityTrace(w))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil && body != http.NoBody {
		req.ContentLength = contentLength
	}
	req.Header = header

	return c.Do(req, cluster)
}

func activityTrace(w *timeout.Watchdog) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn:              func(httptrace.GotConnInfo) { w.Touch() },
		WroteHeaders:         w.Touch,
		WroteRequest:         func(httptrace.WroteRequestInfo) { w.Touch() },
		Got100Continue:       w.Touch,
		GotFirstResponseByte: w.Touch,
	}
}
