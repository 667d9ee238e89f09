// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ProxyRequest represents an in-flight client request to be forwarded upstream.
// ContentLength follows net/http semantics: -1 is unknown, 0 is an empty body.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // escaped form of Path, as received
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	Host          string
	RemoteAddr    string
	TLS           bool
	Received      time.Time
}

// ProxyResponse represents the upstream response to be streamed back.
// The caller must close Body; closing it releases the upstream connection
// and the request's timeout resources.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Route      string
	Cluster    string
}
