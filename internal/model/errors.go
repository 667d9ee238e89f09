package model

import (
	"errors"
	"fmt"
)

// ResultKind classifies how a proxied request failed.
type ResultKind int

const (
	// ResultUpstreamError covers connection failures and any unclassified upstream error.
	ResultUpstreamError ResultKind = iota
	// ResultRouteNotFound means no route prefix matched the request path.
	ResultRouteNotFound
	// ResultRouteTimeout means the route's total deadline expired.
	ResultRouteTimeout
	// ResultUpstreamTimeout means the cluster's activity timeout expired.
	ResultUpstreamTimeout
	// ResultClientCanceled means the client went away before the upstream answered.
	ResultClientCanceled
)

func (k ResultKind) String() string {
	switch k {
	case ResultRouteNotFound:
		return "route_not_found"
	case ResultRouteTimeout:
		return "route_timeout"
	case ResultUpstreamTimeout:
		return "upstream_timeout"
	case ResultClientCanceled:
		return "client_canceled"
	default:
		return "upstream_error"
	}
}

// ProxyError is the failure half of a proxy result.
type ProxyError struct {
	Kind    ResultKind
	Route   string
	Cluster string
	Cause   error
}

func (e *ProxyError) Error() string {
	switch {
	case e.Route != "" && e.Cluster != "":
		return fmt.Sprintf("proxy %s route=%s cluster=%s: %v", e.Kind, e.Route, e.Cluster, e.Cause)
	case e.Route != "":
		return fmt.Sprintf("proxy %s route=%s: %v", e.Kind, e.Route, e.Cause)
	default:
		return fmt.Sprintf("proxy %s: %v", e.Kind, e.Cause)
	}
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// KindOf returns the ResultKind carried by err, or ResultUpstreamError.
func KindOf(err error) ResultKind {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ResultUpstreamError
}
