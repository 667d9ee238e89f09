// Package timeout decides which timeout governs a proxied request and
// enforces it through the request context.
//
// Two scopes exist and only one is active per request:
//
//   - Route scope is a total deadline measured from request arrival. It never
//     resets.
//   - Cluster scope is an activity timeout. It is reset by every observed
//     upstream read or write and fires only after the upstream has been idle
//     for the whole duration.
//
// When a timeout fires the request context is canceled with a cause
// (ErrRouteTimeout or ErrActivityTimeout) so callers can tell the scopes
// apart with Classify.
package timeout

import (
	"context"
	"errors"
	"time"
)

// Scope identifies which configuration level owns the effective timeout.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeRoute
	ScopeCluster
)

func (s Scope) String() string {
	switch s {
	case ScopeRoute:
		return "route"
	case ScopeCluster:
		return "cluster"
	default:
		return "none"
	}
}

var (
	// ErrRouteTimeout is the cancellation cause when a route deadline expires.
	ErrRouteTimeout = errors.New("route timeout exceeded")
	// ErrActivityTimeout is the cancellation cause when upstream activity stalls.
	ErrActivityTimeout = errors.New("upstream activity timeout exceeded")
)

// Policy is the effective timeout for one request.
type Policy struct {
	Scope    Scope
	Duration time.Duration
}

// Resolve picks the effective policy. A route timeout takes precedence over
// a cluster activity timeout; non-positive durations are treated as unset.
func Resolve(routeTimeout, clusterActivityTimeout time.Duration) Policy {
	switch {
	case routeTimeout > 0:
		return Policy{Scope: ScopeRoute, Duration: routeTimeout}
	case clusterActivityTimeout > 0:
		return Policy{Scope: ScopeCluster, Duration: clusterActivityTimeout}
	default:
		return Policy{Scope: ScopeNone}
	}
}

func (p Policy) String() string {
	if p.Scope == ScopeNone {
		return "none"
	}
	return p.Scope.String() + ":" + p.Duration.String()
}

// Apply derives the request context that enforces p. start is the request
// arrival time used by the route deadline; the zero value means now.
//
// The returned Watchdog is nil unless p is cluster-scoped. The cancel func
// must always be called once the request is finished.
func (p Policy) Apply(parent context.Context, start time.Time) (context.Context, *Watchdog, context.CancelFunc) {
	switch p.Scope {
	case ScopeRoute:
		if start.IsZero() {
			start = time.Now()
		}
		ctx, cancel := context.WithDeadlineCause(parent, start.Add(p.Duration), ErrRouteTimeout)
		return ctx, nil, cancel

	case ScopeCluster:
		ctx, cancelCause := context.WithCancelCause(parent)
		w := NewWatchdog(p.Duration, func() { cancelCause(ErrActivityTimeout) })
		ctx = WithWatchdog(ctx, w)
		return ctx, w, func() {
			w.Stop()
			cancelCause(context.Canceled)
		}

	default:
		ctx, cancel := context.WithCancel(parent)
		return ctx, nil, cancel
	}
}

// Classify reports which scope's timeout ended ctx, if any.
func Classify(ctx context.Context) (Scope, bool) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrRouteTimeout):
		return ScopeRoute, true
	case errors.Is(cause, ErrActivityTimeout):
		return ScopeCluster, true
	default:
		return ScopeNone, false
	}
}
