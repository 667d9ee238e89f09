package timeout

import (
	"context"
	"io"
	"sync"
	"time"
)

// Watchdog fires once after its timeout elapses without a Touch.
//
// Touch only records the activity time; the timer re-arms itself lazily when
// it wakes up early, so hot read loops never reset a timer per call.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	last    time.Time
	fired   bool
	stopped bool
}

// NewWatchdog starts a watchdog that calls onExpire after timeout of inactivity.
func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	w := &Watchdog{
		timeout:  timeout,
		onExpire: onExpire,
		last:     time.Now(),
	}
	// expire takes mu, so it cannot observe a nil timer.
	w.mu.Lock()
	w.timer = time.AfterFunc(timeout, w.expire)
	w.mu.Unlock()
	return w
}

// Touch records upstream activity. It is safe to call on a nil Watchdog.
func (w *Watchdog) Touch() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.last = time.Now()
	w.mu.Unlock()
}

// Stop disarms the watchdog. It is safe to call on a nil Watchdog.
func (w *Watchdog) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}

// LastActivity returns when activity was last recorded.
func (w *Watchdog) LastActivity() time.Time {
	if w == nil {
		return time.Time{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Expired reports whether the watchdog has fired.
func (w *Watchdog) Expired() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	if w.stopped || w.fired {
		w.mu.Unlock()
		return
	}
	if idle := time.Since(w.last); idle < w.timeout {
		w.timer.Reset(w.timeout - idle)
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.onExpire()
}

type watchdogKey struct{}

// WithWatchdog returns a copy of ctx carrying w.
func WithWatchdog(ctx context.Context, w *Watchdog) context.Context {
	return context.WithValue(ctx, watchdogKey{}, w)
}

// WatchdogFrom returns the watchdog stored in ctx, or nil.
func WatchdogFrom(ctx context.Context) *Watchdog {
	w, _ := ctx.Value(watchdogKey{}).(*Watchdog)
	return w
}

// activityReader touches a watchdog whenever bytes flow through it.
type activityReader struct {
	rc io.ReadCloser
	w  *Watchdog
}

// NewActivityReader wraps rc so that every successful read counts as upstream
// activity. When w is nil rc is returned unchanged.
func NewActivityReader(rc io.ReadCloser, w *Watchdog) io.ReadCloser {
	if w == nil || rc == nil {
		return rc
	}
	return &activityReader{rc: rc, w: w}
}

func (r *activityReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.w.Touch()
	}
	return n, err
}

func (r *activityReader) Close() error {
	return r.rc.Close()
}
