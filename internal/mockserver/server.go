// Package mockserver provides a programmable HTTP upstream for exercising the
// proxy: responses are stubbed by method and path, can be delayed, and every
// received request is recorded.
package mockserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 10 << 20 // 10 MB

// Stub is a canned response for requests matching Method and Path.
type Stub struct {
	// Method matches case-insensitively; empty matches any method.
	Method string
	// Path matches exactly; empty matches any path.
	Path    string
	Status  int
	Body    string
	Headers map[string]string
	// Delay is applied before the status line is written.
	Delay time.Duration
	// BodyDelay is applied after the headers are flushed and before the body.
	BodyDelay time.Duration
}

func (s Stub) matches(r *http.Request) bool {
	if s.Method != "" && !strings.EqualFold(s.Method, r.Method) {
		return false
	}
	return s.Path == "" || s.Path == r.URL.Path
}

// LogEntry records a request received by the mock. RequestURI is the
// request target exactly as it arrived, escapes included.
type LogEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	RequestURI string      `json:"request_uri"`
	RawQuery   string      `json:"raw_query,omitempty"`
	Header     http.Header `json:"header"`
	Body       string      `json:"body,omitempty"`
	Matched    bool        `json:"matched"`
}

// Server is the mock upstream. Its admin API lives under /__admin.
type Server struct {
	mu     sync.RWMutex
	stubs  []Stub
	log    []LogEntry
	router chi.Router
	logger *slog.Logger
}

// New creates a Server with no stubs.
func New(logger *slog.Logger) *Server {
	s := &Server{logger: logger.With("component", "mock_upstream")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/__admin", func(r chi.Router) {
		r.Get("/requests", s.handleListRequests)
		r.Post("/reset", s.handleReset)
	})
	r.NotFound(s.handleMock)
	r.MethodNotAllowed(s.handleMock)

	s.router = r
	return s
}

// Given registers a stub. Later stubs take precedence over earlier ones.
func (s *Server) Given(stub Stub) {
	if stub.Status == 0 {
		stub.Status = http.StatusOK
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, stub)
}

// LogEntries returns the recorded requests in arrival order.
func (s *Server) LogEntries() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// Reset drops all stubs and recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = nil
	s.log = nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleMock(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodySize))

	stub, ok := s.find(r)
	s.record(LogEntry{
		Timestamp:  time.Now(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RequestURI: r.RequestURI,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header.Clone(),
		Body:       string(body),
		Matched:    ok,
	})

	if !ok {
		s.logger.Debug("no stub matched", "method", r.Method, "path", r.URL.Path)
		http.Error(w, "no matching stub", http.StatusNotFound)
		return
	}

	if err := sleepContext(r.Context(), stub.Delay); err != nil {
		s.logger.Debug("request abandoned during delay", "path", r.URL.Path, "err", err)
		return
	}

	for k, v := range stub.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(stub.Status)

	if stub.BodyDelay > 0 {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if err := sleepContext(r.Context(), stub.BodyDelay); err != nil {
			s.logger.Debug("request abandoned during body delay", "path", r.URL.Path, "err", err)
			return
		}
	}

	_, _ = io.WriteString(w, stub.Body)
}

func (s *Server) find(r *http.Request) (Stub, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.stubs) - 1; i >= 0; i-- {
		if s.stubs[i].matches(r) {
			return s.stubs[i], true
		}
	}
	return Stub{}, false
}

func (s *Server) record(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
}

func (s *Server) handleListRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests": s.LogEntries(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
