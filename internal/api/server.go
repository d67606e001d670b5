package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	googleuuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/id/uuid"
	"github.com/JakeFAU/sessioncrawler/internal/metrics"
	"github.com/JakeFAU/sessioncrawler/internal/session"
)

// Crawler is the session surface the API drives.
type Crawler interface {
	Run(ctx context.Context, seeds []string, opts session.Options) (session.Summary, error)
	Cleanup(ctx context.Context, sessionID string) error
	Pending(ctx context.Context, sessionID string) (int64, error)
	Results(ctx context.Context, sessionID string) (int64, error)
}

// ReadyFunc reports whether a backing store is reachable.
type ReadyFunc func(ctx context.Context) error

// DefaultMaxFinishedRuns is how many finished sessions keep their outcome in memory.
const DefaultMaxFinishedRuns = 1000

// Config carries the defaults applied to new sessions.
type Config struct {
	APIKey          string
	Defaults        session.Options
	// MaxFinishedRuns bounds the outcomes kept for finished sessions. Older
	// ones are forgotten and GET falls back to the store counts.
	MaxFinishedRuns int
}

// Server wires HTTP handlers to the crawler.
type Server struct {
	router  chi.Router
	crawler Crawler
	ids     crawler.IDGenerator
	ready   []ReadyFunc
	cfg     Config
	logger  *zap.Logger

	baseCtx  context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	runs     map[string]*run
	// finished lists completed runs oldest first.
	finished []finishedRun
	wg       sync.WaitGroup
}

type finishedRun struct {
	sessionID string
	state     *run
}

// run is the state of a session started through the API.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	summary session.Summary
	err     error
}

// NewServer constructs a Server with middleware and routes.
func NewServer(c Crawler, ids crawler.IDGenerator, cfg Config, logger *zap.Logger, ready ...ReadyFunc) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	if cfg.MaxFinishedRuns <= 0 {
		cfg.MaxFinishedRuns = DefaultMaxFinishedRuns
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		crawler: c,
		ids:     ids,
		ready:   ready,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
		stop:    stop,
		runs:    make(map[string]*run),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/cancel", s.cancelSession)
				r.Delete("/", s.deleteSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels running sessions and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error(), s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type startSessionRequest struct {
	Seeds          []string `json:"seeds"`
	Includes       []string `json:"includes"`
	Excludes       []string `json:"excludes"`
	Concurrency    *int     `json:"concurrency"`
	MaxDepth       *int     `json:"max_depth"`
	MaxAccessCount *int64   `json:"max_access_count"`
	ClearOnFinish  *bool    `json:"clear_on_finish"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Running   bool   `json:"running"`
	Pending   int64  `json:"pending"`
	Results   int64  `json:"results"`
	Outcome   string `json:"outcome,omitempty"`
	Processed int64  `json:"processed,omitempty"`
	Error     string `json:"error,omitempty"`
	// CreatedAt is derived from generated session IDs.
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	seeds := nonBlank(req.Seeds)
	if len(seeds) == 0 {
		writeError(w, http.StatusBadRequest, "seeds required", s.logger)
		return
	}
	sessionID, err := s.ids.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate session id", s.logger)
		return
	}
	opts := s.options(req, sessionID)

	ctx, cancel := context.WithCancel(s.baseCtx)
	state := &run{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[sessionID] = state
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(state.done)
		defer cancel()
		summary, err := s.crawler.Run(ctx, seeds, opts)
		s.mu.Lock()
		state.summary, state.err = summary, err
		s.retireLocked(sessionID, state)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("session ended with error", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID}, s.logger)
}

// retireLocked records a finished run and forgets the oldest ones past the cap.
func (s *Server) retireLocked(sessionID string, state *run) {
	s.finished = append(s.finished, finishedRun{sessionID: sessionID, state: state})
	for len(s.finished) > s.cfg.MaxFinishedRuns {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		if s.runs[oldest.sessionID] == oldest.state {
			delete(s.runs, oldest.sessionID)
		}
	}
}

func (s *Server) options(req startSessionRequest, sessionID string) session.Options {
	opts := s.cfg.Defaults
	opts.SessionID = sessionID
	opts.Includes = append(append([]string(nil), opts.Includes...), req.Includes...)
	opts.Excludes = append(append([]string(nil), opts.Excludes...), req.Excludes...)
	opts.Concurrency = valueOrDefault(req.Concurrency, opts.Concurrency)
	opts.MaxDepth = valueOrDefault(req.MaxDepth, opts.MaxDepth)
	opts.MaxAccessCount = valueOrDefault(req.MaxAccessCount, opts.MaxAccessCount)
	opts.ClearOnFinish = valueOrDefault(req.ClearOnFinish, opts.ClearOnFinish)
	return opts
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	resp := sessionResponse{SessionID: sessionID}
	if created, ok := uuid.CreatedAt(sessionID); ok {
		resp.CreatedAt = &created
	}

	s.mu.Lock()
	state, tracked := s.runs[sessionID]
	if tracked {
		select {
		case <-state.done:
			resp.Outcome = state.summary.Outcome
			resp.Processed = state.summary.Processed
			if state.err != nil {
				resp.Error = state.err.Error()
			}
		default:
			resp.Running = true
		}
	}
	s.mu.Unlock()

	pending, err := s.crawler.Pending(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err, s.logger)
		return
	}
	results, err := s.crawler.Results(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err, s.logger)
		return
	}
	if !tracked && pending == 0 && results == 0 {
		writeError(w, http.StatusNotFound, "session not found", s.logger)
		return
	}
	resp.Pending, resp.Results = pending, results
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	s.mu.Lock()
	state, ok := s.runs[sessionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not running", s.logger)
		return
	}
	state.cancel()
	select {
	case <-state.done:
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, "session still stopping", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": session.OutcomeCanceled}, s.logger)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	s.mu.Lock()
	state, ok := s.runs[sessionID]
	if ok {
		select {
		case <-state.done:
			delete(s.runs, sessionID)
		default:
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "session is running", s.logger)
			return
		}
	}
	s.mu.Unlock()

	if err := s.crawler.Cleanup(r.Context(), sessionID); err != nil {
		writeStoreError(w, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := googleuuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", zap.NewNop())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeStoreError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, crawler.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, crawler.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	logger.Error("store request failed", zap.Error(err))
	writeError(w, status, err.Error(), logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
