package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/checker"
	"github.com/JakeFAU/restockwatch/internal/metrics"
	"github.com/JakeFAU/restockwatch/internal/stock"
	"github.com/JakeFAU/restockwatch/internal/store"
)

// Errors a Runner reports from Trigger.
var (
	ErrRunInProgress   = errors.New("a run of this mode is already in progress")
	ErrModeUnavailable = errors.New("run mode not configured")
)

const storeTimeout = 3 * time.Second

// Runner starts runs on demand and remembers recent ones.
type Runner interface {
	Trigger(mode checker.Mode) error
	History() []checker.Summary
}

// Deps are the read models and controls exposed over HTTP. Any of them may be
// nil; the matching routes then answer 503.
type Deps struct {
	State      stock.StateStore
	LightState stock.StateStore
	Queue      *store.EscalationQueue
	Targets    func() []stock.Target
	Runner     Runner
	Ready      func(context.Context) error
	Logger     *zap.Logger
	APIKey     string
}

// Server wires HTTP handlers to the watch service.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

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
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Get("/targets", s.listTargets)
		r.Get("/state", s.getState)
		r.Get("/queue", s.getQueue)
		r.Get("/runs", s.listRuns)
		r.Post("/runs/{mode}", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type targetDTO struct {
	Name       string      `json:"name"`
	URL        string      `json:"url"`
	InStock    *stock.Rule `json:"in_stock,omitempty"`
	OutOfStock *stock.Rule `json:"out_of_stock,omitempty"`
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Targets == nil {
		writeError(w, http.StatusServiceUnavailable, "targets unavailable")
		return
	}
	targets := s.deps.Targets()
	out := make([]targetDTO, 0, len(targets))
	for _, t := range targets {
		out = append(out, targetDTO{Name: t.Name, URL: t.URL, InStock: t.InStock, OutOfStock: t.OutOfStock})
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

type recordDTO struct {
	URL            string        `json:"url"`
	Name           string        `json:"name,omitempty"`
	Verdict        stock.Verdict `json:"verdict"`
	ContentHash    string        `json:"content_hash,omitempty"`
	LastCheckedAt  time.Time     `json:"last_checked_at"`
	LastNotifiedAt *time.Time    `json:"last_notified_at,omitempty"`
}

// getState handles GET /v1/state?pass=light. Records are sorted by URL.
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	src := s.deps.State
	pass := r.URL.Query().Get("pass")
	switch pass {
	case "", string(checker.ModeCheck):
	case string(checker.ModeLight):
		src = s.deps.LightState
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown pass %q", pass))
		return
	}
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	records, err := src.Load(ctx)
	if err != nil {
		s.logger.Error("load state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	out := make([]recordDTO, 0, len(records))
	for url, rec := range records {
		out = append(out, recordDTO{
			URL:            url,
			Name:           rec.Name,
			Verdict:        rec.Verdict,
			ContentHash:    rec.ContentHash,
			LastCheckedAt:  rec.LastCheckedAt,
			LastNotifiedAt: rec.LastNotifiedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	writeJSON(w, http.StatusOK, map[string]any{"state": out})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "escalation queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": s.deps.Queue.Load(r.Context())})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	runs := s.deps.Runner.History()
	if runs == nil {
		runs = []checker.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// triggerRun handles POST /v1/runs/{mode}. It answers 202 once the run is
// scheduled, 404 for modes the service does not run, and 409 when a run of
// the same mode is still going.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	mode := checker.Mode(chi.URLParam(r, "mode"))
	err := s.deps.Runner.Trigger(mode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"mode": string(mode), "status": "scheduled"})
	case errors.Is(err, ErrModeUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("trigger run failed", zap.String("mode", string(mode)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger run")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
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
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
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
					writeError(w, http.StatusInternalServerError, "internal server error")
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
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
