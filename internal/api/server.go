package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	idgen "github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/session"
)

// Sessions is the session control surface the API drives. *session.Runner
// satisfies it.
type Sessions interface {
	Start(ctx context.Context, req session.Request) (crawler.Session, error)
	Get(ctx context.Context, id string) (session.Status, error)
	List(ctx context.Context) ([]crawler.Session, error)
	Cancel(id string) error
}

// ReadyFunc reports whether downstream dependencies can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Options tunes the server.
type Options struct {
	// APIKey enables X-API-Key authentication on /v1 when non-empty.
	APIKey         string
	RequestTimeout time.Duration
	Ready          ReadyFunc
}

// Server wires HTTP handlers to the session runner.
type Server struct {
	router   chi.Router
	sessions Sessions
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sessions Sessions, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	metrics.Init()
	s := &Server{
		sessions: sessions,
		opts:     opts,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.startSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/cancel", s.cancelSession)
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

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startSessionRequest struct {
	SessionID         string   `json:"session_id"`
	Seeds             []string `json:"seeds"`
	PreviousSessionID string   `json:"previous_session_id"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var body startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := session.Request{Seeds: body.Seeds}
	var err error
	if body.SessionID != "" {
		if req.SessionID, err = idgen.Normalize(body.SessionID); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
	}
	if body.PreviousSessionID != "" {
		if req.PreviousSessionID, err = idgen.Normalize(body.PreviousSessionID); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid previous_session_id")
			return
		}
	}

	sess, err := s.sessions.Start(r.Context(), req)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, sess)
	case errors.Is(err, session.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoSeeds),
		errors.Is(err, session.ErrInvalidSeed),
		errors.Is(err, crawler.ErrSessionNotFound):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Failed to start session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []crawler.Session{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	st, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, crawler.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get session", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := s.sessions.Cancel(id); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, "session not running")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "canceling"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
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
			if r.Header.Get("X-API-Key") != expected {
				writeJSON(nil, w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("Write JSON failed", zap.Error(err))
	}
}
