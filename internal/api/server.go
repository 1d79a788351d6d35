// Package api exposes the HTTP surface of the pipeline service: run
// submission plus the polling endpoints a progress observer uses.
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/metrics"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// RunLauncher creates pipeline runs and submits them for execution.
type RunLauncher interface {
	CreateRun(ctx context.Context, trackID, dateKey string) (scraper.PipelineSession, error)
	Launch(ctx context.Context, runID string) error
}

// Server wires HTTP handlers to the orchestrator and session store.
type Server struct {
	router   chi.Router
	launcher RunLauncher
	store    scraper.SessionStore
	clock    scraper.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(launcher RunLauncher, store scraper.SessionStore, clock scraper.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		launcher: launcher,
		store:    store,
		clock:    clock,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/status", s.getRunStatus)
				r.Get("/result", s.getRunResult)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRunRequest struct {
	TrackID string `json:"track_id"`
	DateKey string `json:"date_key"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.TrackID = strings.ToUpper(strings.TrimSpace(req.TrackID))
	if req.TrackID == "" {
		s.writeError(w, http.StatusBadRequest, "track_id is required")
		return
	}
	if req.DateKey == "" {
		req.DateKey = s.clock.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", req.DateKey); err != nil {
		s.writeError(w, http.StatusBadRequest, "date_key must be YYYY-MM-DD")
		return
	}

	session, err := s.launcher.CreateRun(r.Context(), req.TrackID, req.DateKey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Execution happens on the dispatcher; the submission request only
	// queues the run.
	if err := s.launcher.Launch(r.Context(), session.ID); err != nil {
		s.logger.Error("launch run failed",
			zap.String("run_id", session.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to queue run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": session.ID})
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	session, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, scraper.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": session})
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	session, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, scraper.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if session.Status != scraper.RunCompleted {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("run is %s, result not available", session.Status))
		return
	}
	result, err := s.store.GetResult(r.Context(), runID)
	if err != nil {
		s.logger.Error("get result failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
