package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/metrics"
	"tracksync/internal/recorder"
	"tracksync/internal/settings"
	"tracksync/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthChecker is the local database
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PendingCounter reports unsynced rows
type PendingCounter interface {
	CountUnsyncedTimers(ctx context.Context) (int, error)
	CountUnsyncedIntervals(ctx context.Context) (int, error)
}

// TimerSource exposes the running timer
type TimerSource interface {
	Current() *types.Timer
}

// TimerControl starts and stops the recorder on behalf of local clients
type TimerControl interface {
	StartTimer(ctx context.Context, project *settings.Project) (*types.Timer, error)
	StopTimer(ctx context.Context) (*types.Timer, error)
}

// Deps are the components the local endpoints read from. Nil members are skipped.
type Deps struct {
	DB       HealthChecker
	Pending  PendingCounter
	Timer    TimerSource
	Control  TimerControl
	Offline  func() bool
	Failures func() int
	Events   http.Handler
	Logger   logging.Logger
}

// Status is the /status payload
type Status struct {
	Running             bool         `json:"running"`
	Timer               *types.Timer `json:"timer,omitempty"`
	Offline             bool         `json:"offline"`
	UnsyncedTimers      int          `json:"unsyncedTimers"`
	UnsyncedIntervals   int          `json:"unsyncedIntervals"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Timestamp           time.Time    `json:"timestamp"`
}

// Server is the loopback HTTP surface for the UI shell and local tooling
type Server struct {
	deps   Deps
	logger logging.Logger
	http   *http.Server
}

func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewDefaultLogger()
	}
	s := &Server{deps: deps, logger: deps.Logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", metrics.Handler())
	if s.deps.Control != nil {
		r.Route("/timer", func(r chi.Router) {
			r.Post("/start", s.handleTimerStart)
			r.Post("/stop", s.handleTimerStop)
		})
	}
	if s.deps.Events != nil {
		r.Handle("/ws", s.deps.Events)
	}
	return r
}

// Start listens in the background; the listener error is returned synchronously
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Local server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Local server stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Timestamp: time.Now()}
	if s.deps.Timer != nil {
		st.Timer = s.deps.Timer.Current()
		st.Running = st.Timer != nil
	}
	if s.deps.Offline != nil {
		st.Offline = s.deps.Offline()
	}
	if s.deps.Failures != nil {
		st.ConsecutiveFailures = s.deps.Failures()
	}
	if s.deps.Pending != nil {
		var err error
		if st.UnsyncedTimers, err = s.deps.Pending.CountUnsyncedTimers(r.Context()); err == nil {
			st.UnsyncedIntervals, err = s.deps.Pending.CountUnsyncedIntervals(r.Context())
		}
		if err != nil {
			s.logger.Warn("Failed to count unsynced rows", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read local store"})
			return
		}
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTimerStart accepts an optional project body that replaces the saved one
func (s *Server) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	var project *settings.Project
	var body settings.Project
	switch err := json.NewDecoder(r.Body).Decode(&body); {
	case err == nil:
		project = &body
	case !errors.Is(err, io.EOF):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project body"})
		return
	}
	timer, err := s.deps.Control.StartTimer(r.Context(), project)
	s.writeTimer(w, timer, err, http.StatusCreated)
}

func (s *Server) handleTimerStop(w http.ResponseWriter, r *http.Request) {
	timer, err := s.deps.Control.StopTimer(r.Context())
	s.writeTimer(w, timer, err, http.StatusOK)
}

func (s *Server) writeTimer(w http.ResponseWriter, timer *types.Timer, err error, status int) {
	switch {
	case err == nil:
		writeJSON(w, status, timer)
	case errors.Is(err, recorder.ErrAlreadyRunning), errors.Is(err, recorder.ErrNotRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("Timer request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
