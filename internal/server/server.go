// Package server implements the read-only status server: health
// endpoints, build metadata, prometheus metrics, and job snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/internal/server/handlers"
	"github.com/3leaps/dxrunner/internal/server/middleware"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

// Server is the status HTTP server.
type Server struct {
	host    string
	port    int
	router  chi.Router
	httpSrv *http.Server
	logger  *zap.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts /metrics over the given registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.router.Method(http.MethodGet, "/metrics",
				promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
		}
	}
}

// WithJobSource mounts the read-only jobs API.
func WithJobSource(source handlers.JobSource) Option {
	return func(s *Server) {
		if source == nil {
			return
		}
		h := handlers.NewJobsHandler(source)
		s.router.Route("/api/v1/jobs", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/{provider}/{task}", h.Get)
		})
	}
}

// New builds the server with core routes registered. Optional surfaces
// (metrics, jobs API) are mounted through options.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouterError(w, req, apperrors.CodeNotFound,
			"no such route: "+req.URL.Path, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouterError(w, req, apperrors.CodeMethodNotAllowed,
			req.Method+" not allowed for "+req.URL.Path, http.StatusMethodNotAllowed)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	s.router = r
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router for serving or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Start serves until the context is cancelled, then shuts down within
// the given grace period.
func (s *Server) Start(ctx context.Context, readTimeout, writeTimeout, idleTimeout, shutdownTimeout time.Duration) error {
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.Addr()))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func writeRouterError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	env := gferrors.NewErrorEnvelope(code, message)
	if id := apperrors.RequestIDFromContext(r.Context()); id != "" {
		env = env.WithCorrelationID(id)
	}

	body := apperrors.HTTPErrorResponse{
		Error: apperrors.HTTPErrorBody{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SupervisorSource adapts the supervisor to the jobs API.
type SupervisorSource struct {
	sup *supervisor.Supervisor
}

// NewSupervisorSource wraps a supervisor as a snapshot source.
func NewSupervisorSource(sup *supervisor.Supervisor) *SupervisorSource {
	return &SupervisorSource{sup: sup}
}

// Jobs lists snapshots for every known job.
func (s *SupervisorSource) Jobs(ctx context.Context) ([]handlers.JobSnapshot, error) {
	statuses, err := s.sup.List(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]handlers.JobSnapshot, 0, len(statuses))
	for _, st := range statuses {
		snaps = append(snaps, snapshotFromStatus(st))
	}
	return snaps, nil
}

// Job returns one job's snapshot, nil when unknown.
func (s *SupervisorSource) Job(ctx context.Context, provider, task string) (*handlers.JobSnapshot, error) {
	st, err := s.sup.Check(ctx, artifact.Key{Provider: provider, Task: task})
	if err != nil {
		if errors.Is(err, supervisor.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	snap := snapshotFromStatus(st)
	return &snap, nil
}

func snapshotFromStatus(st *supervisor.Status) handlers.JobSnapshot {
	snap := handlers.JobSnapshot{
		Provider:      st.Key.Provider,
		Task:          st.Key.Task,
		State:         string(st.State),
		PID:           st.PID,
		Alive:         st.Alive,
		MutationCount: st.MutationCount,
	}
	if st.Meta != nil {
		snap.Model = st.Meta.Model
		snap.RetryCount = st.Meta.RetryCount
		snap.StartedAt = st.Meta.StartedAt
	}
	if st.Outcome != nil {
		snap.ReasonCode = st.Outcome.ReasonCode
		snap.ExitCode = st.Outcome.ExitCode
		completed := st.Outcome.CompletedAt
		snap.CompletedAt = &completed
	}
	return snap
}
