package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

var (
	// ErrServiceNil is returned when a Server is constructed without a service.
	ErrServiceNil = errors.New("service cannot be nil")

	// ErrWorkerNil is returned when a Server is constructed without a worker.
	ErrWorkerNil = errors.New("worker cannot be nil")
)

// Server wires the queue service and worker to HTTP handlers. Construct
// with New and mount Handler on an http.Server.
type Server struct {
	svc    *queue.Service
	worker *queue.Worker
	lib    media.Library
	log    *slog.Logger

	debug bool
	ping  time.Duration

	// workerCtx parents worker loops started over HTTP so they outlive
	// the start request.
	workerCtx context.Context

	healthchecks []func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLibrary enables task serialization enrichment (episode labels and
// show titles) from the media library.
func WithLibrary(lib media.Library) Option {
	return func(s *Server) {
		if lib != nil {
			s.lib = lib
		}
	}
}

// WithLogger sets the slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDebug toggles the administrative routes.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// WithPingInterval sets the SSE keep-alive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ping = d
		}
	}
}

// WithHealthcheck registers dependency probes for the health route. With
// no probes the route reports process liveness only.
func WithHealthcheck(fns ...func(context.Context) error) Option {
	return func(s *Server) {
		s.healthchecks = append(s.healthchecks, fns...)
	}
}

// WithWorkerContext sets the parent context for worker loops started via
// the debug start route. Defaults to context.Background().
func WithWorkerContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.workerCtx = ctx
		}
	}
}

// New creates a Server over the queue service and worker.
func New(svc *queue.Service, worker *queue.Worker, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, ErrServiceNil
	}
	if worker == nil {
		return nil, ErrWorkerNil
	}

	s := &Server{
		svc:       svc,
		worker:    worker,
		log:       logger.Discard(),
		ping:      15 * time.Second,
		workerCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConfig creates a Server from configuration. Additional options
// override config values.
func NewFromConfig(cfg Config, svc *queue.Service, worker *queue.Worker, opts ...Option) (*Server, error) {
	allOpts := append([]Option{
		WithDebug(cfg.Debug),
		WithPingInterval(cfg.PingInterval),
	}, opts...)
	return New(svc, worker, allOpts...)
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/queues/tasks", s.createTask)
	mux.HandleFunc("GET /api/queues/tasks", s.listTasks)
	mux.HandleFunc("GET /api/queues/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/queues/tasks/{id}/cancel", s.cancelTask)
	mux.HandleFunc("POST /api/queues/tasks/clear", s.debugOnly(s.clearTasks))
	mux.HandleFunc("GET /api/queues/ongoing", s.listOngoing)

	mux.HandleFunc("GET /api/queues/worker", s.workerStatus)
	mux.HandleFunc("GET /api/queues/worker/debug", s.workerDebug)
	mux.HandleFunc("POST /api/queues/worker/start", s.debugOnly(s.workerStart))
	mux.HandleFunc("POST /api/queues/worker/stop", s.debugOnly(s.workerStop))
	mux.HandleFunc("POST /api/queues/worker/run-once", s.debugOnly(s.workerRunOnce))

	mux.HandleFunc("GET /api/queues/stream", s.stream)

	mux.HandleFunc("GET /health", s.health)

	return mux
}

// health reports service readiness: 200 when every registered dependency
// probe succeeds, 503 otherwise.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.healthchecks {
		if err := check(r.Context()); err != nil {
			s.log.Error("healthcheck failed", logger.Error(err))
			s.respondDetail(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// debugOnly gates administrative routes behind the debug flag.
func (s *Server) debugOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.debug {
			s.respondDetail(w, http.StatusForbidden, "debug mode required")
			return
		}
		next(w, r)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", logger.Error(err))
	}
}

// respondDetail writes the {"detail": ...} failure envelope.
func (s *Server) respondDetail(w http.ResponseWriter, code int, detail any) {
	s.respondJSON(w, code, map[string]any{"detail": detail})
}

// respondError maps service errors onto the failure envelope. Unexpected
// errors are logged and hidden behind a generic 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		s.respondDetail(w, http.StatusNotFound, "task not found")
	case errors.Is(err, queue.ErrTypeRequired), errors.Is(err, queue.ErrInvalidScope):
		s.respondDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed",
			logger.Method(r.Method), logger.Path(r.URL.Path), logger.Error(err))
		s.respondDetail(w, http.StatusInternalServerError, "internal server error")
	}
}
