// Package api exposes the pollable HTTP surface of the control plane:
// schema jobs are accepted here, their progress is polled here, and
// live transitions stream over the mounted WebSocket hub.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/queue"
	"github.com/plinthdb/plinth/internal/ws"
)

// JobQueue is the queue surface the server enqueues and polls through.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType, projectID string, payload any) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	CollectStats(ctx context.Context) (*queue.Stats, error)
}

// SchemaStore reads collection schema status for polling clients.
type SchemaStore interface {
	GetCollection(ctx context.Context, id string) (*metadata.Collection, error)
}

// Server is the control-plane HTTP server.
type Server struct {
	queue   JobQueue
	store   SchemaStore
	tenants TenantDB
	hub     *ws.Hub
	logger  *slog.Logger
	addr    string
	server  *http.Server
	devMode bool
}

// Option configures the API server.
type Option func(*Server)

// WithDevMode enables CORS for development.
func WithDevMode(dev bool) Option {
	return func(s *Server) {
		s.devMode = dev
	}
}

// WithHub sets the WebSocket hub.
func WithHub(hub *ws.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithTenantDB mounts the tenant query endpoints on the given
// per-tenant database source.
func WithTenantDB(db TenantDB) Option {
	return func(s *Server) {
		s.tenants = db
	}
}

// New creates a new API server.
func New(q JobQueue, store SchemaStore, logger *slog.Logger, addr string, opts ...Option) *Server {
	s := &Server{
		queue:  q,
		store:  store,
		logger: logger,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler; split from Start so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = requestLogger(s.logger, mux)
	if s.devMode {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info("starting api server", "addr", s.addr, "dev_mode", s.devMode)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/projects/{project}/jobs", s.handleEnqueueJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/stats/queue", s.handleQueueStats)
	mux.HandleFunc("GET /api/collections/{id}", s.handleGetCollection)

	if s.tenants != nil {
		mux.HandleFunc("POST /api/projects/{project}/collections/{collection}/query", s.handleQuery)
		mux.HandleFunc("POST /api/projects/{project}/functions/{function}", s.handleCallFunction)
	}

	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
