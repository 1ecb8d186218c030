// Package server is the HTTP surface of the control panel: dashboard proxy
// endpoints, container and service management, and the agent chat pipeline
// with its SSE stream endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/elee1766/stationd/src/agentproc"
	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/containers"
	"github.com/elee1766/stationd/src/sessionstore"
)

// AgentRunner is what a persona needs from the agent process adapter.
type AgentRunner interface {
	Stream(ctx context.Context, req agentproc.Request, sink agentproc.Sink) error
	RunOnce(ctx context.Context, req agentproc.Request) (*agentproc.Result, error)
	Version(ctx context.Context) (string, error)
}

// Persona is one configured instance of the agent chat pipeline. The two
// stock personas differ only in this struct's contents; all pipeline code is
// shared.
type Persona struct {
	Name   string
	Config config.PersonaConfig
	Runner AgentRunner
	Store  *sessionstore.Store
}

// Timeout returns the persona's subprocess lifetime bound.
func (p *Persona) Timeout() time.Duration {
	if p.Config.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.Config.TimeoutSeconds) * time.Second
}

// Server serves the panel API.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	docker   *containers.Manager
	personas map[string]*Persona
	fs       afero.Fs
	srv      *http.Server
}

// New creates a Server. docker may be nil when container management is
// disabled or the daemon is unreachable; the container endpoints then return
// 503 while the rest of the panel keeps working.
func New(cfg *config.Config, docker *containers.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	fs := afero.NewOsFs()
	personas := make(map[string]*Persona, len(cfg.Personas))
	for name, pc := range cfg.Personas {
		runner := agentproc.NewRunner(agentproc.Options{
			ExecPath:        cfg.Agent.Path,
			SkipPermissions: cfg.Agent.SkipPermissions,
			ExtraPath:       cfg.Agent.ExtraPath,
			Logger:          logger.With("persona", name),
		})
		store := sessionstore.New(fs, config.SessionFilePath(name, pc), logger.With("persona", name))
		personas[name] = &Persona{Name: name, Config: pc, Runner: runner, Store: store}
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		docker:   docker,
		personas: personas,
		fs:       fs,
	}
}

// Start blocks serving HTTP on the configured address.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.corsMiddleware(s.routes()),
	}
	s.logger.Info("starting panel server", "addr", s.cfg.Server.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/info", s.handleInfo)

	// Containers
	mux.HandleFunc("GET /api/containers", s.handleListContainers)
	mux.HandleFunc("GET /api/containers/{name}", s.handleGetContainer)
	mux.HandleFunc("POST /api/containers/{name}/action", s.handleContainerAction)
	mux.HandleFunc("GET /api/containers/{name}/logs", s.handleContainerLogs)

	// Managed services
	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("POST /api/services/{name}/restart", s.handleServiceRestart)
	mux.HandleFunc("POST /api/services/{name}/start", s.handleServiceStart)
	mux.HandleFunc("POST /api/services/{name}/stop", s.handleServiceStop)

	// Telemetry
	mux.HandleFunc("GET /api/gpu", s.handleGPU)
	mux.HandleFunc("GET /api/disk", s.handleDisk)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)

	// Compose-managed stack
	mux.HandleFunc("GET /api/stack/status", s.handleStackStatus)
	mux.HandleFunc("POST /api/stack/update", s.handleStackUpdate)
	mux.HandleFunc("POST /api/stack/restart", s.handleStackRestart)

	// Utilities
	mux.HandleFunc("POST /api/exec", s.handleExec)
	mux.HandleFunc("POST /api/upload", s.handleUpload)

	// Agent chat pipeline, per persona
	mux.HandleFunc("GET /api/agent/{persona}/status", s.handleAgentStatus)
	mux.HandleFunc("POST /api/agent/{persona}/chat", s.handleChat)
	mux.HandleFunc("POST /api/agent/{persona}/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /api/agent/{persona}/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/agent/{persona}/sessions", s.handleSaveSession)
	mux.HandleFunc("DELETE /api/agent/{persona}/sessions/{id}", s.handleDeleteSession)

	return mux
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// persona resolves the {persona} path value, or writes a 404.
func (s *Server) persona(w http.ResponseWriter, r *http.Request) (*Persona, bool) {
	name := r.PathValue("persona")
	p, ok := s.personas[name]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "unknown persona %q", name)
		return nil, false
	}
	return p, true
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Warn("request failed", "status", status, "error", msg)
	s.jsonResponse(w, status, map[string]string{"error": msg})
}
