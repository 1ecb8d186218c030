package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elee1766/stationd/src/containers"
	"github.com/elee1766/stationd/src/sysmon"
)

const maxUploadBytes = 512 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}

	if host, err := sysmon.Host(r.Context()); err == nil {
		resp["host"] = host
	}

	if s.docker != nil {
		info, err := s.docker.Info(r.Context())
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "docker info failed: %v", err)
			return
		}
		resp["docker"] = info
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// --- Containers ---

// requireDocker writes a 503 when container management is unavailable.
func (s *Server) requireDocker(w http.ResponseWriter) bool {
	if s.docker == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "container management unavailable")
		return false
	}
	return true
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocker(w) {
		return
	}
	all := r.URL.Query().Get("all") == "true"
	list, err := s.docker.List(r.Context(), all)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list containers: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"containers": list})
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocker(w) {
		return
	}
	detail, err := s.docker.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		s.containerError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocker(w) {
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	past := map[string]string{"start": "started", "stop": "stopped", "restart": "restarted"}
	status, known := past[req.Action]
	if !known {
		s.errorResponse(w, http.StatusBadRequest, "unknown action %q", req.Action)
		return
	}

	name := r.PathValue("name")
	if err := s.docker.Action(r.Context(), name, req.Action); err != nil {
		s.containerError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"container": name,
		"status":    status,
	})
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocker(w) {
		return
	}

	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}

	name := r.PathValue("name")
	logs, err := s.docker.Logs(r.Context(), name, lines)
	if err != nil {
		s.containerError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"container": name,
		"logs":      logs,
	})
}

func (s *Server) containerError(w http.ResponseWriter, err error) {
	if _, ok := err.(*containers.NotFoundError); ok {
		s.errorResponse(w, http.StatusNotFound, "%v", err)
		return
	}
	s.errorResponse(w, http.StatusInternalServerError, "%v", err)
}

// --- Managed services ---

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocker(w) {
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"services": s.docker.Services(r.Context()),
	})
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	s.serviceAction(w, r, s.docker.RestartService)
}

func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	s.serviceAction(w, r, s.docker.StartService)
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	s.serviceAction(w, r, s.docker.StopService)
}

func (s *Server) serviceAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, name string) (string, error)) {
	if !s.requireDocker(w) {
		return
	}
	name := r.PathValue("name")
	status, err := action(r.Context(), name)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"service": name,
		"status":  status,
	})
}

// --- Telemetry ---

func (s *Server) handleGPU(w http.ResponseWriter, r *http.Request) {
	stats, err := sysmon.GPU(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "gpu stats unavailable: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleDisk(w http.ResponseWriter, r *http.Request) {
	stats, err := sysmon.Disk(r.Context(), "/")
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "disk stats unavailable: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	report, err := sysmon.TopProcesses(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "process stats unavailable: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// --- Compose stack ---

func (s *Server) stackDir(w http.ResponseWriter) (string, bool) {
	if s.cfg.Docker.StackDir == "" {
		s.errorResponse(w, http.StatusNotFound, "no stack directory configured")
		return "", false
	}
	return s.cfg.Docker.StackDir, true
}

func (s *Server) handleStackStatus(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.stackDir(w)
	if !ok {
		return
	}
	version, err := containers.StackVersion(r.Context(), dir)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleStackUpdate(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.stackDir(w)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, containers.UpdateStack(r.Context(), dir))
}

func (s *Server) handleStackRestart(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.stackDir(w)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, containers.RestartStack(r.Context(), dir))
}

// --- Exec ---

type execRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// handleExec runs a command only if it starts with a whitelisted prefix.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	cmd := strings.TrimSpace(req.Command)
	if !s.commandAllowed(cmd) {
		s.errorResponse(w, http.StatusForbidden, "command not allowed")
		return
	}

	timeout := s.cfg.Exec.TimeoutSeconds
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	if timeout <= 0 {
		timeout = 30
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeout)*time.Second)
	defer cancel()

	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			s.errorResponse(w, http.StatusInternalServerError, "command failed: %v", err)
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"command":    cmd,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": code,
	})
}

func (s *Server) commandAllowed(cmd string) bool {
	for _, allowed := range s.cfg.Exec.AllowedCommands {
		if strings.HasPrefix(cmd, allowed) {
			return true
		}
	}
	return false
}

// --- Upload ---

// handleUpload stores one multipart file and returns its path. The agent
// reads the file itself; see withFileRefs.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.UploadDir == "" {
		s.errorResponse(w, http.StatusNotFound, "uploads not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid multipart body: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "missing file field: %v", err)
		return
	}
	defer file.Close()

	if err := s.fs.MkdirAll(s.cfg.Server.UploadDir, 0o755); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to create upload dir: %v", err)
		return
	}

	// Prefix with a uuid so concurrent uploads of the same filename never
	// clobber each other.
	name := uuid.NewString() + "-" + filepath.Base(header.Filename)
	path := filepath.Join(s.cfg.Server.UploadDir, name)

	dst, err := s.fs.Create(path)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to create file: %v", err)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to write file: %v", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"path": path})
}
