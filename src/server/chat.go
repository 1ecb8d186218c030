package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/elee1766/stationd/src/agentproc"
)

const firstMessagePreviewLen = 100

// chatRequest is the body of both the sync and streaming chat endpoints.
type chatRequest struct {
	Message   string   `json:"message"`
	SessionID string   `json:"session_id,omitempty"`
	Files     []string `json:"files,omitempty"`
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}

	version, err := p.Runner.Version(r.Context())
	if err != nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{
			"available": false,
			"error":     err.Error(),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"available": true,
		"version":   version,
		"path":      s.cfg.Agent.Path,
	})
}

// handleChat is the one-shot, non-streaming chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := p.Runner.RunOnce(r.Context(), agentproc.Request{
		Message:      withFileRefs(req.Message, req.Files),
		SessionID:    req.SessionID,
		WorkingDir:   p.Config.WorkingDir,
		AllowedTools: p.Config.AllowedTools,
		Timeout:      p.Timeout(),
	})
	if err != nil {
		s.errorResponse(w, http.StatusGatewayTimeout, "agent did not finish: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleChatStream is the streaming chat endpoint: it bridges the agent
// process adapter to the browser over SSE and finalizes session bookkeeping
// when the stream ends.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	logger := s.logger.With("persona", p.Name, "resume", req.SessionID != "")
	logger.Info("chat stream started")

	_ = sse.Send(agentproc.Event{Type: agentproc.EventInit, Message: "Starting..."})

	start := time.Now()
	latched := req.SessionID

	sink := func(ev agentproc.Event) error {
		if latched == "" && ev.SessionID != "" {
			latched = ev.SessionID
		}
		if ev.Terminal() {
			s.persistIfNew(p, latched, req.Message)
		}
		return sse.Send(ev)
	}

	err := p.Runner.Stream(r.Context(), agentproc.Request{
		Message:      withFileRefs(req.Message, req.Files),
		SessionID:    req.SessionID,
		WorkingDir:   p.Config.WorkingDir,
		AllowedTools: p.Config.AllowedTools,
		Timeout:      p.Timeout(),
	}, sink)

	switch {
	case err == nil:
		// Terminal event already delivered.
	case errors.Is(err, context.Canceled):
		// The client disconnected; the subprocess has been reaped. The
		// acknowledgement only reaches clients that cancelled
		// half-close without tearing down the connection.
		logger.Info("chat stream cancelled by client")
		_ = sse.Send(agentproc.Event{Type: agentproc.EventCancelled, SessionID: latched})
	default:
		// Sink write failure: the connection is gone mid-write.
		logger.Warn("chat stream aborted", "error", err)
		return
	}

	_ = sse.Send(agentproc.Event{
		Type:       agentproc.EventDone,
		SessionID:  latched,
		DurationMS: time.Since(start).Milliseconds(),
	})
	logger.Info("chat stream finished", "session_id", latched, "duration", time.Since(start))
}

// persistIfNew saves a session record the first time a session id shows up,
// so a client crash after the terminal event cannot lose the thread. The
// client may later rename it; upsert keyed on session id keeps this
// idempotent.
func (s *Server) persistIfNew(p *Persona, sessionID, firstMessage string) {
	if sessionID == "" {
		return
	}
	if _, exists := p.Store.Get(sessionID); exists {
		return
	}
	preview := truncateRunes(firstMessage, firstMessagePreviewLen)
	if _, err := p.Store.Upsert(sessionID, truncateRunes(firstMessage, 50), preview); err != nil {
		s.logger.Warn("failed to persist session", "session_id", sessionID, "error", err)
	}
}

// --- Session CRUD ---

type saveSessionRequest struct {
	SessionID    string `json:"session_id"`
	Name         string `json:"name"`
	FirstMessage string `json:"first_message,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}
	sessions, err := p.Store.List()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}

	var req saveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.SessionID == "" || req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "session_id and name are required")
		return
	}

	sess, err := p.Store.Upsert(req.SessionID, req.Name, truncateRunes(req.FirstMessage, firstMessagePreviewLen))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to save session: %v", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.persona(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	existed, err := p.Store.Delete(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session: %v", err)
		return
	}
	if !existed {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": id})
}

// withFileRefs appends uploaded file paths to the message as a bracketed
// reference list. The agent reads the file contents itself; this server
// never inspects file bytes.
func withFileRefs(message string, files []string) string {
	if len(files) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n[Attached files: ")
	b.WriteString(strings.Join(files, ", "))
	b.WriteString("]")
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
