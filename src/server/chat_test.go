package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/stationd/src/agentproc"
	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/sessionstore"
)

// fakeRunner scripts the agent process adapter.
type fakeRunner struct {
	events  []agentproc.Event
	err     error
	result  *agentproc.Result
	version string
	gotReq  agentproc.Request
}

func (f *fakeRunner) Stream(ctx context.Context, req agentproc.Request, sink agentproc.Sink) error {
	f.gotReq = req
	for _, ev := range f.events {
		if err := sink(ev); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeRunner) RunOnce(ctx context.Context, req agentproc.Request) (*agentproc.Result, error) {
	f.gotReq = req
	return f.result, f.err
}

func (f *fakeRunner) Version(ctx context.Context) (string, error) {
	if f.version == "" {
		return "", io.ErrUnexpectedEOF
	}
	return f.version, nil
}

func newTestServer(t *testing.T, runner AgentRunner) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := afero.NewMemMapFs()

	cfg := config.DefaultConfig()
	cfg.Server.UploadDir = "/uploads"
	cfg.Exec.AllowedCommands = []string{"echo", "uptime"}

	pc := config.PersonaConfig{WorkingDir: "/work", TimeoutSeconds: 60}
	persona := &Persona{
		Name:   "assistant",
		Config: pc,
		Runner: runner,
		Store:  sessionstore.New(fs, "/state/sessions-assistant.json", logger),
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		personas: map[string]*Persona{"assistant": persona},
		fs:       fs,
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

// decodeSSE parses data: frames back into events.
func decodeSSE(t *testing.T, body string) []agentproc.Event {
	t.Helper()
	var events []agentproc.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		var ev agentproc.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []agentproc.Event) []agentproc.EventType {
	types := make([]agentproc.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestChatStreamDeliversEventsInOrder(t *testing.T) {
	runner := &fakeRunner{events: []agentproc.Event{
		{Type: agentproc.EventSystem, Message: "init", SessionID: "sess-1"},
		{Type: agentproc.EventMessage, Text: "Thinking"},
		{Type: agentproc.EventToolUse, Tool: "Read"},
		{Type: agentproc.EventMessage, Text: "Answer"},
		{Type: agentproc.EventResult, Result: "Answer", SessionID: "sess-1", CostUSD: 0.01},
	}}
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": "what is the uptime of this box"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := decodeSSE(t, rec.Body.String())
	require.Equal(t, []agentproc.EventType{
		agentproc.EventInit,
		agentproc.EventSystem,
		agentproc.EventMessage,
		agentproc.EventToolUse,
		agentproc.EventMessage,
		agentproc.EventResult,
		agentproc.EventDone,
	}, eventTypes(events))

	// Trailer carries the session id latched from the stream.
	assert.Equal(t, "sess-1", events[len(events)-1].SessionID)

	// The persona's pipeline parameters made it to the subprocess request.
	assert.Equal(t, "/work", runner.gotReq.WorkingDir)
	assert.Equal(t, "what is the uptime of this box", runner.gotReq.Message)
}

func TestChatStreamPersistsNewSession(t *testing.T) {
	long := strings.Repeat("x", 200)
	runner := &fakeRunner{events: []agentproc.Event{
		{Type: agentproc.EventResult, Result: "done", SessionID: "sess-new"},
	}}
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": long})
	require.Equal(t, http.StatusOK, rec.Code)

	sess, ok := s.personas["assistant"].Store.Get("sess-new")
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 50), sess.Name)
	assert.Equal(t, strings.Repeat("x", 100), sess.FirstMessage)
}

func TestChatStreamKeepsClientSessionID(t *testing.T) {
	runner := &fakeRunner{events: []agentproc.Event{
		{Type: agentproc.EventSystem, Message: "init", SessionID: "sess-other"},
		{Type: agentproc.EventResult, Result: "done", SessionID: "sess-other"},
	}}
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": "continue", "session_id": "sess-mine"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeSSE(t, rec.Body.String())
	assert.Equal(t, "sess-mine", events[len(events)-1].SessionID)
	assert.Equal(t, "sess-mine", runner.gotReq.SessionID)
}

func TestChatStreamAgentSpawnFailure(t *testing.T) {
	// A runner whose executable does not exist must still produce a
	// terminal error event and the done trailer, never a bare EOF.
	runner := agentproc.NewRunner(agentproc.Options{
		ExecPath: "/nonexistent/agent-binary",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeSSE(t, rec.Body.String())
	require.Equal(t, []agentproc.EventType{
		agentproc.EventInit,
		agentproc.EventError,
		agentproc.EventDone,
	}, eventTypes(events))
	assert.Contains(t, events[1].Error, "failed to start agent")
}

func TestChatStreamCancelled(t *testing.T) {
	runner := &fakeRunner{
		events: []agentproc.Event{{Type: agentproc.EventMessage, Text: "partial"}},
		err:    context.Canceled,
	}
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": "never mind"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeSSE(t, rec.Body.String())
	require.Equal(t, []agentproc.EventType{
		agentproc.EventInit,
		agentproc.EventMessage,
		agentproc.EventCancelled,
		agentproc.EventDone,
	}, eventTypes(events))
}

func TestChatStreamRejectsEmptyMessage(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat/stream",
		map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownPersona(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodPost, "/api/agent/nobody/chat/stream",
		map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatSync(t *testing.T) {
	runner := &fakeRunner{result: &agentproc.Result{Result: "4", SessionID: "s1"}}
	s := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/chat",
		map[string]any{"message": "2+2", "files": []string{"/uploads/a.txt"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var res agentproc.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "4", res.Result)
	assert.Contains(t, runner.gotReq.Message, "[Attached files: /uploads/a.txt]")
}

func TestAgentStatus(t *testing.T) {
	s := newTestServer(t, &fakeRunner{version: "1.0.42"})
	rec := doJSON(t, s, http.MethodGet, "/api/agent/assistant/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["available"])
	assert.Equal(t, "1.0.42", out["version"])

	s = newTestServer(t, &fakeRunner{})
	rec = doJSON(t, s, http.MethodGet, "/api/agent/assistant/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["available"])
}

func TestSessionCRUD(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})

	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/sessions",
		map[string]string{"session_id": "s1", "name": "GPU debugging", "first_message": "why is the gpu idle"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/agent/assistant/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sessions []sessionstore.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, "GPU debugging", listed.Sessions[0].Name)

	rec = doJSON(t, s, http.MethodDelete, "/api/agent/assistant/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/agent/assistant/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveSessionRequiresFields(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodPost, "/api/agent/assistant/sessions",
		map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestContainersUnavailableWithoutDocker(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodGet, "/api/containers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExecWhitelist(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})

	rec := doJSON(t, s, http.MethodPost, "/api/exec",
		map[string]string{"command": "rm -rf /"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/exec",
		map[string]string{"command": "echo hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Stdout     string `json:"stdout"`
		Returncode int    `json:"returncode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, 0, out.Returncode)
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Path, "/uploads/"))
	assert.True(t, strings.HasSuffix(out.Path, "-notes.txt"))

	data, err := afero.ReadFile(s.fs, out.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWithFileRefs(t *testing.T) {
	assert.Equal(t, "hi", withFileRefs("hi", nil))
	assert.Equal(t, "hi\n\n[Attached files: a, b]", withFileRefs("hi", []string{"a", "b"}))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hél", truncateRunes("héllo", 3))
}
