package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elee1766/stationd/src/agentproc"
	"github.com/elee1766/stationd/src/sessionstore"
)

const (
	readChunkSize = 4096

	// resumePrompt is the synthetic follow-up sent when the user clicks
	// through a resume banner after a lost connection.
	resumePrompt = "The previous response was interrupted. What happened, and can you continue?"
)

// SessionSaver persists a named session. The HTTP client implements it
// against the panel API; tests substitute their own.
type SessionSaver interface {
	SaveSession(ctx context.Context, sessionID, name, firstMessage string) error
}

// Client drives one persona's chat pipeline over the panel API.
type Client struct {
	baseURL string
	persona string
	httpc   *http.Client
	logger  *slog.Logger

	// Namer generates session names after a first successful turn. Nil
	// means use the agent-backed namer against the sync chat endpoint.
	Namer Namer

	// Saver receives the session record after naming. Nil means save via
	// the panel's session endpoint.
	Saver SessionSaver
}

// NewClient creates a client for one persona of a running panel server.
func NewClient(baseURL, persona string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: baseURL,
		persona: persona,
		httpc:   &http.Client{},
		logger:  logger.With("component", "chatclient", "persona", persona),
	}
	c.Namer = &agentNamer{client: c}
	c.Saver = c
	return c
}

type chatPayload struct {
	Message   string   `json:"message"`
	SessionID string   `json:"session_id,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// Stream sends one chat turn and applies the event stream to conv until a
// terminal state. Cancel the context to abort: the turn then ends in the
// cancelled state and no resume is offered. A transport failure instead
// marks the turn recoverable.
//
// onEvent, if non-nil, observes every decoded event after it has been
// applied; UIs use it to redraw.
func (c *Client) Stream(ctx context.Context, conv *Conversation, message string, files []string, onEvent func(agentproc.Event)) error {
	conv.StartTurn(message)

	hadName := conv.SessionName != ""
	knownSession := conv.SessionID != ""

	err := c.readStream(ctx, conv, chatPayload{
		Message:   message,
		SessionID: conv.SessionID,
		Files:     files,
	}, onEvent)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		conv.Cancel()
		return nil
	default:
		conv.Fail()
		return err
	}

	if !conv.Finished() {
		// The server closed the stream without a terminal event.
		conv.Fail()
		return fmt.Errorf("stream ended without a terminal event")
	}

	if conv.SessionID != "" && !knownSession && !hadName {
		c.nameAndSave(ctx, conv)
	}
	return nil
}

// Resume re-opens a conversation that failed mid-turn, asking the agent to
// pick up where it stopped.
func (c *Client) Resume(ctx context.Context, conv *Conversation, onEvent func(agentproc.Event)) error {
	if conv.Recoverable == "" {
		return fmt.Errorf("conversation has nothing to resume")
	}
	conv.SessionID = conv.Recoverable
	return c.Stream(ctx, conv, resumePrompt, nil, onEvent)
}

func (c *Client) readStream(ctx context.Context, conv *Conversation, payload chatPayload, onEvent func(agentproc.Event)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/api/agent/%s/chat/stream", c.baseURL, c.persona)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request failed: %s", apiError(resp))
	}

	dec := NewDecoder(c.logger)
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		for _, ev := range dec.Feed(buf[:n]) {
			conv.Apply(ev)
			if onEvent != nil {
				onEvent(ev)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", readErr)
		}
	}
}

// nameAndSave runs after the first successful turn of a new session. Naming
// is best-effort: its failure falls back to a truncated first message and
// never taints the turn's outcome.
func (c *Client) nameAndSave(ctx context.Context, conv *Conversation) {
	first := conv.FirstMessage()

	name, err := c.Namer.Name(ctx, first)
	if err != nil || name == "" {
		c.logger.Warn("session naming failed, using fallback", "error", err)
		name = FallbackName(first)
	}
	conv.SessionName = name

	if err := c.Saver.SaveSession(ctx, conv.SessionID, name, first); err != nil {
		c.logger.Warn("failed to save session", "session_id", conv.SessionID, "error", err)
	}
}

// SaveSession upserts a session record via the panel API.
func (c *Client) SaveSession(ctx context.Context, sessionID, name, firstMessage string) error {
	body, err := json.Marshal(map[string]string{
		"session_id":    sessionID,
		"name":          name,
		"first_message": firstMessage,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/agent/%s/sessions", c.baseURL, c.persona)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save session failed: %s", apiError(resp))
	}
	return nil
}

// Sessions lists the persona's saved sessions, most recently updated first.
func (c *Client) Sessions(ctx context.Context) ([]sessionstore.Session, error) {
	url := fmt.Sprintf("%s/api/agent/%s/sessions", c.baseURL, c.persona)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions failed: %s", apiError(resp))
	}

	var out struct {
		Sessions []sessionstore.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}
	return out.Sessions, nil
}

// DeleteSession removes a saved session record.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/api/agent/%s/sessions/%s", c.baseURL, c.persona, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete session failed: %s", apiError(resp))
	}
	return nil
}

// Status reports whether the agent executable is reachable behind the panel.
func (c *Client) Status(ctx context.Context) (available bool, version string, err error) {
	url := fmt.Sprintf("%s/api/agent/%s/status", c.baseURL, c.persona)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	var out struct {
		Available bool   `json:"available"`
		Version   string `json:"version"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", fmt.Errorf("failed to decode status: %w", err)
	}
	return out.Available, out.Version, nil
}

// apiError extracts the {"error": ...} body of a failed request, falling
// back to the HTTP status line.
func apiError(resp *http.Response) string {
	var out struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &out) == nil && out.Error != "" {
		return out.Error
	}
	return resp.Status
}
