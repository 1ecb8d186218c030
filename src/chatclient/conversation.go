package chatclient

import (
	"github.com/elee1766/stationd/src/agentproc"
)

const (
	cancelMarker = "[Cancelled by user]"
	connErrorMsg = "⚠️ Connection error"
)

// Role of a transcript message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry. While a turn is in flight the last
// assistant message has Streaming set and its Content grows as events land.
type Message struct {
	Role       string  `json:"role"`
	Content    string  `json:"content"`
	IsError    bool    `json:"is_error,omitempty"`
	Streaming  bool    `json:"streaming,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`

	// Tools lists the distinct tools the agent invoked during this turn,
	// in first-use order.
	Tools []string `json:"tools,omitempty"`
}

// Conversation holds one persona's visible chat state across turns.
//
// SessionID follows the latch rule: the first event that carries a session id
// while none is held sets it, and it never changes for the rest of the
// conversation. Recoverable holds a session id worth resuming after a
// failure; it stays empty after a deliberate cancel.
type Conversation struct {
	SessionID   string
	SessionName string
	Messages    []Message
	Recoverable string

	seenTools map[string]bool
	finished  bool
}

func NewConversation() *Conversation {
	return &Conversation{}
}

// StartTurn appends the user message and an empty streaming assistant
// placeholder, and resets per-turn state.
func (c *Conversation) StartTurn(userMessage string) {
	c.Messages = append(c.Messages,
		Message{Role: RoleUser, Content: userMessage},
		Message{Role: RoleAssistant, Streaming: true},
	)
	c.seenTools = make(map[string]bool)
	c.finished = false
	c.Recoverable = ""
}

// Apply dispatches one decoded event into the transcript.
func (c *Conversation) Apply(ev agentproc.Event) {
	c.latch(ev.SessionID)

	switch ev.Type {
	case agentproc.EventInit, agentproc.EventSystem:
		// Advisory only; nothing rendered.
	case agentproc.EventMessage:
		c.current().Content += ev.Text
	case agentproc.EventToolUse:
		c.toolMarker(ev.Tool)
	case agentproc.EventResult:
		c.finalize(ev)
	case agentproc.EventError:
		c.fail(ev.Error)
	case agentproc.EventCancelled:
		c.Cancel()
	case agentproc.EventDone:
		c.current().Streaming = false
	}
}

// Finished reports whether the current turn reached a terminal event.
func (c *Conversation) Finished() bool { return c.finished }

// FirstMessage returns the first user message, used for session naming.
func (c *Conversation) FirstMessage() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// Cancel marks the in-flight turn as deliberately stopped. The partial text
// stays, the cancel notice is appended, and no resume is offered.
func (c *Conversation) Cancel() {
	if c.finished {
		return
	}
	m := c.current()
	if m.Content != "" {
		m.Content += "\n\n"
	}
	m.Content += cancelMarker
	m.Streaming = false
	c.finished = true
	c.Recoverable = ""
}

// Fail marks the in-flight turn as lost to a transport failure. Partial text
// stays, and the latched session id becomes recoverable so the caller can
// offer a resume.
func (c *Conversation) Fail() {
	if c.finished {
		return
	}
	m := c.current()
	if m.Content != "" {
		m.Content += "\n\n"
	}
	m.Content += connErrorMsg
	m.IsError = true
	m.Streaming = false
	c.finished = true
	c.Recoverable = c.SessionID
}

func (c *Conversation) latch(id string) {
	if c.SessionID == "" && id != "" {
		c.SessionID = id
	}
}

// current returns the streaming assistant message, appending one if a stray
// event arrives outside a turn.
func (c *Conversation) current() *Message {
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == RoleAssistant {
		return &c.Messages[n-1]
	}
	c.Messages = append(c.Messages, Message{Role: RoleAssistant, Streaming: true})
	return &c.Messages[len(c.Messages)-1]
}

// toolMarker appends "[Using X...]" once per distinct tool per turn. The
// upstream agent repeats tool events, so this must be idempotent.
func (c *Conversation) toolMarker(tool string) {
	if tool == "" || c.seenTools[tool] {
		return
	}
	if c.seenTools == nil {
		c.seenTools = make(map[string]bool)
	}
	c.seenTools[tool] = true

	m := c.current()
	m.Tools = append(m.Tools, tool)
	if m.Content != "" {
		m.Content += "\n"
	}
	m.Content += "[Using " + tool + "...]\n"
}

// finalize replaces the accumulated text with the authoritative result. An
// empty result keeps whatever streamed in.
func (c *Conversation) finalize(ev agentproc.Event) {
	m := c.current()
	if ev.Result != "" {
		m.Content = ev.Result
	}
	m.CostUSD = ev.CostUSD
	m.DurationMS = ev.DurationMS
	m.Streaming = false
	c.finished = true
}

// fail records an explicit error event from the agent. If a session id is
// held the turn is recoverable.
func (c *Conversation) fail(detail string) {
	m := c.current()
	if detail != "" {
		if m.Content != "" {
			m.Content += "\n\n"
		}
		m.Content += detail
	}
	m.IsError = true
	m.Streaming = false
	c.finished = true
	c.Recoverable = c.SessionID
}
