package agentproc

// EventType identifies one variant of the normalized stream event union.
type EventType string

const (
	EventInit      EventType = "init"
	EventMessage   EventType = "message"
	EventToolUse   EventType = "tool_use"
	EventSystem    EventType = "system"
	EventResult    EventType = "result"
	EventError     EventType = "error"
	EventDone      EventType = "done"
	EventCancelled EventType = "cancelled"
)

// Event is one normalized stream event. Which fields are populated depends on
// Type; everything except Type is optional on the wire.
type Event struct {
	Type EventType `json:"type"`

	// Message carries advisory text for init and system events.
	Message string `json:"message,omitempty"`

	// Text carries an incremental chunk of assistant output.
	Text string `json:"text,omitempty"`

	// Tool is the name of the tool being invoked for tool_use events.
	Tool string `json:"tool,omitempty"`

	// Result holds the authoritative final text on terminal success.
	Result string `json:"result,omitempty"`

	// Error holds the failure description on terminal failure.
	Error string `json:"error,omitempty"`

	// SessionID may appear on any event after the first; the first sighting
	// is authoritative for the whole conversation.
	SessionID string `json:"session_id,omitempty"`

	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

// Terminal reports whether this event ends the stream from the agent's side.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Result is the outcome of a one-shot, non-streaming agent invocation.
type Result struct {
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	DurationMS int64   `json:"duration_ms"`
	CostUSD    float64 `json:"cost_usd"`
	IsError    bool    `json:"is_error"`
}
