package agentproc

import (
	"encoding/json"
	"strings"
)

// rawLine mirrors the agent CLI's stream-json output. One JSON object per
// stdout line; the shape varies by top-level type.
type rawLine struct {
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	SessionID    string      `json:"session_id"`
	Result       string      `json:"result"`
	IsError      bool        `json:"is_error"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	DurationMS   int64       `json:"duration_ms"`
	Message      *rawMessage `json:"message"`
	Error        string      `json:"error"`
}

type rawMessage struct {
	Content []rawContent `json:"content"`
}

type rawContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// parseLine converts one raw stdout line into zero or more normalized events.
// A line that is not valid JSON, or a JSON shape we do not recognize, yields
// no events and no error: a single corrupt line must not kill the stream.
func parseLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil
	}

	switch raw.Type {
	case "system":
		msg := raw.Subtype
		if msg == "" {
			msg = "system"
		}
		return []Event{{
			Type:      EventSystem,
			Message:   msg,
			SessionID: raw.SessionID,
		}}

	case "assistant":
		if raw.Message == nil {
			return nil
		}
		var events []Event
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				events = append(events, Event{
					Type:      EventMessage,
					Text:      block.Text,
					SessionID: raw.SessionID,
				})
			case "tool_use":
				events = append(events, Event{
					Type:      EventToolUse,
					Tool:      block.Name,
					SessionID: raw.SessionID,
				})
			}
		}
		return events

	case "result":
		if raw.IsError || raw.Subtype == "error" || (raw.Subtype != "" && raw.Subtype != "success") {
			detail := raw.Error
			if detail == "" {
				detail = raw.Result
			}
			if detail == "" {
				detail = "agent reported an error"
			}
			return []Event{{
				Type:       EventError,
				Error:      detail,
				SessionID:  raw.SessionID,
				DurationMS: raw.DurationMS,
			}}
		}
		return []Event{{
			Type:       EventResult,
			Result:     raw.Result,
			SessionID:  raw.SessionID,
			CostUSD:    raw.TotalCostUSD,
			DurationMS: raw.DurationMS,
		}}
	}

	// user echoes, tool results and anything unrecognized are not surfaced
	return nil
}
