package agentproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Event
	}{
		{
			name: "system init carries session id",
			line: `{"type":"system","subtype":"init","session_id":"abc"}`,
			want: []Event{{Type: EventSystem, Message: "init", SessionID: "abc"}},
		},
		{
			name: "assistant text block",
			line: `{"type":"assistant","session_id":"abc","message":{"content":[{"type":"text","text":"Hello"}]}}`,
			want: []Event{{Type: EventMessage, Text: "Hello", SessionID: "abc"}},
		},
		{
			name: "assistant mixed blocks preserve order",
			line: `{"type":"assistant","session_id":"abc","message":{"content":[{"type":"text","text":"Let me check"},{"type":"tool_use","name":"Read"}]}}`,
			want: []Event{
				{Type: EventMessage, Text: "Let me check", SessionID: "abc"},
				{Type: EventToolUse, Tool: "Read", SessionID: "abc"},
			},
		},
		{
			name: "empty text block dropped",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`,
			want: nil,
		},
		{
			name: "successful result",
			line: `{"type":"result","subtype":"success","result":"done","session_id":"abc","total_cost_usd":0.004,"duration_ms":1234}`,
			want: []Event{{Type: EventResult, Result: "done", SessionID: "abc", CostUSD: 0.004, DurationMS: 1234}},
		},
		{
			name: "error result",
			line: `{"type":"result","subtype":"error_during_execution","is_error":true,"result":"boom","session_id":"abc"}`,
			want: []Event{{Type: EventError, Error: "boom", SessionID: "abc"}},
		},
		{
			name: "error result without detail gets a placeholder",
			line: `{"type":"result","is_error":true,"session_id":"abc"}`,
			want: []Event{{Type: EventError, Error: "agent reported an error", SessionID: "abc"}},
		},
		{
			name: "user echo skipped",
			line: `{"type":"user","message":{"content":[{"type":"tool_result"}]}}`,
			want: nil,
		},
		{
			name: "malformed json skipped",
			line: `{not json`,
			want: nil,
		},
		{
			name: "blank line skipped",
			line: "   ",
			want: nil,
		},
		{
			name: "non-json noise skipped",
			line: "npm WARN something",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLine(tt.line)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineTerminal(t *testing.T) {
	events := parseLine(`{"type":"result","subtype":"success","result":"ok","session_id":"s"}`)
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal())

	events = parseLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
	require.Len(t, events, 1)
	assert.False(t, events[0].Terminal())
}
