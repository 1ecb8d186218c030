package agentproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent writes a shell script that stands in for the agent CLI. The
// script ignores its arguments and emits the given body.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func collect(t *testing.T, r *Runner, req Request) ([]Event, error) {
	t.Helper()
	var events []Event
	err := r.Stream(context.Background(), req, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	path := fakeAgent(t, `
echo '{"type":"system","subtype":"init","session_id":"s1"}'
echo '{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":"Hi"}]}}'
echo '{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":" there"}]}}'
echo '{"type":"result","subtype":"success","result":"Hi there","session_id":"s1","total_cost_usd":0.001,"duration_ms":42}'`)

	r := NewRunner(Options{ExecPath: path})
	events, err := collect(t, r, Request{Message: "hello"})
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventSystem, events[0].Type)
	assert.Equal(t, "Hi", events[1].Text)
	assert.Equal(t, " there", events[2].Text)
	assert.Equal(t, EventResult, events[3].Type)
	assert.Equal(t, "Hi there", events[3].Result)
	assert.Equal(t, "s1", events[3].SessionID)
	assert.InDelta(t, 0.001, events[3].CostUSD, 1e-9)
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	path := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"a"}]}}'
echo '{not json'
echo 'plain noise'
echo '{"type":"result","subtype":"success","result":"a","session_id":"s"}'`)

	r := NewRunner(Options{ExecPath: path})
	events, err := collect(t, r, Request{Message: "x"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, EventResult, events[1].Type)
}

func TestStreamSynthesizesErrorOnSilentExit(t *testing.T) {
	path := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
echo "something broke" >&2
exit 3`)

	r := NewRunner(Options{ExecPath: path})
	events, err := collect(t, r, Request{Message: "x", SessionID: "prev"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Error, "something broke")
	assert.Equal(t, "prev", events[1].SessionID)
}

func TestStreamSynthesizesErrorWhenAgentMissing(t *testing.T) {
	r := NewRunner(Options{ExecPath: "/nonexistent/agent-binary"})
	events, err := collect(t, r, Request{Message: "x", SessionID: "prev"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "failed to start agent")
	assert.Equal(t, "prev", events[0].SessionID)
}

func TestStreamTimeout(t *testing.T) {
	path := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
sleep 30`)

	r := NewRunner(Options{ExecPath: path})
	start := time.Now()
	events, err := collect(t, r, Request{Message: "x", Timeout: 300 * time.Millisecond})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Error, "timed out")
}

func TestStreamCancellation(t *testing.T) {
	path := fakeAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(Options{ExecPath: path})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Stream(ctx, Request{Message: "x"}, func(ev Event) error {
			if ev.Type == EventMessage {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("subprocess was not reaped after cancellation")
	}
}

func TestRunOnceParsesResult(t *testing.T) {
	path := fakeAgent(t, `echo '{"type":"result","subtype":"success","result":"four","session_id":"s9","total_cost_usd":0.002,"duration_ms":100,"is_error":false}'`)

	r := NewRunner(Options{ExecPath: path})
	res, err := r.RunOnce(context.Background(), Request{Message: "2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "four", res.Result)
	assert.Equal(t, "s9", res.SessionID)
	assert.False(t, res.IsError)
}

func TestRunOnceNonJSONOutput(t *testing.T) {
	path := fakeAgent(t, `echo 'just plain text'`)

	r := NewRunner(Options{ExecPath: path})
	res, err := r.RunOnce(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Contains(t, res.Result, "just plain text")
	assert.False(t, res.IsError)
}

func TestRunOnceFailureReportsStderr(t *testing.T) {
	path := fakeAgent(t, `
echo "bad flag" >&2
exit 1`)

	r := NewRunner(Options{ExecPath: path})
	res, err := r.RunOnce(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Result, "bad flag")
}

func TestBuildArgs(t *testing.T) {
	r := NewRunner(Options{ExecPath: "agent", SkipPermissions: true})

	args := r.buildArgs(Request{
		Message:      "hello",
		SessionID:    "s1",
		AllowedTools: []string{"Bash", "Read"},
	}, "stream-json")

	assert.Equal(t, []string{
		"-p", "hello",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
		"--resume", "s1",
		"--allowedTools", "Bash,Read",
	}, args)

	// Restriction flag omitted entirely when unrestricted.
	restricted := NewRunner(Options{ExecPath: "agent"})
	args = restricted.buildArgs(Request{Message: "hi"}, "json")
	assert.Equal(t, []string{"-p", "hi", "--output-format", "json"}, args)
}
