// Package chatclient consumes the panel's SSE chat stream: it decodes frames
// incrementally, maintains the visible conversation state, and implements the
// cancel and resume semantics of the chat surface.
package chatclient

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/elee1766/stationd/src/agentproc"
)

// Decoder turns raw SSE bytes into events. Feed accepts arbitrary chunks;
// a line split across two network reads is buffered until its newline
// arrives, so chunk boundaries never affect the decoded sequence.
type Decoder struct {
	buf    bytes.Buffer
	logger *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed appends a chunk and returns the events decoded from every complete
// line now available. Unparseable lines are logged and skipped; a single bad
// line never ends the stream.
func (d *Decoder) Feed(p []byte) []agentproc.Event {
	d.buf.Write(p)

	var events []agentproc.Event
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return events
		}
		line := bytes.TrimRight(raw[:idx], "\r")
		d.buf.Next(idx + 1)

		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
}

func (d *Decoder) decodeLine(line []byte) (agentproc.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return agentproc.Event{}, false
	}

	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		// Comments and other SSE fields are not used by the panel.
		return agentproc.Event{}, false
	}
	payload = bytes.TrimSpace(payload)

	var ev agentproc.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.logger.Debug("skipping malformed stream line", "line", string(line), "error", err)
		return agentproc.Event{}, false
	}
	if ev.Type == "" {
		d.logger.Debug("skipping event without type", "line", string(line))
		return agentproc.Event{}, false
	}
	return ev, true
}
