package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elee1766/stationd/src/agentproc"
)

// sseWriter frames events as Server-Sent Events and flushes each one
// immediately so nothing sits in a buffer between the subprocess and the
// browser.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets streaming headers and returns a writer, or false if the
// ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the response.
	h.Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher}, true
}

// Send writes one event as a data: line. A write error means the client is
// gone.
func (s *sseWriter) Send(ev agentproc.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
