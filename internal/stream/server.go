// Package stream implements the server-push event protocol: typed
// lifecycle events serialized as SSE frames on the way out, and a
// client that decodes and dispatches them on the way back in.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coursegate/coursegate/internal/domain"
)

// Stream is a single outbound event stream bound to one request. All
// methods are safe against a consumer that disconnects mid-flight:
// once the stream is closed, Emit is a silent no-op.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	closed  atomic.Bool
}

// Open prepares w for event streaming and writes the SSE headers.
// It fails if the ResponseWriter cannot flush incrementally.
func Open(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Stream{w: w, flusher: flusher}, nil
}

// Emit serializes the event as one "data: <json>\n\n" frame. Write
// failures mean the consumer is gone: the stream is marked closed and
// the failure is swallowed. Emit after Close never errors and never
// writes.
func (s *Stream) Emit(ev domain.Event) {
	if s.closed.Load() {
		return
	}

	payload, err := domain.MarshalEvent(ev)
	if err != nil {
		return
	}

	// A frame's data field must be a single line; the JSON encoder
	// escapes newlines inside strings, but flatten defensively.
	frame := strings.ReplaceAll(string(payload), "\n", " ")

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", frame); err != nil {
		s.closed.Store(true)
		return
	}
	s.flusher.Flush()
}

// Close marks the stream closed. Idempotent; safe to call after a
// consumer disconnect.
func (s *Stream) Close() {
	s.closed.Store(true)
}

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool {
	return s.closed.Load()
}

// RunFunc is the orchestration collaborator. It emits lifecycle
// events through emit and returns the terminal Done event, or an
// error that becomes the terminal error event.
type RunFunc func(ctx context.Context, emit func(domain.Event)) (*domain.Done, error)

// Serve drives a full stream lifecycle: open, emit the initializing
// event, run the orchestration, emit exactly one terminal event, and
// close. Orchestration failures become a non-recoverable error event
// rather than an HTTP error, since headers are committed once
// streaming begins.
func Serve(w http.ResponseWriter, r *http.Request, init domain.Initializing, run RunFunc) {
	s, err := Open(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	defer s.Close()

	s.Emit(init)

	done, runErr := run(r.Context(), s.Emit)
	if runErr != nil {
		// Client-initiated cancellation is not an error; stop silently.
		if r.Context().Err() != nil {
			return
		}
		s.Emit(domain.ErrorEvent{Message: runErr.Error(), Recoverable: false})
		return
	}

	if done != nil {
		s.Emit(*done)
	}
}
