package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coursegate/coursegate/internal/domain"
)

// Callbacks receives decoded stream events. Nil callbacks are
// skipped. Two-phase stages dispatch to the Start callback while
// status is running and to the Done callback otherwise.
type Callbacks struct {
	OnInitializing     func(*domain.Initializing)
	OnSelectionStart   func(*domain.Selection)
	OnSelectionDone    func(*domain.Selection)
	OnRetrievalStart   func(*domain.Retrieval)
	OnRetrievalDone    func(*domain.Retrieval)
	OnToolStart        func(*domain.Tool)
	OnToolDone         func(*domain.Tool)
	OnAgentEvents      func(*domain.AgentEventsUpdate)
	OnToolsUpdate      func(*domain.ToolsUpdate)
	OnContextsMetadata func(*domain.ContextsMetadata)
	OnToken            func(delta string, done bool)
	OnDone             func(*domain.Done)
	OnError            func(message string, recoverable bool)
}

// Client consumes an event stream and dispatches events to callbacks.
// It owns at most one in-flight request; starting a new run aborts
// any previous one.
type Client struct {
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewClient creates a stream client. A nil httpClient uses
// http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Abort cancels any in-flight run. Cancellation terminates the read
// loop silently; it is never reported through OnError.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Run issues the request and dispatches decoded events until the
// stream ends, a decode failure occurs, or the run is aborted.
func (c *Client) Run(ctx context.Context, req *http.Request, cb Callbacks) {
	c.Abort()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(runCtx))
	if err != nil {
		if runCtx.Err() != nil {
			return
		}
		cb.errorOnce(err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cb.errorOnce(decodeErrorBody(resp))
		return
	}

	c.readLoop(runCtx, resp.Body, cb)
}

// decodeErrorBody extracts a best-effort {error} message from a
// non-2xx response, falling back to a generic status message.
func decodeErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// readLoop buffers reads until complete \n\n-terminated frames are
// available, holding any trailing partial frame across reads.
func (c *Client) readLoop(ctx context.Context, body io.Reader, cb Callbacks) {
	var pending []byte
	chunk := make([]byte, 4096)

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				idx := bytes.Index(pending, []byte("\n\n"))
				if idx < 0 {
					break
				}
				frame := pending[:idx]
				pending = pending[idx+2:]
				if stop := c.dispatchFrame(ctx, frame, cb); stop {
					return
				}
			}
		}

		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			cb.errorOnce(err.Error())
			return
		}
	}
}

// dispatchFrame decodes every "data: " line of one frame and
// dispatches the events. Returns true when the loop must stop.
func (c *Client) dispatchFrame(ctx context.Context, frame []byte, cb Callbacks) bool {
	for _, line := range strings.Split(string(frame), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// No callbacks once the caller has aborted.
		if ctx.Err() != nil {
			return true
		}

		ev, err := domain.UnmarshalEvent([]byte(data))
		if err != nil {
			cb.errorOnce(err.Error())
			return true
		}
		if ev == nil {
			// Unrecognized event type; skip the frame.
			continue
		}
		cb.dispatch(ev)
	}
	return false
}

func (cb *Callbacks) dispatch(ev domain.Event) {
	switch e := ev.(type) {
	case *domain.Initializing:
		call(cb.OnInitializing, e)
	case *domain.Selection:
		if e.Status == domain.StageRunning {
			call(cb.OnSelectionStart, e)
		} else {
			call(cb.OnSelectionDone, e)
		}
	case *domain.Retrieval:
		if e.Status == domain.StageRunning {
			call(cb.OnRetrievalStart, e)
		} else {
			call(cb.OnRetrievalDone, e)
		}
	case *domain.Tool:
		if e.Status == domain.StageRunning {
			call(cb.OnToolStart, e)
		} else {
			call(cb.OnToolDone, e)
		}
	case *domain.AgentEventsUpdate:
		call(cb.OnAgentEvents, e)
	case *domain.ToolsUpdate:
		call(cb.OnToolsUpdate, e)
	case *domain.ContextsMetadata:
		call(cb.OnContextsMetadata, e)
	case *domain.FinalTokens:
		if cb.OnToken != nil {
			cb.OnToken(e.Delta, e.Done)
		}
	case *domain.Done:
		call(cb.OnDone, e)
	case *domain.ErrorEvent:
		if cb.OnError != nil {
			cb.OnError(e.Message, e.Recoverable)
		}
	}
}

func (cb *Callbacks) errorOnce(message string) {
	if cb.OnError != nil {
		cb.OnError(message, false)
	}
}

func call[T any](fn func(*T), ev *T) {
	if fn != nil {
		fn(ev)
	}
}
