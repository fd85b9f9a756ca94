package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coursegate/coursegate/internal/domain"
)

// sseHandler writes each payload as one data frame and flushes.
func sseHandler(t *testing.T, payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("test server writer must flush")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}
}

func streamRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}

func TestClient_DispatchOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"initializing","messageId":"m1","conversationId":"c1","assistantMessageId":"a1"}`,
		`{"type":"done","conversationId":"c1","finalMessageId":"a1"}`,
	))
	defer srv.Close()

	var order []string
	cb := Callbacks{
		OnInitializing: func(ev *domain.Initializing) {
			if ev.ConversationID != "c1" {
				t.Errorf("conversationId = %q, want c1", ev.ConversationID)
			}
			order = append(order, "initializing")
		},
		OnDone: func(ev *domain.Done) {
			order = append(order, "done")
		},
		OnError: func(message string, recoverable bool) {
			t.Errorf("unexpected error callback: %s", message)
		},
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	if len(order) != 2 || order[0] != "initializing" || order[1] != "done" {
		t.Errorf("dispatch order = %v, want [initializing done]", order)
	}
}

func TestClient_StageFanOut(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"selection","stepNumber":1,"status":"running"}`,
		`{"type":"selection","stepNumber":1,"status":"done","decision":"retrieve"}`,
		`{"type":"retrieval","stepNumber":2,"status":"running","query":"q"}`,
		`{"type":"retrieval","stepNumber":2,"status":"done","query":"q","contextsRetrieved":3}`,
		`{"type":"tool","stepNumber":3,"status":"running","toolName":"search","readableToolName":"Search"}`,
		`{"type":"tool","stepNumber":3,"status":"done","toolName":"search","readableToolName":"Search"}`,
		`{"type":"final_tokens","delta":"hi","done":false}`,
		`{"type":"final_tokens","delta":"","done":true}`,
	))
	defer srv.Close()

	var calls []string
	cb := Callbacks{
		OnSelectionStart: func(*domain.Selection) { calls = append(calls, "sel-start") },
		OnSelectionDone:  func(*domain.Selection) { calls = append(calls, "sel-done") },
		OnRetrievalStart: func(*domain.Retrieval) { calls = append(calls, "ret-start") },
		OnRetrievalDone:  func(*domain.Retrieval) { calls = append(calls, "ret-done") },
		OnToolStart:      func(*domain.Tool) { calls = append(calls, "tool-start") },
		OnToolDone:       func(*domain.Tool) { calls = append(calls, "tool-done") },
		OnToken: func(delta string, done bool) {
			calls = append(calls, fmt.Sprintf("token(%q,%v)", delta, done))
		},
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	want := []string{
		"sel-start", "sel-done",
		"ret-start", "ret-done",
		"tool-start", "tool-done",
		`token("hi",false)`, `token("",true)`,
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestClient_FramesSplitAcrossWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		// One frame split mid-payload, then two frames in one write.
		fmt.Fprint(w, `data: {"type":"final_tokens","del`)
		flusher.Flush()
		fmt.Fprint(w, "ta\":\"a\",\"done\":false}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"final_tokens\",\"delta\":\"b\",\"done\":false}\n\ndata: {\"type\":\"final_tokens\",\"delta\":\"\",\"done\":true}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	var deltas []string
	var sawDone bool
	cb := Callbacks{
		OnToken: func(delta string, done bool) {
			if done {
				sawDone = true
				return
			}
			deltas = append(deltas, delta)
		},
		OnError: func(message string, recoverable bool) {
			t.Errorf("unexpected error callback: %s", message)
		},
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	if len(deltas) != 2 || deltas[0] != "a" || deltas[1] != "b" {
		t.Errorf("deltas = %v, want [a b]", deltas)
	}
	if !sawDone {
		t.Error("final done token never dispatched")
	}
}

func TestClient_UnknownEventTypeSkipped(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"hologram","x":1}`,
		`{"type":"done","conversationId":"c1","finalMessageId":"a1"}`,
	))
	defer srv.Close()

	var doneCalls int
	cb := Callbacks{
		OnDone: func(*domain.Done) { doneCalls++ },
		OnError: func(message string, recoverable bool) {
			t.Errorf("unknown type should be skipped, got error %s", message)
		},
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	if doneCalls != 1 {
		t.Errorf("done calls = %d, want 1", doneCalls)
	}
}

func TestClient_NonSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"insufficient_access","message":"admin access required for course \"cs101\""}`)
	}))
	defer srv.Close()

	var errMessage string
	var errCalls int
	cb := Callbacks{
		OnError: func(message string, recoverable bool) {
			errMessage = message
			errCalls++
			if recoverable {
				t.Error("transport-level errors are not recoverable")
			}
		},
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	if errCalls != 1 {
		t.Fatalf("error calls = %d, want 1", errCalls)
	}
	if errMessage != `admin access required for course "cs101"` {
		t.Errorf("message = %q", errMessage)
	}
}

func TestClient_NonSuccessResponseFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	var errMessage string
	cb := Callbacks{
		OnError: func(message string, recoverable bool) { errMessage = message },
	}

	NewClient(srv.Client()).Run(context.Background(), streamRequest(t, srv.URL), cb)

	if errMessage != "HTTP 502" {
		t.Errorf("message = %q, want HTTP 502", errMessage)
	}
}

func TestClient_AbortIsSilent(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"initializing\",\"messageId\":\"m1\",\"conversationId\":\"c1\",\"assistantMessageId\":\"a1\"}\n\n")
		flusher.Flush()
		close(started)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.Client())
	finished := make(chan struct{})

	cb := Callbacks{
		OnError: func(message string, recoverable bool) {
			t.Errorf("abort must be silent, got error %s", message)
		},
	}

	go func() {
		defer close(finished)
		client.Run(context.Background(), streamRequest(t, srv.URL), cb)
	}()

	<-started
	client.Abort()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after abort")
	}
}
