package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/coursegate/coursegate/internal/access"
	"github.com/coursegate/coursegate/internal/auth"
	"github.com/coursegate/coursegate/internal/conversation"
	"github.com/coursegate/coursegate/internal/course/memory"
	"github.com/coursegate/coursegate/internal/domain"
	"github.com/coursegate/coursegate/internal/tokens"
)

// mockOrchestrator scripts the events emitted during a run.
type mockOrchestrator struct {
	run func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error)
}

func (m *mockOrchestrator) Run(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
	return m.run(ctx, turn, emit)
}

type testEnv struct {
	handler       *Handler
	conversations *conversation.Store
	router        *chi.Mux
}

func newTestEnv(t *testing.T, orch Orchestrator) *testEnv {
	t.Helper()

	conversations, err := conversation.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("failed to open conversation store: %v", err)
	}
	t.Cleanup(func() { conversations.Close() })

	courses := memory.New()
	err = courses.Put(context.Background(), "cs101", &domain.Policy{
		OwnerEmail:     "owner@school.edu",
		ApprovedEmails: []string{"student@school.edu"},
	})
	if err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}
	err = courses.Put(context.Background(), "cs102", &domain.Policy{
		OwnerEmail:     "owner@school.edu",
		ApprovedEmails: []string{"student@school.edu"},
	})
	if err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	handler := NewHandler(conversations, orch, tokens.NewCounter(), "test-model")
	gate := access.NewGate(courses)

	r := chi.NewRouter()
	r.With(gate.Require(domain.LevelAny)).Post("/api/chat/stream", handler.HandleStream)
	r.With(gate.Public(domain.LevelAny)).Get("/api/conversations/{conversationID}", handler.HandleGetConversation)

	return &testEnv{handler: handler, conversations: conversations, router: r}
}

func streamPost(t *testing.T, env *testEnv, email, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req = req.WithContext(auth.WithEmail(req.Context(), email))
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func parseFrames(t *testing.T, body string) []domain.Event {
	t.Helper()
	var events []domain.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		ev, err := domain.UnmarshalEvent([]byte(strings.TrimPrefix(frame, "data: ")))
		if err != nil {
			t.Fatalf("failed to decode frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandleStream_FullLifecycle(t *testing.T) {
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			emit(domain.Selection{StepNumber: 1, Status: domain.StageRunning})
			emit(domain.Selection{StepNumber: 1, Status: domain.StageDone, Decision: "answer"})
			emit(domain.FinalTokens{Delta: "hello "})
			emit(domain.FinalTokens{Delta: "world"})
			emit(domain.FinalTokens{Done: true})
			return &Result{FinalText: "hello world", Steps: 1}, nil
		},
	}
	env := newTestEnv(t, orch)

	rec := streamPost(t, env, "student@school.edu", `{"courseName":"cs101","message":"hi"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseFrames(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("got %d events: %v", len(events), events)
	}

	init, ok := events[0].(*domain.Initializing)
	if !ok {
		t.Fatalf("first event = %T, want initializing", events[0])
	}
	if init.ConversationID == "" || init.MessageID == "" || init.AssistantMessageID == "" {
		t.Errorf("initializing ids incomplete: %+v", init)
	}

	done, ok := events[len(events)-1].(*domain.Done)
	if !ok {
		t.Fatalf("last event = %T, want done", events[len(events)-1])
	}
	if done.ConversationID != init.ConversationID {
		t.Errorf("done conversation %q != initializing conversation %q", done.ConversationID, init.ConversationID)
	}
	if done.FinalMessageID != init.AssistantMessageID {
		t.Errorf("done message %q != announced assistant message %q", done.FinalMessageID, init.AssistantMessageID)
	}
	if done.Summary == nil || done.Summary.OutputTokens == 0 || done.Summary.Steps != 1 {
		t.Errorf("summary = %+v", done.Summary)
	}

	// The assistant message must be persisted with the final text.
	conv, err := env.conversations.Get(context.Background(), init.ConversationID)
	if err != nil {
		t.Fatalf("failed to load conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d stored messages, want 2", len(conv.Messages))
	}
	if conv.Messages[1].Content != "hello world" {
		t.Errorf("assistant content = %q, want hello world", conv.Messages[1].Content)
	}
}

func TestHandleStream_SecondTurnCarriesHistory(t *testing.T) {
	var sawHistory []conversation.Message
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			sawHistory = turn.History
			emit(domain.FinalTokens{Delta: "again", Done: false})
			emit(domain.FinalTokens{Done: true})
			return &Result{FinalText: "again", Steps: 1}, nil
		},
	}
	env := newTestEnv(t, orch)

	rec := streamPost(t, env, "student@school.edu", `{"courseName":"cs101","message":"first"}`)
	events := parseFrames(t, rec.Body.String())
	init := events[0].(*domain.Initializing)

	body := fmt.Sprintf(`{"courseName":"cs101","conversationId":%q,"message":"second"}`, init.ConversationID)
	rec = streamPost(t, env, "student@school.edu", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(sawHistory) != 2 {
		t.Fatalf("history length = %d, want the first turn's two messages", len(sawHistory))
	}
	if sawHistory[0].Content != "first" {
		t.Errorf("history[0] = %q, want first", sawHistory[0].Content)
	}
}

func TestHandleStream_Rejections(t *testing.T) {
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			t.Error("orchestrator must not run on a rejected request")
			return nil, nil
		},
	}
	env := newTestEnv(t, orch)

	tests := []struct {
		name       string
		email      string
		body       string
		wantStatus int
	}{
		{"anonymous", "", `{"courseName":"cs101","message":"hi"}`, http.StatusUnauthorized},
		{"empty message", "student@school.edu", `{"courseName":"cs101","message":""}`, http.StatusBadRequest},
		{"malformed body", "student@school.edu", `{nope`, http.StatusBadRequest},
		{"unknown conversation", "student@school.edu", `{"courseName":"cs101","conversationId":"ghost","message":"hi"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := streamPost(t, env, tt.email, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleStream_ConversationBoundToCourse(t *testing.T) {
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			emit(domain.FinalTokens{Done: true})
			return &Result{FinalText: "", Steps: 1}, nil
		},
	}
	env := newTestEnv(t, orch)

	rec := streamPost(t, env, "student@school.edu", `{"courseName":"cs101","message":"hi"}`)
	init := parseFrames(t, rec.Body.String())[0].(*domain.Initializing)

	// Replaying the conversation id under a different course is a 403.
	body := fmt.Sprintf(`{"courseName":"cs102","conversationId":%q,"message":"hi"}`, init.ConversationID)
	rec = streamPost(t, env, "student@school.edu", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStream_OrchestrationFailureEndsStream(t *testing.T) {
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			emit(domain.FinalTokens{Delta: "partial"})
			return nil, errors.New("model unavailable")
		},
	}
	env := newTestEnv(t, orch)

	rec := streamPost(t, env, "student@school.edu", `{"courseName":"cs101","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("headers are committed before the failure, status = %d", rec.Code)
	}

	events := parseFrames(t, rec.Body.String())
	last, ok := events[len(events)-1].(*domain.ErrorEvent)
	if !ok {
		t.Fatalf("last event = %T, want error", events[len(events)-1])
	}
	if last.Recoverable {
		t.Error("orchestration failures terminate the stream; not recoverable")
	}
	if !strings.Contains(last.Message, "model unavailable") {
		t.Errorf("message = %q", last.Message)
	}
}

func TestHandleGetConversation(t *testing.T) {
	orch := &mockOrchestrator{
		run: func(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
			emit(domain.FinalTokens{Done: true})
			return &Result{FinalText: "stored answer", Steps: 1}, nil
		},
	}
	env := newTestEnv(t, orch)

	rec := streamPost(t, env, "student@school.edu", `{"courseName":"cs101","message":"hi"}`)
	init := parseFrames(t, rec.Body.String())[0].(*domain.Initializing)

	get := func(target, email string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if email != "" {
			req = req.WithContext(auth.WithEmail(req.Context(), email))
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("member reads own conversation", func(t *testing.T) {
		rec := get("/api/conversations/"+init.ConversationID+"?courseName=cs101", "student@school.edu")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var conv conversation.Conversation
		if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
			t.Fatalf("response is not a conversation: %v", err)
		}
		if conv.ID != init.ConversationID || len(conv.Messages) != 2 {
			t.Errorf("conversation = %+v", conv)
		}
	})

	t.Run("wrong course reads as not found", func(t *testing.T) {
		rec := get("/api/conversations/"+init.ConversationID+"?courseName=cs102", "student@school.edu")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		rec := get("/api/conversations/ghost?courseName=cs101", "student@school.edu")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
