// Package chat wires the access gate, conversation storage, and the
// event stream protocol around the orchestration layer that produces
// the actual assistant turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coursegate/coursegate/internal/access"
	"github.com/coursegate/coursegate/internal/conversation"
	"github.com/coursegate/coursegate/internal/domain"
	"github.com/coursegate/coursegate/internal/server"
	"github.com/coursegate/coursegate/internal/stream"
	"github.com/coursegate/coursegate/internal/tokens"
)

// Turn is the unit of work handed to the orchestration layer.
type Turn struct {
	Course             string
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	UserEmail          string
	Message            string
	Model              string
	History            []conversation.Message
}

// Result is what a completed orchestration run reports back.
type Result struct {
	FinalText string
	Steps     int
}

// Orchestrator runs the multi-stage decision logic for one turn,
// emitting lifecycle events as it goes. The handler owns the
// initializing and terminal events; orchestrators must not emit them.
type Orchestrator interface {
	Run(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error)
}

// StreamRequest is the body of POST /api/chat/stream. The course name
// is resolved by the gate, which also accepts it from this body.
type StreamRequest struct {
	CourseName     string `json:"courseName"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Model          string `json:"model"`
}

// Handler serves the streaming chat endpoint and conversation reads.
type Handler struct {
	conversations *conversation.Store
	orchestrator  Orchestrator
	counter       *tokens.Counter
	defaultModel  string
}

// NewHandler creates the chat handler.
func NewHandler(conversations *conversation.Store, orchestrator Orchestrator, counter *tokens.Counter, defaultModel string) *Handler {
	return &Handler{
		conversations: conversations,
		orchestrator:  orchestrator,
		counter:       counter,
		defaultModel:  defaultModel,
	}
}

// HandleStream is POST /api/chat/stream. The gate middleware has
// already authorized the caller; everything after the first emitted
// frame reports failure through the stream, not through HTTP status.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, domain.ErrUnauthenticated())
		return
	}

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		access.WriteError(w, &domain.GateError{
			Type:    domain.ErrorTypeInvalidRequest,
			Message: "invalid request body",
		})
		return
	}
	if req.Message == "" {
		access.WriteError(w, &domain.GateError{
			Type:    domain.ErrorTypeInvalidRequest,
			Message: "message is required",
		})
		return
	}

	turn, gateErr := h.prepareTurn(r.Context(), ac, &req)
	if gateErr != nil {
		server.AddError(r.Context(), gateErr)
		access.WriteError(w, gateErr)
		return
	}

	init := domain.Initializing{
		MessageID:          turn.UserMessageID,
		ConversationID:     turn.ConversationID,
		AssistantMessageID: turn.AssistantMessageID,
	}

	stream.Serve(w, r, init, func(ctx context.Context, emit func(domain.Event)) (*domain.Done, error) {
		res, err := h.orchestrator.Run(ctx, turn, emit)
		if err != nil {
			return nil, err
		}

		// Persist the final text even if the consumer is already gone.
		storeCtx := context.WithoutCancel(ctx)
		if err := h.conversations.UpdateMessageContent(storeCtx, turn.AssistantMessageID, res.FinalText); err != nil {
			server.AddError(ctx, err)
		}

		return &domain.Done{
			ConversationID: turn.ConversationID,
			FinalMessageID: turn.AssistantMessageID,
			Summary: &domain.RunSummary{
				OutputTokens: h.counter.Count(turn.Model, res.FinalText),
				Steps:        res.Steps,
			},
		}, nil
	})
}

// prepareTurn loads or creates the conversation and mints the message
// ids announced by the initializing event.
func (h *Handler) prepareTurn(ctx context.Context, ac *access.AuthContext, req *StreamRequest) (*Turn, *domain.GateError) {
	model := req.Model
	if model == "" {
		model = h.defaultModel
	}

	turn := &Turn{
		Course:             ac.Course,
		UserEmail:          ac.Identity.Email,
		Message:            req.Message,
		Model:              model,
		AssistantMessageID: uuid.New().String(),
	}

	if req.ConversationID == "" {
		conv, err := h.conversations.Create(ctx, ac.Course, ac.Identity.Email)
		if err != nil {
			return nil, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to create conversation"}
		}
		turn.ConversationID = conv.ID
	} else {
		conv, err := h.conversations.Get(ctx, req.ConversationID)
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, &domain.GateError{
				Type:       domain.ErrorTypeTenantNotFound,
				Message:    "conversation not found",
				StatusCode: http.StatusNotFound,
			}
		}
		if err != nil {
			return nil, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to load conversation"}
		}
		if conv.Course != ac.Course {
			return nil, domain.ErrInsufficientAccess(domain.LevelAny, ac.Course)
		}
		turn.ConversationID = conv.ID
		turn.History = conv.Messages
	}

	userMessageID, err := h.conversations.AppendMessage(ctx, turn.ConversationID, "user", req.Message)
	if err != nil {
		return nil, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to store message"}
	}
	turn.UserMessageID = userMessageID

	// The assistant row is created up front under the minted id so the
	// client can reference it before streaming completes.
	if err := h.conversations.AppendMessageWithID(ctx, turn.AssistantMessageID, turn.ConversationID, "assistant", ""); err != nil {
		return nil, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to store message"}
	}

	return turn, nil
}

// HandleGetConversation is GET /api/conversations/{conversationID}.
// The gate's public variant has already run; the conversation must
// belong to the authorized course.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, domain.ErrUnauthenticated())
		return
	}

	id := chi.URLParam(r, "conversationID")
	conv, err := h.conversations.Get(r.Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		access.WriteError(w, &domain.GateError{
			Type:       domain.ErrorTypeTenantNotFound,
			Message:    "conversation not found",
			StatusCode: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to load conversation"})
		return
	}
	if conv.Course != ac.Course {
		access.WriteError(w, &domain.GateError{
			Type:       domain.ErrorTypeTenantNotFound,
			Message:    "conversation not found",
			StatusCode: http.StatusNotFound,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}
