package domain

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a stream event variant. The value is carried
// on the wire as the "type" discriminator of every SSE frame.
type EventType string

const (
	EventInitializing     EventType = "initializing"
	EventSelection        EventType = "selection"
	EventRetrieval        EventType = "retrieval"
	EventTool             EventType = "tool"
	EventAgentEvents      EventType = "agent_events_update"
	EventToolsUpdate      EventType = "tools_update"
	EventContextsMetadata EventType = "contexts_metadata"
	EventFinalTokens      EventType = "final_tokens"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// StageStatus is the two-phase marker for stages that emit once when
// they start and once when they finish.
type StageStatus string

const (
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
)

// Event is the closed union of lifecycle events pushed to the client.
// Exactly one of Done or Error terminates a stream, and Initializing
// is always first when emitted.
type Event interface {
	Type() EventType
}

// Initializing announces the identifiers minted for this turn before
// any work starts.
type Initializing struct {
	MessageID          string `json:"messageId"`
	ConversationID     string `json:"conversationId"`
	AssistantMessageID string `json:"assistantMessageId"`
}

func (Initializing) Type() EventType { return EventInitializing }

// Selection reports the tool/retrieval selection stage. Decision and
// Tools are only populated on the done phase.
type Selection struct {
	StepNumber int         `json:"stepNumber"`
	Status     StageStatus `json:"status"`
	Decision   string      `json:"decision,omitempty"`
	Tools      []string    `json:"tools,omitempty"`
}

func (Selection) Type() EventType { return EventSelection }

// Retrieval reports a retrieval stage against the course corpus.
type Retrieval struct {
	StepNumber        int         `json:"stepNumber"`
	Status            StageStatus `json:"status"`
	Query             string      `json:"query"`
	ContextsRetrieved int         `json:"contextsRetrieved,omitempty"`
}

func (Retrieval) Type() EventType { return EventRetrieval }

// Tool reports a tool invocation stage.
type Tool struct {
	StepNumber       int         `json:"stepNumber"`
	Status           StageStatus `json:"status"`
	ToolName         string      `json:"toolName"`
	ReadableToolName string      `json:"readableToolName"`
	OutputText       string      `json:"outputText,omitempty"`
	OutputImageURLs  []string    `json:"outputImageUrls,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
}

func (Tool) Type() EventType { return EventTool }

// AgentEventsUpdate carries the accumulated agent event log for a
// message. The payload shape is owned by the orchestration layer and
// passed through opaquely.
type AgentEventsUpdate struct {
	AgentEvents json.RawMessage `json:"agentEvents"`
	MessageID   string          `json:"messageId"`
}

func (AgentEventsUpdate) Type() EventType { return EventAgentEvents }

// ToolsUpdate carries the tool outputs attached to a message.
type ToolsUpdate struct {
	Tools     json.RawMessage `json:"tools"`
	MessageID string          `json:"messageId"`
}

func (ToolsUpdate) Type() EventType { return EventToolsUpdate }

// ContextsMetadata describes the retrieved contexts backing a message.
type ContextsMetadata struct {
	MessageID        string          `json:"messageId"`
	ContextsMetadata json.RawMessage `json:"contextsMetadata"`
	TotalContexts    int             `json:"totalContexts"`
}

func (ContextsMetadata) Type() EventType { return EventContextsMetadata }

// FinalTokens streams the incremental answer text. Done marks the
// last delta of the answer.
type FinalTokens struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

func (FinalTokens) Type() EventType { return EventFinalTokens }

// RunSummary is the completion summary carried by Done.
type RunSummary struct {
	OutputTokens int `json:"outputTokens"`
	Steps        int `json:"steps"`
}

// Done is the successful terminal event.
type Done struct {
	ConversationID string      `json:"conversationId"`
	FinalMessageID string      `json:"finalMessageId"`
	Summary        *RunSummary `json:"summary,omitempty"`
}

func (Done) Type() EventType { return EventDone }

// ErrorEvent is the failing terminal event. Recoverable tells the
// consumer whether a retry is worth offering.
type ErrorEvent struct {
	Message     string `json:"message"`
	StepNumber  *int   `json:"stepNumber,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func (ErrorEvent) Type() EventType { return EventError }

// MarshalEvent serializes an event with its "type" discriminator
// injected alongside the variant's own fields.
func MarshalEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s event: %w", ev.Type(), err)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", ev.Type()))
	return json.Marshal(fields)
}

// UnmarshalEvent decodes a frame payload into its concrete variant.
// An unrecognized type returns (nil, nil) so consumers can skip
// frames from newer servers without failing.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var ev Event
	switch head.Type {
	case EventInitializing:
		ev = &Initializing{}
	case EventSelection:
		ev = &Selection{}
	case EventRetrieval:
		ev = &Retrieval{}
	case EventTool:
		ev = &Tool{}
	case EventAgentEvents:
		ev = &AgentEventsUpdate{}
	case EventToolsUpdate:
		ev = &ToolsUpdate{}
	case EventContextsMetadata:
		ev = &ContextsMetadata{}
	case EventFinalTokens:
		ev = &FinalTokens{}
	case EventDone:
		ev = &Done{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}
