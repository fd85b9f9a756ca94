package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/coursegate/coursegate/internal/domain"
	"github.com/coursegate/coursegate/internal/provider"
)

// ProviderOrchestrator is the default orchestration: it forwards the
// turn to the configured model provider and streams the normalized
// answer back as final-token deltas. Richer pipelines (retrieval,
// tool selection) implement Orchestrator and emit the corresponding
// stage events around the same final stream.
type ProviderOrchestrator struct {
	client *provider.Client
}

// NewProviderOrchestrator creates the default orchestrator.
func NewProviderOrchestrator(client *provider.Client) *ProviderOrchestrator {
	return &ProviderOrchestrator{client: client}
}

func (o *ProviderOrchestrator) Run(ctx context.Context, turn *Turn, emit func(domain.Event)) (*Result, error) {
	messages := make([]provider.ChatMessage, 0, len(turn.History)+1)
	for _, m := range turn.History {
		if m.Content == "" {
			continue
		}
		messages = append(messages, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.ChatMessage{Role: "user", Content: turn.Message})

	body, err := o.client.StreamChat(ctx, &provider.ChatRequest{
		Model:    turn.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("provider stream failed: %w", err)
	}
	defer body.Close()

	var final strings.Builder
	chunk := make([]byte, 4096)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			delta := string(chunk[:n])
			final.WriteString(delta)
			emit(domain.FinalTokens{Delta: delta})
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("provider stream read failed: %w", readErr)
		}
	}

	emit(domain.FinalTokens{Done: true})

	return &Result{FinalText: final.String(), Steps: 1}, nil
}
