// Package provider contains the upstream model provider client and
// the contracts the orchestration layer consumes. Providers that
// interleave a reasoning channel into their raw stream are normalized
// through the reasoning subpackage; others pass through untouched.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coursegate/coursegate/internal/provider/reasoning"
)

const defaultBaseURL = "http://localhost:8000"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithInterleavedReasoning marks the provider's raw protocol as
// carrying reasoning and answer channels in one line-marked stream.
func WithInterleavedReasoning(interleaved bool) ClientOption {
	return func(c *Client) {
		c.interleaved = interleaved
	}
}

// Client is an HTTP client for a streaming chat provider.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	interleaved bool
}

// NewClient creates a provider client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatMessage is one turn of the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream chat request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// StreamChat issues a streaming chat request and returns the
// normalized text stream: for interleaved providers, reasoning spans
// arrive wrapped in <think>...</think>; otherwise the body passes
// through as-is.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if !c.interleaved {
		return resp.Body, nil
	}
	return &normalizedBody{
		Reader: reasoning.NewReader(resp.Body),
		closer: resp.Body,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "coursegate/1.0")
}

// normalizedBody pairs the normalizing reader with the underlying
// response body's closer.
type normalizedBody struct {
	io.Reader
	closer io.Closer
}

func (b *normalizedBody) Close() error {
	return b.closer.Close()
}
