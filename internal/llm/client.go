// Package llm is the client for the external paraphrasing collaborator:
// a multi-provider chat-completion client with a fallback chain. The
// fingerprint engine treats it as a black box that rewrites carrier text;
// everything here degrades to "no variants" errors the engine can ignore.
package llm

import (
	"context"
	"strings"
	"time"
)

// Message represents a chat message (system/user/assistant).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is a provider-agnostic completion response.
type Response struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Content  string        `json:"content"`
	Latency  time.Duration `json:"latency_ms"`
}

// Provider is a single LLM API backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client sends completion requests with fallback across providers in
// registration order.
type Client struct {
	providers []Provider
}

func New(providers []Provider) *Client {
	return &Client{providers: providers}
}

// Complete tries each provider in order and returns the first success.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for _, p := range c.providers {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, lastErr
}

// Providers returns the names of all configured providers.
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

const paraphraseSystem = "Rewrite the user's text in different words while preserving its meaning, tone and approximate length. Reply with the rewritten text only."

// Paraphrase asks the collaborator for up to n rewrites of text and
// returns them in generation order. Variants that come back empty are
// dropped; when every attempt fails, the last provider error is returned.
func (c *Client) Paraphrase(ctx context.Context, text string, n int) ([]string, error) {
	if n < 1 {
		n = 1
	}
	variants := make([]string, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		resp, err := c.Complete(ctx, Request{
			Messages: []Message{
				{Role: "system", Content: paraphraseSystem},
				{Role: "user", Content: text},
			},
			Temperature: 0.8,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if v := strings.TrimSpace(resp.Content); v != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		if lastErr == nil {
			lastErr = ErrNoVariants
		}
		return nil, lastErr
	}
	return variants, nil
}
