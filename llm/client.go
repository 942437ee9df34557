// LLMClient - prompt-in, text-out wrapper around providers.

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServiceUnavailable wraps any transport or provider failure.
	ErrServiceUnavailable = errors.New("language model unavailable")

	// ErrEmptyCompletion means the provider answered without usable text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Client wraps a Provider with a single-prompt interface.
// It never retries; retry policy belongs to the caller.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// GenerateContent sends prompt as a single user message and returns the completion text.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, nil)
}

// GenerateJSON is GenerateContent with the provider's JSON output mode enabled.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, NewJSONObjectFormat())
}

func (c *Client) generate(ctx context.Context, prompt string, format *ResponseFormat) (string, error) {
	if c == nil || c.provider == nil {
		return "", fmt.Errorf("%w: no provider configured", ErrServiceUnavailable)
	}

	response, err := c.provider.ChatWithFormat(ctx, []ChatMessage{UserMessage(prompt)}, format)
	if err != nil {
		if errors.Is(err, ErrEmptyCompletion) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, c.provider.Name(), err)
	}

	if strings.TrimSpace(response.Content) == "" {
		return "", fmt.Errorf("%w from %s", ErrEmptyCompletion, c.provider.Name())
	}
	return response.Content, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
