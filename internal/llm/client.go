// Package llm provides the generative policy client and its providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/afyalink/triage-router/internal/model"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64

	// JSON asks the provider for a JSON object reply where supported.
	JSON bool
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey, defaultModel string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, defaultModel)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, defaultModel)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", model.ErrInvalidInput, provider)
	}
}

// classify maps a provider error onto the triage error taxonomy. Timeouts
// and cancellations mean the collaborator could not be reached in time.
func classify(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", model.ErrUnavailable, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", model.ErrUpstream, provider, err)
}
