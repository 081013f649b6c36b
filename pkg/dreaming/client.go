// Package dreaming runs the scheduled LLM-driven enrichment pipelines:
// moment extraction, resource affinity, entity extraction, user summary,
// and the daily digest email.
package dreaming

import (
	"context"
	"errors"
	"math"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

const (
	llmMaxRetries     = 3
	llmInitialBackoff = time.Second
	defaultMaxTokens  = 2048
)

// LLMClient is the completion surface the pipelines use. Implementations
// must be safe for concurrent use.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// AnthropicClient calls the Anthropic messages API with retries
type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	maxRetries     int
	initialBackoff time.Duration
}

// NewAnthropicClient builds a client. ANTHROPIC_API_KEY takes precedence
// over the explicit key.
func NewAnthropicClient(apiKey, model string, maxTokens int) (*AnthropicClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, commonerrors.Newf("dreaming", "NewAnthropicClient", commonerrors.KindDependency,
			"no LLM credentials: set ANTHROPIC_API_KEY")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxTokens:      int64(maxTokens),
		maxRetries:     llmMaxRetries,
		initialBackoff: llmInitialBackoff,
	}, nil
}

// Model returns the configured model name
func (c *AnthropicClient) Model() string { return string(c.model) }

// Complete sends one prompt and returns the text of the first content
// block. Rate-limit and server errors retry with exponential backoff.
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", commonerrors.Newf("dreaming", "Complete", commonerrors.KindInternal,
					"response has no content blocks")
			}
			block := message.Content[0]
			if block.Type != "text" {
				return "", commonerrors.Newf("dreaming", "Complete", commonerrors.KindInternal,
					"unexpected response block type %q", block.Type)
			}
			return block.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !llmRetryable(err) {
			return "", commonerrors.New("dreaming", "Complete", commonerrors.KindDependency, err)
		}
	}
	return "", commonerrors.New("dreaming", "Complete", commonerrors.KindTransient, lastErr).
		WithContext("attempts", c.maxRetries+1)
}

func llmRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
