// Package claude adapts the Anthropic Messages API to the model provider
// contract.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/pkg/circuitbreaker"
	"github.com/acm-research/backend/pkg/logger"
	"github.com/acm-research/backend/pkg/retry"
)

type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, maxTokens int, temperature float32, timeout time.Duration) *Client {
	cb := circuitbreaker.NewCircuitBreaker("claude", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Claude client initialized", zap.String("model", model))

	return &Client{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Name() llm.ID {
	return llm.Claude
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	content := req.Prompt
	if req.Context != "" {
		content = fmt.Sprintf("Context: %s\n\nQuery: %s", req.Context, req.Prompt)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var result *llm.CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		var err error
		result, err = retry.DoWithResult(ctx, c.retryConfig, func() (*llm.CompletionResponse, error) {
			msg, err := c.client.Messages.New(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("failed to create message: %w", err)
			}

			var text strings.Builder
			for _, block := range msg.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}

			logger.Debug("Claude completion generated",
				zap.Int64("input_tokens", msg.Usage.InputTokens),
				zap.Int64("output_tokens", msg.Usage.OutputTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(string(llm.Claude), "input").Add(float64(msg.Usage.InputTokens))
			metrics.LLMTokensUsed.WithLabelValues(string(llm.Claude), "output").Add(float64(msg.Usage.OutputTokens))

			return &llm.CompletionResponse{
				Content: text.String(),
				Usage: llm.Usage{
					InputTokens:  int(msg.Usage.InputTokens),
					OutputTokens: int(msg.Usage.OutputTokens),
				},
			}, nil
		})
		return err
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}
