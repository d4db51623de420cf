// Package gpt adapts the OpenAI chat completions API to the model provider
// contract.
package gpt

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/pkg/circuitbreaker"
	"github.com/acm-research/backend/pkg/logger"
	"github.com/acm-research/backend/pkg/retry"
)

type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, maxTokens int, temperature float32, timeout time.Duration) *Client {
	cb := circuitbreaker.NewCircuitBreaker("gpt", circuitbreaker.Config{
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

	logger.Info("GPT client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Name() llm.ID {
	return llm.GPT4
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

	userContent := req.Prompt
	if req.Context != "" {
		userContent = fmt.Sprintf("Context: %s\n\nQuery: %s", req.Context, req.Prompt)
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userContent,
	})

	var result *llm.CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		var err error
		result, err = retry.DoWithResult(ctx, c.retryConfig, func() (*llm.CompletionResponse, error) {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("completion returned no choices")
			}

			logger.Debug("GPT completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(string(llm.GPT4), "input").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(string(llm.GPT4), "output").Add(float64(resp.Usage.CompletionTokens))

			return &llm.CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: llm.Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
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
