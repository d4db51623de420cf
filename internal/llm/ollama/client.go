// Package ollama adapts a locally-reachable Ollama server to the model
// provider contract. Unlike the hosted backends it exposes an availability
// probe; the orchestrator skips this model entirely when the probe fails.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/pkg/logger"
)

type Client struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func NewClient(baseURL, model string, maxTokens int, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() llm.ID {
	return llm.Ollama
}

// Available reports whether the local server answers its tags endpoint.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("Ollama not available", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	prompt := req.Prompt
	if req.Context != "" {
		prompt = fmt.Sprintf("Context: %s\n\nQuery: %s", req.Context, req.Prompt)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: req.System,
		Stream: false,
		Options: generateOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %s", resp.Status)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	logger.Debug("Ollama completion generated",
		zap.Int("prompt_eval_count", gen.PromptEvalCount),
		zap.Int("eval_count", gen.EvalCount),
	)

	metrics.LLMTokensUsed.WithLabelValues(string(llm.Ollama), "input").Add(float64(gen.PromptEvalCount))
	metrics.LLMTokensUsed.WithLabelValues(string(llm.Ollama), "output").Add(float64(gen.EvalCount))

	return &llm.CompletionResponse{
		Content: gen.Response,
		Usage: llm.Usage{
			InputTokens:  gen.PromptEvalCount,
			OutputTokens: gen.EvalCount,
		},
	}, nil
}
