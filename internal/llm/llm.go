// Package llm defines the uniform model adapter contract and the closed set
// of model identifiers. Hosted and locally-reachable backends sit behind the
// same Provider interface; callers never branch on provider internals.
package llm

import (
	"context"
	"sort"
)

type ID string

const (
	Claude ID = "claude"
	GPT4   ID = "gpt4"
	Ollama ID = "ollama"
)

func All() []ID {
	return []ID{Claude, GPT4, Ollama}
}

func Valid(id string) bool {
	switch ID(id) {
	case Claude, GPT4, Ollama:
		return true
	}
	return false
}

func DisplayName(id ID) string {
	switch id {
	case Claude:
		return "Claude (Anthropic)"
	case GPT4:
		return "GPT-4 (OpenAI)"
	case Ollama:
		return "Ollama (Local)"
	}
	return string(id)
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Context     string
	MaxTokens   int
	Temperature float32
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is implemented once per LLM backend.
type Provider interface {
	Name() ID
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// AvailabilityProber is implemented by locally-reachable backends. The
// orchestrator consults it before dispatch and skips the model when the
// probe fails.
type AvailabilityProber interface {
	Available(ctx context.Context) bool
}

type Registry struct {
	providers map[ID]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[ID]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Lookup(id ID) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
