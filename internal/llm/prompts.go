package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/acm-research/backend/pkg/logger"
)

// Refinement is the JSON-shaped payload the refinement prompt asks for. The
// model's output is a contract, not a type: parse failure falls back to the
// original query and is recorded as recovered, never raised.
type Refinement struct {
	RefinedQuery string `json:"refinedQuery"`
	Reasoning    string `json:"reasoning"`
	Intent       struct {
		Primary   string   `json:"primary"`
		Secondary []string `json:"secondary"`
	} `json:"intent"`
	Concepts       []string          `json:"concepts"`
	SuggestedTerms []string          `json:"suggestedTerms"`
	Filters        RefinementFilters `json:"filters"`
}

type RefinementFilters struct {
	DateFrom string   `json:"dateFrom,omitempty"`
	DateTo   string   `json:"dateTo,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// FallbackRefinement is what the pipeline uses when the model cannot be
// reached or returns unparseable output.
func FallbackRefinement(originalQuery string) Refinement {
	r := Refinement{
		RefinedQuery: originalQuery,
		Reasoning:    "refinement unavailable",
	}
	r.Intent.Primary = originalQuery
	return r
}

// Refine asks the provider to rewrite a free-text research question into a
// database-friendly form. The returned bool reports whether the model's
// answer was actually used; false means the fallback was applied.
func Refine(ctx context.Context, p Provider, originalQuery, userContext string) (Refinement, bool) {
	prompt := fmt.Sprintf(`You are a research assistant for biomedical researchers.

Analyze this research query and:
1. Rephrase it for optimal academic database searching
2. Extract the core intent and key concepts
3. Suggest related search terms and any date or keyword filters

Query: %q
%s
Return ONLY a JSON object with this shape:
{
  "refinedQuery": "refined search query",
  "reasoning": "why this phrasing works better",
  "intent": {"primary": "main research goal", "secondary": ["related goals"]},
  "concepts": ["key concept 1", "key concept 2"],
  "suggestedTerms": ["related term 1", "related term 2"],
  "filters": {"dateFrom": "", "dateTo": "", "keywords": []}
}`, originalQuery, researcherContext(userContext))

	resp, err := p.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   2000,
		Temperature: 0.3,
	})
	if err != nil {
		logger.Warn("Query refinement failed, using original query", zap.Error(err))
		return FallbackRefinement(originalQuery), false
	}

	raw := ExtractJSONObject(resp.Content)
	if raw == "" {
		logger.Warn("Refinement response contained no JSON object, using original query")
		return FallbackRefinement(originalQuery), false
	}

	var refined Refinement
	if err := json.Unmarshal([]byte(raw), &refined); err != nil || strings.TrimSpace(refined.RefinedQuery) == "" {
		logger.Warn("Refinement response did not parse, using original query", zap.Error(err))
		return FallbackRefinement(originalQuery), false
	}

	return refined, true
}

// ExtractConcepts asks the provider for a JSON array of scientific concepts
// in the text. Parse failure yields an empty list, never an error.
func ExtractConcepts(ctx context.Context, p Provider, text string) []string {
	prompt := fmt.Sprintf(`Extract key scientific concepts and terms from this text. Return ONLY a JSON array of strings.

Text: %s`, text)

	resp, err := p.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   1000,
		Temperature: 0.2,
	})
	if err != nil {
		logger.Warn("Concept extraction failed", zap.Error(err))
		return nil
	}

	raw := ExtractJSONArray(resp.Content)
	if raw == "" {
		return nil
	}

	var concepts []string
	if err := json.Unmarshal([]byte(raw), &concepts); err != nil {
		return nil
	}

	out := concepts[:0]
	for _, c := range concepts {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// SummarizePrompt builds the synthesis request sent to every selected model
// over the combined cross-source context.
func SummarizePrompt(originalQuery, context string) CompletionRequest {
	return CompletionRequest{
		System: "You are a research assistant for biomedical researchers. Provide accurate, well-researched analysis grounded only in the supplied results.",
		Prompt: fmt.Sprintf(`Analyze these research results and provide:
1. Executive Summary (2-3 paragraphs)
2. Key Findings (bullet points)
3. Relevance Assessment
4. Recommended Next Steps

Original Query: %q`, originalQuery),
		Context:     context,
		MaxTokens:   4000,
		Temperature: 0.7,
	}
}

func researcherContext(userContext string) string {
	if strings.TrimSpace(userContext) == "" {
		return ""
	}
	return fmt.Sprintf("\nResearcher context: %s\n", userContext)
}
