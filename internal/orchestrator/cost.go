package orchestrator

import (
	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/storage/models"
)

// Pricing in USD per million tokens. Sources and local models are free.
type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var pricing = map[llm.ID]modelPricing{
	llm.Claude: {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	llm.GPT4:   {InputPerMillion: 10.0, OutputPerMillion: 30.0},
	llm.Ollama: {InputPerMillion: 0, OutputPerMillion: 0},
}

// EstimateTokens approximates the token count of a text at four
// characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateUsage predicts token consumption for a synthesis call: the query
// itself, the system prompt overhead, and roughly a hundred input tokens
// per retrieved result, with a full-length completion assumed.
func EstimateUsage(queryText string, resultCount int) llm.Usage {
	return llm.Usage{
		InputTokens:  EstimateTokens(queryText) + 500 + resultCount*100,
		OutputTokens: 4000,
	}
}

func CostUSD(model llm.ID, usage llm.Usage) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}

	input := float64(usage.InputTokens) / 1_000_000 * p.InputPerMillion
	output := float64(usage.OutputTokens) / 1_000_000 * p.OutputPerMillion
	return input + output
}

// QueryCost computes the estimated spend for a stored query from its
// response rows. Model rows contribute at their model's rate; raw source
// rows are free.
func QueryCost(q *models.Query, responses []models.Response) *models.QueryCost {
	cost := &models.QueryCost{
		QueryID:     q.ID,
		PerModelUSD: make(map[string]float64),
	}

	queryText := q.RefinedQuery
	if queryText == "" {
		queryText = q.OriginalQuery
	}

	totalResults := 0
	for _, r := range responses {
		if r.Model == "" {
			totalResults += r.ResultCount
		}
	}

	for _, r := range responses {
		if r.Model == "" {
			continue
		}

		usage := EstimateUsage(queryText, totalResults)
		if r.Summary != "" {
			usage.OutputTokens = EstimateTokens(r.Summary)
		}

		usd := CostUSD(llm.ID(r.Model), usage)
		cost.PerModelUSD[r.Model] += usd
		cost.TotalUSD += usd
		cost.InputTokens += usage.InputTokens
		cost.OutputTokens += usage.OutputTokens
	}

	return cost
}
