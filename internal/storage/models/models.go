package models

import "time"

// Query lifecycle statuses. Transitions are forward-only:
// PENDING -> PROCESSING -> COMPLETED | FAILED.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

type Query struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	OriginalQuery string     `json:"originalQuery"`
	RefinedQuery  string     `json:"refinedQuery,omitempty"`
	Sources       []string   `json:"sources"`
	LLMs          []string   `json:"llms"`
	Status        string     `json:"status"`
	Intent        string     `json:"intent,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Response is one stored result for a query. Rows with Model set hold a
// synthesized summary from that model; rows with only Source set hold the
// raw result payload retrieved from that source.
type Response struct {
	ID             string    `json:"id"`
	QueryID        string    `json:"queryId"`
	Source         string    `json:"source,omitempty"`
	Model          string    `json:"model,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	FullContent    string    `json:"fullContent,omitempty"`
	RelevanceScore *float64  `json:"relevanceScore,omitempty"`
	CitationCount  *int      `json:"citationCount,omitempty"`
	ResultCount    int       `json:"resultCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ResearchDigest struct {
	ID            string    `json:"id"`
	DigestDate    string    `json:"digestDate"`
	Sources       []string  `json:"sources"`
	TotalArticles int       `json:"totalArticles"`
	TopTopics     []string  `json:"topTopics"`
	KeyFindings   string    `json:"keyFindings,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QueryCost is the estimated spend breakdown for a single query.
type QueryCost struct {
	QueryID      string             `json:"queryId"`
	TotalUSD     float64            `json:"totalUsd"`
	PerModelUSD  map[string]float64 `json:"perModelUsd"`
	InputTokens  int                `json:"inputTokens"`
	OutputTokens int                `json:"outputTokens"`
}
