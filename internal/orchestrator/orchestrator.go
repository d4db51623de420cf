// Package orchestrator coordinates the full lifecycle of a research query:
// refinement, concurrent source retrieval, model synthesis, and persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/cache/redis"
	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/internal/storage/models"
	"github.com/acm-research/backend/pkg/logger"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	InsertQuery(q *models.Query) error
	MarkProcessing(queryID string, startedAt time.Time) error
	SetRefinement(queryID, refinedQuery, intentJSON string) error
	CompleteQuery(queryID string, completedAt time.Time) error
	FailQuery(queryID, errMsg string, completedAt time.Time) error
	InsertResponse(r *models.Response) error
	GetQuery(queryID string) (*models.Query, error)
	GetResponses(queryID string) ([]models.Response, error)
	GetQueryHistory(userID string, limit int) ([]models.Query, error)
	UserQueriesSince(userID string, since time.Time) ([]models.Query, error)
}

// RateLimiter gates query submission per user.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, identifier string, maxRequests int, window time.Duration) redis.RateLimitResult
}

type Options struct {
	MaxResults     int
	QueriesPerHour int
	ProcessTimeout time.Duration
}

type Orchestrator struct {
	store       Store
	limiter     RateLimiter
	sources     *sources.Registry
	models      *llm.Registry
	refiner     llm.Provider
	broadcaster *Broadcaster
	opts        Options
}

// NewOrchestrator wires the engine together. refiner may be nil, in which
// case refinement is skipped and the original query is searched as-is.
func NewOrchestrator(store Store, limiter RateLimiter, srcs *sources.Registry, mdls *llm.Registry, refiner llm.Provider, broadcaster *Broadcaster, opts Options) *Orchestrator {
	if opts.MaxResults == 0 {
		opts.MaxResults = 25
	}
	if opts.QueriesPerHour == 0 {
		opts.QueriesPerHour = 20
	}
	if opts.ProcessTimeout == 0 {
		opts.ProcessTimeout = 5 * time.Minute
	}

	return &Orchestrator{
		store:       store,
		limiter:     limiter,
		sources:     srcs,
		models:      mdls,
		refiner:     refiner,
		broadcaster: broadcaster,
		opts:        opts,
	}
}

type QueryRequest struct {
	Query      string   `json:"query"`
	Sources    []string `json:"sources"`
	LLMs       []string `json:"llms"`
	MaxResults int      `json:"maxResults"`
}

type QueryAccepted struct {
	QueryID          string `json:"queryId"`
	RemainingQueries int    `json:"remainingQueries"`
}

// ExecuteQuery validates and records a query, then processes it in the
// background. It returns as soon as the query is accepted.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, userID string, req QueryRequest) (*QueryAccepted, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", apperr.ErrUnauthorized)
	}

	queryText := strings.TrimSpace(req.Query)
	if len(queryText) < 3 {
		return nil, apperr.Validationf("query must be at least 3 characters")
	}

	if len(req.Sources) == 0 {
		return nil, apperr.Validationf("at least one source is required")
	}
	for _, s := range req.Sources {
		if !sources.Valid(s) {
			return nil, apperr.Validationf("unknown source: %s", s)
		}
	}

	if len(req.LLMs) == 0 {
		return nil, apperr.Validationf("at least one model is required")
	}
	for _, m := range req.LLMs {
		if !llm.Valid(m) {
			return nil, apperr.Validationf("unknown model: %s", m)
		}
	}

	limit := o.limiter.CheckRateLimit(ctx, "query:"+userID, o.opts.QueriesPerHour, time.Hour)
	if !limit.Allowed {
		metrics.RateLimitRejections.Inc()
		return nil, fmt.Errorf("%w: hourly query limit reached", apperr.ErrRateLimited)
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > 100 {
		maxResults = o.opts.MaxResults
	}

	q := &models.Query{
		ID:            uuid.New().String(),
		UserID:        userID,
		OriginalQuery: queryText,
		Sources:       req.Sources,
		LLMs:          req.LLMs,
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
	}

	if err := o.store.InsertQuery(q); err != nil {
		return nil, err
	}

	o.publish(q.ID, userID, models.StatusPending, "query accepted")

	go o.process(q.ID, userID, queryText, req.Sources, req.LLMs, maxResults)

	return &QueryAccepted{
		QueryID:          q.ID,
		RemainingQueries: limit.Remaining,
	}, nil
}

// process runs the full pipeline for one query. It owns its context and
// always drives the query to a terminal state, including on panic.
func (o *Orchestrator) process(queryID, userID, queryText string, srcIDs, modelIDs []string, maxResults int) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.ProcessTimeout)
	defer cancel()

	startedAt := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query processing panicked",
				zap.String("query_id", queryID),
				zap.Any("panic", r),
			)
			o.finish(queryID, userID, startedAt, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := o.store.MarkProcessing(queryID, startedAt); err != nil {
		logger.Error("Failed to mark query processing", zap.String("query_id", queryID), zap.Error(err))
		o.finish(queryID, userID, startedAt, "failed to start processing")
		return
	}
	o.publish(queryID, userID, models.StatusProcessing, "processing started")

	searchQuery := queryText
	refinement, refined := o.refine(ctx, queryID, queryText)
	if refined {
		searchQuery = refinement.RefinedQuery
	}

	items := o.searchSources(ctx, queryID, userID, searchQuery, srcIDs, maxResults, refinement)

	summaries := o.synthesize(ctx, queryID, userID, queryText, modelIDs, items)

	// Zero responses is still a completed run; FAILED is reserved for
	// errors that prevent the pipeline from finishing at all.
	if len(items) == 0 && summaries == 0 {
		logger.Warn("Query produced no responses",
			zap.String("query_id", queryID),
			zap.Strings("sources", srcIDs),
			zap.Strings("models", modelIDs),
		)
	}

	if err := o.store.CompleteQuery(queryID, time.Now()); err != nil {
		logger.Error("Failed to complete query", zap.String("query_id", queryID), zap.Error(err))
		return
	}

	metrics.QueryTotal.WithLabelValues(models.StatusCompleted).Inc()
	metrics.QueryDuration.WithLabelValues(models.StatusCompleted).Observe(time.Since(startedAt).Seconds())
	o.publish(queryID, userID, models.StatusCompleted, "query completed")

	logger.Info("Query completed",
		zap.String("query_id", queryID),
		zap.Int("results", len(items)),
		zap.Int("summaries", summaries),
		zap.Duration("duration", time.Since(startedAt)),
	)
}

func (o *Orchestrator) finish(queryID, userID string, startedAt time.Time, errMsg string) {
	if err := o.store.FailQuery(queryID, errMsg, time.Now()); err != nil {
		logger.Error("Failed to fail query", zap.String("query_id", queryID), zap.Error(err))
	}
	metrics.QueryTotal.WithLabelValues(models.StatusFailed).Inc()
	metrics.QueryDuration.WithLabelValues(models.StatusFailed).Observe(time.Since(startedAt).Seconds())
	o.publish(queryID, userID, models.StatusFailed, errMsg)
}

// refine asks the refinement model to restructure the query. Failures fall
// back to the original text and the query proceeds unrefined.
func (o *Orchestrator) refine(ctx context.Context, queryID, queryText string) (llm.Refinement, bool) {
	if o.refiner == nil {
		return llm.FallbackRefinement(queryText), false
	}

	refinement, ok := llm.Refine(ctx, o.refiner, queryText, "")
	if !ok {
		logger.Warn("Query refinement unavailable, using original query",
			zap.String("query_id", queryID),
		)
		return refinement, false
	}

	intentJSON, err := json.Marshal(refinement)
	if err == nil {
		if err := o.store.SetRefinement(queryID, refinement.RefinedQuery, string(intentJSON)); err != nil {
			logger.Error("Failed to store refinement", zap.String("query_id", queryID), zap.Error(err))
		}
	}

	return refinement, true
}

// searchSources fans out to every requested source concurrently. A failing
// source is logged and skipped; it never sinks the query.
func (o *Orchestrator) searchSources(ctx context.Context, queryID, userID, searchQuery string, srcIDs []string, maxResults int, refinement llm.Refinement) []sources.Item {
	params := sources.SearchParams{
		Query:      searchQuery,
		MaxResults: maxResults,
		DateFrom:   refinement.Filters.DateFrom,
		DateTo:     refinement.Filters.DateTo,
	}

	type result struct {
		id    sources.ID
		items []sources.Item
		err   error
	}

	results := make([]result, len(srcIDs))

	var wg sync.WaitGroup
	for i, raw := range srcIDs {
		adapter, ok := o.sources.Lookup(sources.ID(raw))
		if !ok {
			results[i] = result{id: sources.ID(raw), err: fmt.Errorf("%w: %s not registered", apperr.ErrSourceUnavailable, raw)}
			continue
		}

		wg.Add(1)
		go func(i int, adapter sources.Adapter) {
			defer wg.Done()
			items, err := adapter.Search(ctx, params)
			results[i] = result{id: adapter.ID(), items: items, err: err}
		}(i, adapter)
	}
	wg.Wait()

	var all []sources.Item
	for _, r := range results {
		if r.err != nil {
			metrics.SourceFailures.WithLabelValues(string(r.id)).Inc()
			logger.Warn("Source search failed",
				zap.String("query_id", queryID),
				zap.String("source", string(r.id)),
				zap.Error(r.err),
			)
			continue
		}

		metrics.SourceResultsCount.WithLabelValues(string(r.id)).Observe(float64(len(r.items)))
		o.storeSourceResults(queryID, r.id, r.items)
		o.publish(queryID, userID, models.StatusProcessing,
			fmt.Sprintf("%s returned %d results", sources.DisplayName(r.id), len(r.items)))
		all = append(all, r.items...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CitationCount > all[j].CitationCount
	})

	return all
}

func (o *Orchestrator) storeSourceResults(queryID string, id sources.ID, items []sources.Item) {
	payload, err := json.Marshal(items)
	if err != nil {
		logger.Error("Failed to encode source results", zap.String("source", string(id)), zap.Error(err))
		return
	}

	totalCitations := 0
	for _, item := range items {
		totalCitations += item.CitationCount
	}

	resp := &models.Response{
		ID:            uuid.New().String(),
		QueryID:       queryID,
		Source:        string(id),
		FullContent:   string(payload),
		CitationCount: &totalCitations,
		ResultCount:   len(items),
		CreatedAt:     time.Now(),
	}

	if err := o.store.InsertResponse(resp); err != nil {
		logger.Error("Failed to store source results",
			zap.String("query_id", queryID),
			zap.String("source", string(id)),
			zap.Error(err),
		)
	}
}

// synthesize asks each requested model for a summary over the retrieved
// items. Returns the number of summaries that succeeded.
func (o *Orchestrator) synthesize(ctx context.Context, queryID, userID, queryText string, modelIDs []string, items []sources.Item) int {
	contextText := buildContext(items, 10)

	type result struct {
		id      llm.ID
		content string
		usage   llm.Usage
		err     error
	}

	results := make([]result, len(modelIDs))

	var wg sync.WaitGroup
	for i, raw := range modelIDs {
		id := llm.ID(raw)

		provider, ok := o.models.Lookup(id)
		if !ok {
			results[i] = result{id: id, err: fmt.Errorf("%w: %s not configured", apperr.ErrModelUnavailable, id)}
			continue
		}

		if prober, ok := provider.(llm.AvailabilityProber); ok && !prober.Available(ctx) {
			results[i] = result{id: id, err: fmt.Errorf("%w: %s not reachable", apperr.ErrModelUnavailable, id)}
			continue
		}

		wg.Add(1)
		go func(i int, id llm.ID, provider llm.Provider) {
			defer wg.Done()
			resp, err := provider.Complete(ctx, llm.SummarizePrompt(queryText, contextText))
			if err != nil {
				results[i] = result{id: id, err: err}
				return
			}
			results[i] = result{id: id, content: resp.Content, usage: resp.Usage}
		}(i, id, provider)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.err != nil {
			metrics.LLMFailures.WithLabelValues(string(r.id)).Inc()
			logger.Warn("Model synthesis failed",
				zap.String("query_id", queryID),
				zap.String("model", string(r.id)),
				zap.Error(r.err),
			)
			continue
		}

		metrics.LLMCost.WithLabelValues(string(r.id)).Add(CostUSD(r.id, r.usage))

		resp := &models.Response{
			ID:          uuid.New().String(),
			QueryID:     queryID,
			Model:       string(r.id),
			Summary:     r.content,
			ResultCount: len(items),
			CreatedAt:   time.Now(),
		}
		if err := o.store.InsertResponse(resp); err != nil {
			logger.Error("Failed to store model response",
				zap.String("query_id", queryID),
				zap.String("model", string(r.id)),
				zap.Error(err),
			)
			continue
		}

		o.publish(queryID, userID, models.StatusProcessing,
			fmt.Sprintf("%s synthesis complete", llm.DisplayName(r.id)))
		succeeded++
	}

	return succeeded
}

// buildContext renders the top items into the prompt context block.
func buildContext(items []sources.Item, limit int) string {
	if len(items) == 0 {
		return "No results were retrieved from the literature sources."
	}
	if len(items) > limit {
		items = items[:limit]
	}

	var b strings.Builder
	for i, item := range items {
		abstract := truncate(item.Abstract, 500)

		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, sources.DisplayName(item.Source), item.Title)
		if item.PublishedAt != "" || item.CitationCount > 0 {
			fmt.Fprintf(&b, "Published: %s | Citations: %d\n", item.PublishedAt, item.CitationCount)
		}
		if abstract != "" {
			fmt.Fprintf(&b, "%s\n", abstract)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}

// GetQueryResults returns a query and its responses, scoped to the owner.
// Another user's query is reported as not found rather than forbidden.
func (o *Orchestrator) GetQueryResults(userID, queryID string) (*models.Query, []models.Response, error) {
	q, err := o.store.GetQuery(queryID)
	if err != nil {
		return nil, nil, err
	}

	if q.UserID != userID {
		return nil, nil, fmt.Errorf("%w: query %s", apperr.ErrNotFound, queryID)
	}

	responses, err := o.store.GetResponses(queryID)
	if err != nil {
		return nil, nil, err
	}

	return q, responses, nil
}

func (o *Orchestrator) GetQueryHistory(userID string, limit int) ([]models.Query, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return o.store.GetQueryHistory(userID, limit)
}

// GetQueryCost returns the estimated spend for a single query.
func (o *Orchestrator) GetQueryCost(userID, queryID string) (*models.QueryCost, error) {
	q, responses, err := o.GetQueryResults(userID, queryID)
	if err != nil {
		return nil, err
	}
	return QueryCost(q, responses), nil
}

// UserSpending aggregates estimated costs across a user's queries from the
// last `days` days.
func (o *Orchestrator) UserSpending(userID string, days int) (float64, map[string]float64, error) {
	if days <= 0 || days > 90 {
		days = 30
	}

	history, err := o.store.UserQueriesSince(userID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, nil, err
	}

	total := 0.0
	perModel := make(map[string]float64)
	for i := range history {
		responses, err := o.store.GetResponses(history[i].ID)
		if err != nil {
			return 0, nil, err
		}
		cost := QueryCost(&history[i], responses)
		total += cost.TotalUSD
		for model, usd := range cost.PerModelUSD {
			perModel[model] += usd
		}
	}

	return total, perModel, nil
}

func (o *Orchestrator) publish(queryID, userID, status, message string) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Publish(StatusEvent{
		QueryID:   queryID,
		UserID:    userID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
}
