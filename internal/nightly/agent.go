// Package nightly builds the daily research digest: it mines recent
// completed queries for trending topics, re-searches every source for
// fresh results on those topics, and persists the digest.
package nightly

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/internal/storage/models"
	"github.com/acm-research/backend/pkg/logger"
)

type Store interface {
	RecentCompletedQueries(since time.Time) ([]models.Query, error)
	InsertDigest(d *models.ResearchDigest) error
}

type Options struct {
	TopicLimit   int
	SearchLimit  int
	LookbackDays int
}

type Agent struct {
	store     Store
	sources   *sources.Registry
	extractor llm.Provider
	opts      Options
}

// NewAgent builds the digest agent. extractor may be nil; topic mining
// then relies on stored intents and the local fallback extractor.
func NewAgent(store Store, srcs *sources.Registry, extractor llm.Provider, opts Options) *Agent {
	if opts.TopicLimit == 0 {
		opts.TopicLimit = 20
	}
	if opts.SearchLimit == 0 {
		opts.SearchLimit = 5
	}
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 7
	}

	return &Agent{
		store:     store,
		sources:   srcs,
		extractor: extractor,
		opts:      opts,
	}
}

type RunResult struct {
	Status        string   `json:"status"`
	DigestID      string   `json:"digestId,omitempty"`
	TopTopics     []string `json:"topTopics,omitempty"`
	TotalArticles int      `json:"totalArticles"`
}

// Run executes one digest cycle. When the recent query window yields no
// topics the run is skipped and no digest row is written.
func (a *Agent) Run(ctx context.Context) (*RunResult, error) {
	since := time.Now().AddDate(0, 0, -a.opts.LookbackDays)

	queries, err := a.store.RecentCompletedQueries(since)
	if err != nil {
		metrics.DigestRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to load recent queries: %w", err)
	}

	topics := a.mineTopics(ctx, queries)
	if len(topics) == 0 {
		logger.Info("Nightly digest skipped, no topics found",
			zap.Int("recent_queries", len(queries)),
		)
		metrics.DigestRuns.WithLabelValues("skipped").Inc()
		return &RunResult{Status: "skipped"}, nil
	}

	searchTopics := topics
	if len(searchTopics) > a.opts.SearchLimit {
		searchTopics = searchTopics[:a.opts.SearchLimit]
	}

	items := a.searchTopics(ctx, searchTopics)

	digest := &models.ResearchDigest{
		ID:            uuid.New().String(),
		DigestDate:    time.Now().Format("2006-01-02"),
		Sources:       sourceNames(a.sources.IDs()),
		TotalArticles: len(items),
		TopTopics:     topics,
		KeyFindings:   a.keyFindings(items),
		Status:        "completed",
		CreatedAt:     time.Now(),
	}

	if err := a.store.InsertDigest(digest); err != nil {
		metrics.DigestRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.DigestRuns.WithLabelValues("completed").Inc()
	logger.Info("Nightly digest completed",
		zap.String("digest_id", digest.ID),
		zap.Strings("topics", searchTopics),
		zap.Int("total_articles", len(items)),
	)

	return &RunResult{
		Status:        "completed",
		DigestID:      digest.ID,
		TopTopics:     topics,
		TotalArticles: len(items),
	}, nil
}

// mineTopics ranks concepts across recent queries by frequency. Concepts
// come from stored refinement intents first, then the extraction model,
// then the local part-of-speech fallback.
func (a *Agent) mineTopics(ctx context.Context, queries []models.Query) []string {
	counts := make(map[string]int)
	order := make(map[string]int)

	record := func(concept string) {
		concept = strings.ToLower(strings.TrimSpace(concept))
		if len(concept) < 3 {
			return
		}
		if _, seen := counts[concept]; !seen {
			order[concept] = len(order)
		}
		counts[concept]++
	}

	for _, q := range queries {
		found := false

		if q.Intent != "" {
			var refinement llm.Refinement
			if err := json.Unmarshal([]byte(q.Intent), &refinement); err == nil {
				for _, c := range refinement.Concepts {
					record(c)
					found = true
				}
			}
		}

		if !found && a.extractor != nil {
			for _, c := range llm.ExtractConcepts(ctx, a.extractor, q.OriginalQuery) {
				record(c)
				found = true
			}
		}

		if !found {
			for _, c := range fallbackConcepts(q.OriginalQuery) {
				record(c)
			}
		}
	}

	topics := make([]string, 0, len(counts))
	for c := range counts {
		topics = append(topics, c)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return order[topics[i]] < order[topics[j]]
	})

	if len(topics) > a.opts.TopicLimit {
		topics = topics[:a.opts.TopicLimit]
	}

	return topics
}

// fallbackConcepts extracts candidate topics locally: named entities when
// present, noun tokens otherwise.
func fallbackConcepts(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var concepts []string
	for _, ent := range doc.Entities() {
		concepts = append(concepts, ent.Text)
	}
	if len(concepts) > 0 {
		return concepts
	}

	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NN") && len(tok.Text) > 3 {
			concepts = append(concepts, tok.Text)
		}
	}

	return concepts
}

// searchTopics queries every registered source for each topic since
// yesterday. Failures are isolated per topic/source pair.
func (a *Agent) searchTopics(ctx context.Context, topics []string) []sources.Item {
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	type task struct {
		topic string
		id    sources.ID
	}

	var tasks []task
	for _, topic := range topics {
		for _, id := range a.sources.IDs() {
			tasks = append(tasks, task{topic: topic, id: id})
		}
	}

	results := make([][]sources.Item, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		adapter, ok := a.sources.Lookup(t.id)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(i int, topic string, adapter sources.Adapter) {
			defer wg.Done()

			items, err := adapter.Search(ctx, sources.SearchParams{
				Query:      topic,
				MaxResults: 10,
				DateFrom:   yesterday,
			})
			if err != nil {
				logger.Warn("Digest topic search failed",
					zap.String("topic", topic),
					zap.String("source", string(adapter.ID())),
					zap.Error(err),
				)
				return
			}
			results[i] = items
		}(i, t.topic, adapter)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var all []sources.Item
	for _, items := range results {
		for _, item := range items {
			key := string(item.Source) + ":" + item.ExternalID
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, item)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CitationCount > all[j].CitationCount
	})

	return all
}

func (a *Agent) keyFindings(items []sources.Item) string {
	if len(items) == 0 {
		return ""
	}

	top := items
	if len(top) > 5 {
		top = top[:5]
	}

	var b strings.Builder
	for _, item := range top {
		fmt.Fprintf(&b, "- %s (%s", item.Title, sources.DisplayName(item.Source))
		if item.PublishedAt != "" {
			fmt.Fprintf(&b, ", %s", item.PublishedAt)
		}
		b.WriteString(")\n")
	}

	return b.String()
}

func sourceNames(ids []sources.ID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}
