package nightly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/internal/storage/models"
)

type memStore struct {
	mu      sync.Mutex
	queries []models.Query
	digests []models.ResearchDigest
}

func (s *memStore) RecentCompletedQueries(since time.Time) ([]models.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Query(nil), s.queries...), nil
}

func (s *memStore) InsertDigest(d *models.ResearchDigest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests = append(s.digests, *d)
	return nil
}

func (s *memStore) digestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.digests)
}

type recordingAdapter struct {
	id    sources.ID
	items []sources.Item

	mu     sync.Mutex
	params []sources.SearchParams
}

func (a *recordingAdapter) ID() sources.ID { return a.id }

func (a *recordingAdapter) Search(ctx context.Context, params sources.SearchParams) ([]sources.Item, error) {
	a.mu.Lock()
	a.params = append(a.params, params)
	a.mu.Unlock()
	return a.items, nil
}

func (a *recordingAdapter) searches() []sources.SearchParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sources.SearchParams(nil), a.params...)
}

func intentJSON(concepts ...string) string {
	out := `{"refinedQuery":"x","concepts":[`
	for i, c := range concepts {
		if i > 0 {
			out += ","
		}
		out += `"` + c + `"`
	}
	return out + `]}`
}

func TestRunSkipsWithoutTopics(t *testing.T) {
	store := &memStore{}
	agent := NewAgent(store, sources.NewRegistry(), nil, Options{})

	result, err := agent.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "skipped", result.Status)
	assert.Empty(t, result.DigestID)
	assert.Zero(t, store.digestCount(), "a skipped run must not write a digest row")
}

func TestRunBuildsDigestFromIntents(t *testing.T) {
	store := &memStore{
		queries: []models.Query{
			{ID: "q1", OriginalQuery: "a", Intent: intentJSON("crispr", "gene editing")},
			{ID: "q2", OriginalQuery: "b", Intent: intentJSON("crispr")},
			{ID: "q3", OriginalQuery: "c", Intent: intentJSON("mrna vaccines")},
		},
	}

	adapter := &recordingAdapter{
		id: sources.OpenAlex,
		items: []sources.Item{
			{Source: sources.OpenAlex, ExternalID: "W1", Title: "Fresh paper", CitationCount: 3},
		},
	}

	agent := NewAgent(store, sources.NewRegistry(adapter), nil, Options{SearchLimit: 2})

	result, err := agent.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.NotEmpty(t, result.DigestID)

	// crispr appears twice so it must rank first.
	require.NotEmpty(t, result.TopTopics)
	assert.Equal(t, "crispr", result.TopTopics[0])

	// Only the top SearchLimit topics are searched, each since yesterday.
	searches := adapter.searches()
	require.Len(t, searches, 2)
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	for _, p := range searches {
		assert.Equal(t, yesterday, p.DateFrom)
	}

	require.Equal(t, 1, store.digestCount())
	d := store.digests[0]
	assert.Equal(t, "completed", d.Status)
	assert.Equal(t, time.Now().Format("2006-01-02"), d.DigestDate)
	assert.Equal(t, []string{"openalex"}, d.Sources)
	assert.Equal(t, 1, d.TotalArticles, "duplicate items across topics are counted once")
	assert.Contains(t, d.KeyFindings, "Fresh paper")
}

func TestMineTopicsRanking(t *testing.T) {
	agent := NewAgent(&memStore{}, sources.NewRegistry(), nil, Options{TopicLimit: 2})

	topics := agent.mineTopics(context.Background(), []models.Query{
		{Intent: intentJSON("beta", "alpha")},
		{Intent: intentJSON("beta")},
		{Intent: intentJSON("gamma")},
	})

	require.Len(t, topics, 2)
	assert.Equal(t, "beta", topics[0])
	assert.Equal(t, "alpha", topics[1], "ties break by first appearance")
}

func TestMineTopicsNormalizes(t *testing.T) {
	agent := NewAgent(&memStore{}, sources.NewRegistry(), nil, Options{})

	topics := agent.mineTopics(context.Background(), []models.Query{
		{Intent: intentJSON("  CRISPR  ")},
		{Intent: intentJSON("crispr")},
		{Intent: intentJSON("ab")}, // too short, dropped
	})

	require.Len(t, topics, 1)
	assert.Equal(t, "crispr", topics[0])
}
