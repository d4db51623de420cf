package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm-research/backend/internal/sources"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]interface{})}
}

func (m *mapCache) Get(ctx context.Context, key string, dest interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case []sources.Item:
		if p, ok := dest.(*[]sources.Item); ok {
			*p = val
			return true
		}
	case sources.Item:
		if p, ok := dest.(*sources.Item); ok {
			*p = val
			return true
		}
	}
	return false
}

func (m *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

const worksPayload = `{
	"results": [
		{
			"id": "https://openalex.org/W1",
			"doi": "https://doi.org/10.1/x",
			"display_name": "<i>BRCA1</i> mutations",
			"publication_date": "2024-03-01",
			"cited_by_count": 42,
			"is_oa": true,
			"abstract_inverted_index": {"editing": [1], "Gene": [0], "works": [2]},
			"authorships": [{"author": {"display_name": "A. Researcher"}}],
			"concepts": [{"display_name": "Genetics", "score": 0.9}],
			"primary_location": {"source": {"display_name": "Nature"}}
		}
	]
}`

func TestSearch(t *testing.T) {
	var requests int
	var lastQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		lastQuery = r.URL.Query()
		assert.Contains(t, r.Header.Get("User-Agent"), "mailto:dev@example.org")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(worksPayload))
	}))
	defer srv.Close()

	cache := newMapCache()
	c := NewClient("", "dev@example.org", 5*time.Second, cache)
	c.baseURL = srv.URL

	params := sources.SearchParams{
		Query:          "brca1",
		MaxResults:     10,
		DateFrom:       "2020-01-01",
		OpenAccessOnly: true,
	}

	items, err := c.Search(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, sources.OpenAlex, item.Source)
	assert.Equal(t, "paper", item.Kind)
	assert.Equal(t, "BRCA1 mutations", item.Title)
	assert.Equal(t, "Gene editing works", item.Abstract)
	assert.Equal(t, 42, item.CitationCount)
	assert.Equal(t, []string{"A. Researcher"}, item.Authors)
	assert.Equal(t, "Nature", item.Venue)
	assert.True(t, item.OpenAccess)

	assert.Equal(t, "brca1", lastQuery["search"][0])
	assert.Equal(t, "10", lastQuery["per-page"][0])
	assert.Contains(t, lastQuery["filter"][0], "from_publication_date:2020-01-01")
	assert.Contains(t, lastQuery["filter"][0], "is_oa:true")

	t.Run("repeat search is served from cache", func(t *testing.T) {
		again, err := c.Search(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, items, again)
		assert.Equal(t, 1, requests)
	})

	t.Run("different params miss the cache", func(t *testing.T) {
		other := params
		other.Query = "tp53"
		_, err := c.Search(context.Background(), other)
		require.NoError(t, err)
		assert.Equal(t, 2, requests)
	})
}

func TestFetchItem(t *testing.T) {
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/works/W1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "https://openalex.org/W1",
			"display_name": "BRCA1 mutations",
			"publication_date": "2024-03-01",
			"cited_by_count": 42,
			"abstract_inverted_index": {"editing": [1], "Gene": [0], "works": [2]}
		}`))
	}))
	defer srv.Close()

	c := NewClient("", "dev@example.org", 5*time.Second, newMapCache())
	c.baseURL = srv.URL

	item, err := c.FetchItem(context.Background(), "W1")
	require.NoError(t, err)
	assert.Equal(t, "BRCA1 mutations", item.Title)
	assert.Equal(t, "Gene editing works", item.Abstract)
	assert.Equal(t, 42, item.CitationCount)

	t.Run("repeat lookup is served from cache", func(t *testing.T) {
		again, err := c.FetchItem(context.Background(), "W1")
		require.NoError(t, err)
		assert.Equal(t, item, again)
		assert.Equal(t, 1, requests)
	})
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("", "dev@example.org", 5*time.Second, nil)
	c.baseURL = srv.URL

	_, err := c.Search(context.Background(), sources.SearchParams{Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unavailable")
}

func TestReconstructAbstract(t *testing.T) {
	t.Run("orders words by position", func(t *testing.T) {
		inverted := map[string][]int{
			"works":   {2},
			"Gene":    {0},
			"editing": {1, 3},
		}
		assert.Equal(t, "Gene editing works editing", ReconstructAbstract(inverted))
	})

	t.Run("empty index", func(t *testing.T) {
		assert.Empty(t, ReconstructAbstract(nil))
	})
}

func TestMaxResultsClamp(t *testing.T) {
	assert.Equal(t, 25, maxResults(0))
	assert.Equal(t, 25, maxResults(-1))
	assert.Equal(t, 50, maxResults(50))
	assert.Equal(t, 200, maxResults(500))
}
