package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm-research/backend/internal/sources"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]sources.Item
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]sources.Item)}
}

func (m *mapCache) Get(ctx context.Context, key string, dest interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return false
	}
	if p, ok := dest.(*[]sources.Item); ok {
		*p = v
		return true
	}
	return false
}

func (m *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if items, ok := value.([]sources.Item); ok {
		m.data[key] = items
	}
}

const esearchPayload = `{"esearchresult": {"idlist": ["12345", "67890"]}}`

const efetchPayload = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>12345</PMID>
      <Article>
        <ArticleTitle>Gene editing in E. coli</ArticleTitle>
        <Abstract>
          <AbstractText>Background text.</AbstractText>
          <AbstractText>Results text.</AbstractText>
        </Abstract>
        <Journal>
          <Title>Cell</Title>
          <JournalIssue>
            <PubDate><Year>2024</Year><Month>05</Month><Day>12</Day></PubDate>
          </JournalIssue>
        </Journal>
        <AuthorList>
          <Author><LastName>Doe</LastName><ForeName>Jane</ForeName></Author>
        </AuthorList>
        <ELocationID EIdType="pii">S0000</ELocationID>
        <ELocationID EIdType="doi">10.1/cell.2024</ELocationID>
      </Article>
      <KeywordList><Keyword>crispr</Keyword></KeywordList>
      <MeshHeadingList>
        <MeshHeading><DescriptorName>Gene Editing</DescriptorName></MeshHeading>
      </MeshHeadingList>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path+"?"+r.URL.RawQuery)
		switch {
		case strings.Contains(r.URL.Path, "esearch"):
			w.Write([]byte(esearchPayload))
		case strings.Contains(r.URL.Path, "efetch"):
			assert.Equal(t, "12345,67890", r.URL.Query().Get("id"))
			w.Write([]byte(efetchPayload))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &paths
}

func TestSearch(t *testing.T) {
	srv, paths := newTestServer(t)

	c := NewClient("", 5*time.Second, nil)
	c.baseURL = srv.URL

	items, err := c.Search(context.Background(), sources.SearchParams{
		Query:      "crispr",
		MaxResults: 10,
		DateFrom:   "2024-01-01",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, sources.PubMed, item.Source)
	assert.Equal(t, "12345", item.ExternalID)
	assert.Equal(t, "Gene editing in E. coli", item.Title)
	assert.Equal(t, "Background text. Results text.", item.Abstract)
	assert.Equal(t, "2024-05-12", item.PublishedAt)
	assert.Equal(t, []string{"Jane Doe"}, item.Authors)
	assert.Equal(t, "Cell", item.Venue)
	assert.Equal(t, "10.1/cell.2024", item.DOI)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/12345/", item.URL)
	assert.Contains(t, item.Concepts, "crispr")
	assert.Contains(t, item.Concepts, "Gene Editing")

	require.Len(t, *paths, 2)
	assert.Contains(t, (*paths)[0], "esearch.fcgi")
	assert.Contains(t, (*paths)[0], "datetype=pdat")
	assert.Contains(t, (*paths)[0], "mindate=2024-01-01")
	assert.Contains(t, (*paths)[0], "maxdate=3000")
	assert.Contains(t, (*paths)[1], "efetch.fcgi")
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
	}))
	defer srv.Close()

	c := NewClient("", 5*time.Second, nil)
	c.baseURL = srv.URL

	items, err := c.Search(context.Background(), sources.SearchParams{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSearchCachesEmptyResults(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
	}))
	defer srv.Close()

	c := NewClient("", 5*time.Second, newMapCache())
	c.baseURL = srv.URL

	params := sources.SearchParams{Query: "nothing"}

	items, err := c.Search(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, items)

	// Identical zero-hit search within the TTL is served from cache.
	items, err = c.Search(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, requests)
}

func TestSearchCachesResults(t *testing.T) {
	srv, paths := newTestServer(t)

	c := NewClient("", 5*time.Second, newMapCache())
	c.baseURL = srv.URL

	params := sources.SearchParams{Query: "crispr", MaxResults: 10}

	first, err := c.Search(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, *paths, 2)

	second, err := c.Search(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, *paths, 2)
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("", 5*time.Second, nil)
	c.baseURL = srv.URL

	_, err := c.Search(context.Background(), sources.SearchParams{Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unavailable")
}

func TestFormatPubDate(t *testing.T) {
	assert.Equal(t, "2024-05-12", formatPubDate("2024", "05", "12"))
	assert.Equal(t, "2024-05", formatPubDate("2024", "05", ""))
	assert.Equal(t, "2024", formatPubDate("2024", "", "12"))
	assert.Empty(t, formatPubDate("", "05", "12"))
}

func TestMaxResultsClamp(t *testing.T) {
	assert.Equal(t, 25, maxResults(0))
	assert.Equal(t, 100, maxResults(250))
	assert.Equal(t, 10, maxResults(10))
}
