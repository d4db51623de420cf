// Package openalex adapts the OpenAlex works API (api.openalex.org) into the
// normalized source contract. No authentication is required; a mailto address
// in the User-Agent puts requests into the polite pool, and an optional API
// key raises rate limits.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/pkg/logger"
	"github.com/acm-research/backend/pkg/utils"
)

const defaultBaseURL = "https://api.openalex.org"

type Client struct {
	baseURL    string
	apiKey     string
	mailTo     string
	httpClient *http.Client
	cache      sources.Cache
}

type work struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	DisplayName           string           `json:"display_name"`
	PublicationDate       string           `json:"publication_date"`
	CitedByCount          int              `json:"cited_by_count"`
	IsOA                  bool             `json:"is_oa"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Authorships           []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	Concepts []struct {
		DisplayName string  `json:"display_name"`
		Score       float64 `json:"score"`
	} `json:"concepts"`
	PrimaryLocation *struct {
		Source *struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
}

type worksResponse struct {
	Results []work `json:"results"`
}

func NewClient(apiKey, mailTo string, timeout time.Duration, cache sources.Cache) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		mailTo:     mailTo,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}
}

func (c *Client) ID() sources.ID {
	return sources.OpenAlex
}

func (c *Client) Search(ctx context.Context, params sources.SearchParams) ([]sources.Item, error) {
	cacheKey := utils.CacheKey("openalex:search", params)

	var cached []sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	q := url.Values{}
	q.Set("search", params.Query)
	q.Set("per-page", strconv.Itoa(maxResults(params.MaxResults)))
	q.Set("page", "1")

	var filters []string
	if params.DateFrom != "" {
		filters = append(filters, "from_publication_date:"+params.DateFrom)
	}
	if params.DateTo != "" {
		filters = append(filters, "to_publication_date:"+params.DateTo)
	}
	if params.OpenAccessOnly {
		filters = append(filters, "is_oa:true")
	}
	if len(filters) > 0 {
		q.Set("filter", strings.Join(filters, ","))
	}

	var resp worksResponse
	if err := c.getJSON(ctx, c.baseURL+"/works?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]sources.Item, 0, len(resp.Results))
	for _, w := range resp.Results {
		items = append(items, c.normalize(w))
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, items, sources.SearchTTL)
	}

	logger.Debug("OpenAlex search completed",
		zap.String("query", params.Query),
		zap.Int("results", len(items)),
	)

	return items, nil
}

// FetchItem fetches a single work by its OpenAlex id, cached with the
// longer single-record TTL.
func (c *Client) FetchItem(ctx context.Context, workID string) (*sources.Item, error) {
	cacheKey := "openalex:work:" + workID

	var cached sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var w work
	if err := c.getJSON(ctx, c.baseURL+"/works/"+url.PathEscape(workID), &w); err != nil {
		return nil, err
	}

	item := c.normalize(w)
	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, item, sources.LookupTTL)
	}

	return &item, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: openalex: %v", apperr.ErrSourceUnavailable, err)
	}

	req.Header.Set("User-Agent", fmt.Sprintf("ACM Research Platform (mailto:%s)", c.mailTo))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: openalex: %v", apperr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: openalex returned %s", apperr.ErrSourceUnavailable, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: openalex: decode: %v", apperr.ErrSourceUnavailable, err)
	}

	return nil
}

func (c *Client) normalize(w work) sources.Item {
	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		authors = append(authors, a.Author.DisplayName)
	}

	concepts := make([]string, 0, len(w.Concepts))
	for _, con := range w.Concepts {
		concepts = append(concepts, con.DisplayName)
	}

	venue := ""
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		venue = w.PrimaryLocation.Source.DisplayName
	}

	return sources.Item{
		Source:        sources.OpenAlex,
		Kind:          "paper",
		ExternalID:    w.ID,
		DOI:           w.DOI,
		Title:         sources.CleanMarkup(w.DisplayName),
		Abstract:      sources.CleanMarkup(ReconstructAbstract(w.AbstractInvertedIndex)),
		PublishedAt:   w.PublicationDate,
		CitationCount: w.CitedByCount,
		Authors:       authors,
		Venue:         venue,
		Concepts:      concepts,
		OpenAccess:    w.IsOA,
		RetrievedAt:   time.Now().UTC(),
	}
}

// ReconstructAbstract rebuilds the abstract text from OpenAlex's inverted
// index representation (word -> positions).
func ReconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}

	type pos struct {
		word  string
		index int
	}

	var positions []pos
	for word, indices := range inverted {
		for _, idx := range indices {
			positions = append(positions, pos{word: word, index: idx})
		}
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].index < positions[j].index })

	words := make([]string, len(positions))
	for i, p := range positions {
		words[i] = p.word
	}

	return strings.Join(words, " ")
}

func maxResults(n int) int {
	if n <= 0 {
		return 25
	}
	if n > 200 {
		return 200
	}
	return n
}
