// Package patents adapts the PatentsView search API (free, no key required)
// into the normalized source contract. Google Patents itself has no public
// API; PatentsView covers the same US corpus.
package patents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/pkg/logger"
	"github.com/acm-research/backend/pkg/utils"
)

const defaultBaseURL = "https://api.patentsview.org"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      sources.Cache
}

type patentsResponse struct {
	Patents []patent `json:"patents"`
}

type patent struct {
	Number    string `json:"patent_number"`
	Title     string `json:"patent_title"`
	Abstract  string `json:"patent_abstract"`
	Date      string `json:"patent_date"`
	Assignees []struct {
		Organization string `json:"assignee_organization"`
	} `json:"assignees"`
	Inventors []struct {
		FirstName string `json:"inventor_first_name"`
		LastName  string `json:"inventor_last_name"`
	} `json:"inventors"`
}

func NewClient(apiKey string, timeout time.Duration, cache sources.Cache) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}
}

func (c *Client) ID() sources.ID {
	return sources.Patents
}

func (c *Client) Search(ctx context.Context, params sources.SearchParams) ([]sources.Item, error) {
	cacheKey := utils.CacheKey("patents:search", params)

	var cached []sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	query := map[string]interface{}{
		"_text_any": map[string]string{"patent_abstract": params.Query},
	}
	if params.DateFrom != "" {
		query = map[string]interface{}{
			"_and": []interface{}{
				query,
				map[string]interface{}{"_gte": map[string]string{"patent_date": params.DateFrom}},
			},
		}
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%w: patents: build query: %v", apperr.ErrSourceUnavailable, err)
	}

	fields := `["patent_number","patent_title","patent_abstract","patent_date","assignees.assignee_organization","inventors.inventor_first_name","inventors.inventor_last_name"]`
	opts := fmt.Sprintf(`{"per_page":%d}`, maxResults(params.MaxResults))

	q := url.Values{}
	q.Set("q", string(queryJSON))
	q.Set("f", fields)
	q.Set("o", opts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/patents/query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: patents: %v", apperr.ErrSourceUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: patents: %v", apperr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: patents returned %s", apperr.ErrSourceUnavailable, resp.Status)
	}

	var body patentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: patents: decode: %v", apperr.ErrSourceUnavailable, err)
	}

	items := make([]sources.Item, 0, len(body.Patents))
	for _, p := range body.Patents {
		items = append(items, normalize(p))
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, items, sources.SearchTTL)
	}

	logger.Debug("Patents search completed",
		zap.String("query", params.Query),
		zap.Int("results", len(items)),
	)

	return items, nil
}

// FetchItem fetches one patent by number with the longer single-record TTL.
func (c *Client) FetchItem(ctx context.Context, number string) (*sources.Item, error) {
	cacheKey := "patents:patent:" + number

	var cached sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	items, err := c.Search(ctx, sources.SearchParams{Query: number, MaxResults: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: patent %s", apperr.ErrNotFound, number)
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, items[0], sources.LookupTTL)
	}

	return &items[0], nil
}

func normalize(p patent) sources.Item {
	assignee := "Unknown"
	if len(p.Assignees) > 0 && p.Assignees[0].Organization != "" {
		assignee = p.Assignees[0].Organization
	}

	inventors := make([]string, 0, len(p.Inventors))
	for _, inv := range p.Inventors {
		inventors = append(inventors, inv.FirstName+" "+inv.LastName)
	}

	return sources.Item{
		Source:      sources.Patents,
		Kind:        "patent",
		ExternalID:  p.Number,
		Title:       p.Title,
		Abstract:    p.Abstract,
		PublishedAt: p.Date,
		Authors:     inventors,
		Venue:       assignee,
		URL:         "https://patents.google.com/patent/" + p.Number,
		RetrievedAt: time.Now().UTC(),
	}
}

func maxResults(n int) int {
	if n <= 0 {
		return 25
	}
	if n > 100 {
		return 100
	}
	return n
}
