// Package pubmed adapts the NCBI E-utilities API: esearch resolves a term to
// PMIDs, efetch returns the article records as XML. An API key is optional
// and only raises the request-per-second allowance.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/pkg/logger"
	"github.com/acm-research/backend/pkg/utils"
)

const defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      sources.Cache
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type articleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Medline struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    string `xml:"ArticleTitle"`
			Abstract struct {
				Text []string `xml:"AbstractText"`
			} `xml:"Abstract"`
			Journal struct {
				Title   string `xml:"Title"`
				Issue   struct {
					PubDate struct {
						Year  string `xml:"Year"`
						Month string `xml:"Month"`
						Day   string `xml:"Day"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			AuthorList struct {
				Authors []struct {
					LastName string `xml:"LastName"`
					ForeName string `xml:"ForeName"`
				} `xml:"Author"`
			} `xml:"AuthorList"`
			ELocationIDs []struct {
				Type  string `xml:"EIdType,attr"`
				Value string `xml:",chardata"`
			} `xml:"ELocationID"`
		} `xml:"Article"`
		Keywords []string `xml:"KeywordList>Keyword"`
		MeshList struct {
			Headings []struct {
				Descriptor string `xml:"DescriptorName"`
			} `xml:"MeshHeading"`
		} `xml:"MeshHeadingList"`
	} `xml:"MedlineCitation"`
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
	return sources.PubMed
}

func (c *Client) Search(ctx context.Context, params sources.SearchParams) ([]sources.Item, error) {
	cacheKey := utils.CacheKey("pubmed:search", params)

	var cached []sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	pmids, err := c.search(ctx, params)
	if err != nil {
		return nil, err
	}

	// Zero hits are cached too, so a repeated empty search stays off the wire.
	items := []sources.Item{}
	if len(pmids) > 0 {
		items, err = c.fetch(ctx, pmids)
		if err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, items, sources.SearchTTL)
	}

	logger.Debug("PubMed search completed",
		zap.String("query", params.Query),
		zap.Int("results", len(items)),
	)

	return items, nil
}

// FetchItem fetches one article by PMID with the longer single-record TTL.
func (c *Client) FetchItem(ctx context.Context, pmid string) (*sources.Item, error) {
	cacheKey := "pubmed:article:" + pmid

	var cached sources.Item
	if c.cache != nil && c.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	items, err := c.fetch(ctx, []string{pmid})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: pubmed article %s", apperr.ErrNotFound, pmid)
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, items[0], sources.LookupTTL)
	}

	return &items[0], nil
}

func (c *Client) search(ctx context.Context, params sources.SearchParams) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmax", strconv.Itoa(maxResults(params.MaxResults)))
	q.Set("retmode", "json")

	if params.DateFrom != "" || params.DateTo != "" {
		q.Set("datetype", "pdat")
		q.Set("mindate", orDefault(params.DateFrom, "1900"))
		q.Set("maxdate", orDefault(params.DateTo, "3000"))
	}

	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, c.baseURL+"/esearch.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: pubmed: esearch decode: %v", apperr.ErrSourceUnavailable, err)
	}

	return resp.ESearchResult.IDList, nil
}

func (c *Client) fetch(ctx context.Context, pmids []string) ([]sources.Item, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")

	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, c.baseURL+"/efetch.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: pubmed: efetch decode: %v", apperr.ErrSourceUnavailable, err)
	}

	items := make([]sources.Item, 0, len(set.Articles))
	for _, a := range set.Articles {
		items = append(items, normalize(a))
	}

	return items, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: pubmed: %v", apperr.ErrSourceUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: pubmed: %v", apperr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: pubmed returned %s", apperr.ErrSourceUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: pubmed: read body: %v", apperr.ErrSourceUnavailable, err)
	}

	return body, nil
}

func normalize(a pubmedArticle) sources.Item {
	art := a.Medline.Article

	authors := make([]string, 0, len(art.AuthorList.Authors))
	for _, au := range art.AuthorList.Authors {
		name := strings.TrimSpace(au.ForeName + " " + au.LastName)
		if name != "" {
			authors = append(authors, name)
		}
	}

	doi := ""
	for _, el := range art.ELocationIDs {
		if el.Type == "doi" {
			doi = strings.TrimSpace(el.Value)
		}
	}

	concepts := make([]string, 0, len(a.Medline.Keywords)+len(a.Medline.MeshList.Headings))
	for _, k := range a.Medline.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			concepts = append(concepts, k)
		}
	}
	for _, m := range a.Medline.MeshList.Headings {
		if d := strings.TrimSpace(m.Descriptor); d != "" {
			concepts = append(concepts, d)
		}
	}

	return sources.Item{
		Source:        sources.PubMed,
		Kind:          "paper",
		ExternalID:    a.Medline.PMID,
		DOI:           doi,
		Title:         sources.CleanMarkup(art.Title),
		Abstract:      sources.CleanMarkup(strings.Join(art.Abstract.Text, " ")),
		PublishedAt:   formatPubDate(art.Journal.Issue.PubDate.Year, art.Journal.Issue.PubDate.Month, art.Journal.Issue.PubDate.Day),
		Authors:       authors,
		Venue:         art.Journal.Title,
		URL:           "https://pubmed.ncbi.nlm.nih.gov/" + a.Medline.PMID + "/",
		Concepts:      concepts,
		RetrievedAt:   time.Now().UTC(),
	}
}

func formatPubDate(year, month, day string) string {
	if year == "" {
		return ""
	}
	out := year
	if month != "" {
		out += "-" + month
		if day != "" {
			out += "-" + day
		}
	}
	return out
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

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
