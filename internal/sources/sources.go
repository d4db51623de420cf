// Package sources defines the closed set of external literature and patent
// databases and the normalized result shape they all map into. Identifiers
// are validated at the API boundary against this registry; there is no
// free-form string dispatch.
package sources

import (
	"context"
	"sort"
	"time"
)

type ID string

const (
	OpenAlex ID = "openalex"
	PubMed   ID = "pubmed"
	Patents  ID = "patents"
)

// All lists every known source identifier, in stable order.
func All() []ID {
	return []ID{OpenAlex, PubMed, Patents}
}

func Valid(id string) bool {
	switch ID(id) {
	case OpenAlex, PubMed, Patents:
		return true
	}
	return false
}

func DisplayName(id ID) string {
	switch id {
	case OpenAlex:
		return "OpenAlex"
	case PubMed:
		return "PubMed"
	case Patents:
		return "Patents API"
	}
	return string(id)
}

// SearchParams is the provider-independent query shape. Adapters translate
// it into provider-specific requests.
type SearchParams struct {
	Query          string `json:"query"`
	MaxResults     int    `json:"max_results"`
	DateFrom       string `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo         string `json:"date_to,omitempty"`
	OpenAccessOnly bool   `json:"open_access_only,omitempty"`
}

// Item is one normalized search result, tagged with the source it came from.
type Item struct {
	Source        ID        `json:"source"`
	Kind          string    `json:"kind"` // "paper" or "patent"
	ExternalID    string    `json:"external_id"`
	DOI           string    `json:"doi,omitempty"`
	Title         string    `json:"title"`
	Abstract      string    `json:"abstract"`
	PublishedAt   string    `json:"published_at,omitempty"`
	CitationCount int       `json:"citation_count"`
	Authors       []string  `json:"authors,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	URL           string    `json:"url,omitempty"`
	Concepts      []string  `json:"concepts,omitempty"`
	OpenAccess    bool      `json:"open_access,omitempty"`
	RetrievedAt   time.Time `json:"retrieved_at,omitempty"`
}

// Adapter is implemented once per external database.
type Adapter interface {
	ID() ID
	Search(ctx context.Context, params SearchParams) ([]Item, error)
}

// ItemFetcher is implemented by adapters whose upstream supports fetching a
// single record by its external identifier.
type ItemFetcher interface {
	FetchItem(ctx context.Context, externalID string) (*Item, error)
}

// Cache is the subset of the cache layer the adapters depend on.
// A nil *redis.Client satisfies the degraded (always-miss) behavior.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// Cache TTLs. Aggregate search results churn faster than any single record.
const (
	SearchTTL = time.Hour
	LookupTTL = 24 * time.Hour
)

// Registry holds the constructed adapters keyed by identifier.
type Registry struct {
	adapters map[ID]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

func (r *Registry) Lookup(id ID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
