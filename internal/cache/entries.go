package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Status classifies the terminal outcome a cache entry records. Blocked,
// timeout, error and empty entries exist so that retries are rate-limited
// by TTL instead of hammering a source that just failed.
type Status string

const (
	StatusValid   Status = "valid"
	StatusBlocked Status = "blocked"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	StatusEmpty   Status = "empty"
	StatusGone    Status = "gone"
)

// SearchHit is one organic result as stored in the search cache.
type SearchHit struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet,omitempty"`
	Position int    `json:"position,omitempty"`
}

// SearchRecord is the tagged payload of a search-cache row.
type SearchRecord struct {
	QueryType string          `json:"query_type"`
	Query     string          `json:"query"`
	Domains   []string        `json:"domains,omitempty"`
	Locale    string          `json:"locale,omitempty"`
	Hits      []SearchHit     `json:"hits"`
	// Raw preserves the provider payload (AI overview, knowledge graph,
	// people-also-ask) for reuse by later extraction tiers.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// SearchEntry is a search-cache row as returned by lookups.
type SearchEntry struct {
	Key       string
	Record    SearchRecord
	Status    Status
	ExpiresAt time.Time
	Stale     bool
}

// PageRecord is the tagged payload of a page-cache row.
type PageRecord struct {
	URL          string `json:"url"`
	Content      string `json:"content"`
	StatusCode   int    `json:"status_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PageEntry is a page-cache row as returned by lookups.
type PageEntry struct {
	Record    PageRecord
	Status    Status
	ExpiresAt time.Time
	Stale     bool
}

// ExtractionRecord is the tagged payload of an extraction-cache row.
type ExtractionRecord struct {
	WineID       string          `json:"wine_id"`
	ContentHash  string          `json:"content_hash"`
	Type         string          `json:"extraction_type"`
	Ratings      json.RawMessage `json:"extracted_ratings,omitempty"`
	Windows      json.RawMessage `json:"extracted_windows,omitempty"`
	TastingNotes string          `json:"tasting_notes,omitempty"`
	ModelVersion string          `json:"model_version,omitempty"`
}

// ExtractionEntry is an extraction-cache row as returned by lookups.
type ExtractionEntry struct {
	Record    ExtractionRecord
	Status    Status
	ExpiresAt time.Time
	Stale     bool
}

// URLMeta is one public-url-cache row: the revalidation metadata of a URL,
// independent of any request.
type URLMeta struct {
	URL          string
	ETag         string
	LastModified string
	ContentType  string
	ByteSize     int64
	FetchedAt    time.Time
	ExpiresAt    time.Time
	FetchCount   int
	Status       Status
}

// SearchKey derives the stable cache key of a search: a truncated SHA-256
// over the normalized, sorted parameters, so derivation is independent of
// argument ordering.
func SearchKey(queryType, query string, domains []string, locale string) string {
	norm := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			norm = append(norm, d)
		}
	}
	sort.Strings(norm)
	parts := []string{
		strings.ToLower(strings.TrimSpace(queryType)),
		strings.ToLower(strings.TrimSpace(query)),
		strings.Join(norm, ","),
		strings.ToLower(strings.TrimSpace(locale)),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:16])
}

// URLKey derives the page-cache key for a URL.
func URLKey(url string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(h[:16])
}

// ContentHash fingerprints fetched text for the extraction cache.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}
