// Package search implements lexical, semantic, and hybrid query
// execution over the two backends, with Reciprocal Rank Fusion for the
// hybrid mode.
package search

// Mode selects which backends a query consults.
type Mode string

const (
	// ModeLexical consults the BM25 backend only.
	ModeLexical Mode = "lexical"
	// ModeSemantic consults the vector backend only.
	ModeSemantic Mode = "semantic"
	// ModeHybrid consults both backends and fuses the results.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeLexical || m == ModeSemantic || m == ModeHybrid
}

// Request is one search query.
type Request struct {
	// Query is the non-empty search string.
	Query string

	// Mode selects lexical, semantic, or hybrid execution.
	Mode Mode

	// Limit caps the number of results (default 10, max 100).
	Limit int

	// Repositories restricts results to the named repositories;
	// empty searches everything.
	Repositories []string

	// FileTypes restricts results to extensions (without leading dot).
	FileTypes []string

	// FolderFilter restricts results to a repository-relative path
	// prefix, e.g. "internal/search".
	FolderFilter string

	// MinScore drops fused results below this score. Hybrid only.
	MinScore float64
}

// Result is one search hit, collapsed to file granularity. FilePath is
// the absolute path on disk; RelativePath is the same file relative to
// its repository root.
type Result struct {
	FilePath     string   `json:"file_path"`
	RelativePath string   `json:"relative_path"`
	Repository   string   `json:"repository"`
	FileType     string   `json:"file_type"`
	Score        float64  `json:"score"`
	LexicalScore float64  `json:"lexical_score,omitempty"`
	VectorScore  float64  `json:"vector_score,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Degraded marks a hybrid response served by a single backend.
type Degraded struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// Response is the result of one search.
type Response struct {
	Results      []*Result `json:"results"`
	TotalResults int       `json:"total_results"`
	SearchType   string    `json:"search_type"`
	Query        string    `json:"query"`
	Degraded     *Degraded `json:"degraded,omitempty"`
}

// Stats are process-lifetime search counters.
type Stats struct {
	TotalSearches     int64 `json:"total_searches"`
	TotalSearchTimeMS int64 `json:"total_search_time_ms"`
}
