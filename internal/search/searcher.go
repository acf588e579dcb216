package search

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codeatlas/codeatlas/internal/embed"
	"github.com/codeatlas/codeatlas/internal/errors"
	"github.com/codeatlas/codeatlas/internal/store"
)

const (
	// DefaultLimit is the result count when the request leaves it unset.
	DefaultLimit = 10

	// MaxLimit caps the per-request result count.
	MaxLimit = 100

	// DefaultTimeout is the soft search deadline.
	DefaultTimeout = 10 * time.Second

	// minOversample is the floor for backend candidate counts in
	// hybrid and semantic modes.
	minOversample = 30
)

// Options configures a Searcher.
type Options struct {
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Embedder embed.Embedder

	// RRFConstant is the fusion smoothing parameter (default 60).
	RRFConstant int

	// Timeout is the soft per-search deadline (default 10s).
	Timeout time.Duration

	Logger *slog.Logger
}

// Searcher executes lexical, semantic, and hybrid queries.
type Searcher struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	fusion   *RRFFusion
	timeout  time.Duration
	logger   *slog.Logger

	totalSearches     atomic.Int64
	totalSearchTimeMS atomic.Int64
}

// NewSearcher creates a Searcher.
func NewSearcher(opts Options) *Searcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		lexical:  opts.Lexical,
		vector:   opts.Vector,
		embedder: opts.Embedder,
		fusion:   NewRRFFusion(opts.RRFConstant),
		timeout:  timeout,
		logger:   logger,
	}
}

// Stats returns process-lifetime search counters.
func (s *Searcher) Stats() Stats {
	return Stats{
		TotalSearches:     s.totalSearches.Load(),
		TotalSearchTimeMS: s.totalSearchTimeMS.Load(),
	}
}

// Search executes one request.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.InvalidArgument("query must not be empty")
	}
	if !req.Mode.Valid() {
		return nil, errors.InvalidArgument("invalid search mode: " + string(req.Mode))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		s.totalSearches.Add(1)
		s.totalSearchTimeMS.Add(time.Since(started).Milliseconds())
	}()

	filter := buildFilter(req)

	var (
		resp *Response
		err  error
	)
	switch req.Mode {
	case ModeLexical:
		resp, err = s.searchLexical(ctx, req, limit, filter)
	case ModeSemantic:
		resp, err = s.searchSemantic(ctx, req, limit, filter)
	default:
		resp, err = s.searchHybrid(ctx, req, limit, filter)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search completed",
		slog.String("mode", string(req.Mode)),
		slog.String("query", req.Query),
		slog.Int("results", resp.TotalResults),
		slog.Duration("duration", time.Since(started)))

	return resp, nil
}

func buildFilter(req Request) *store.Filter {
	if len(req.Repositories) == 0 && len(req.FileTypes) == 0 && req.FolderFilter == "" {
		return nil
	}
	return &store.Filter{
		Repositories: req.Repositories,
		FileTypes:    req.FileTypes,
		PathPrefix:   req.FolderFilter,
	}
}

func (s *Searcher) searchLexical(ctx context.Context, req Request, limit int, filter *store.Filter) (*Response, error) {
	hits, err := s.lexical.Search(ctx, req.Query, limit, filter)
	if err != nil {
		return nil, errors.BackendUnavailable("lexical", err)
	}

	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &Result{
			FilePath:     hit.FilePath,
			RelativePath: hit.RelPath,
			Repository:   hit.Repository,
			FileType:     hit.FileType,
			Score:        hit.Score,
			LexicalScore: hit.Score,
			Snippet:      snippetFor(hit.FilePath, snippetTerms(req.Query, hit.MatchedTerms)),
			MatchedTerms: hit.MatchedTerms,
		})
	}

	return &Response{
		Results:      results,
		TotalResults: len(results),
		SearchType:   string(ModeLexical),
		Query:        req.Query,
	}, nil
}

func (s *Searcher) searchSemantic(ctx context.Context, req Request, limit int, filter *store.Filter) (*Response, error) {
	hits, err := s.vectorQuery(ctx, req.Query, limit, filter)
	if err != nil {
		return nil, errors.BackendUnavailable("vector", err)
	}

	results := collapseChunks(hits, limit)
	for _, r := range results {
		r.Snippet = snippetFor(r.FilePath, snippetTerms(req.Query, nil))
	}

	return &Response{
		Results:      results,
		TotalResults: len(results),
		SearchType:   string(ModeSemantic),
		Query:        req.Query,
	}, nil
}

// searchHybrid issues the two backend queries concurrently and fuses
// the result lists. If exactly one backend fails the response degrades
// to the other and is marked accordingly.
func (s *Searcher) searchHybrid(ctx context.Context, req Request, limit int, filter *store.Filter) (*Response, error) {
	k := oversample(limit)

	type lexResult struct {
		hits []*store.LexicalHit
		err  error
	}
	type vecResult struct {
		hits []*store.VectorHit
		err  error
	}

	lexCh := make(chan lexResult, 1)
	vecCh := make(chan vecResult, 1)

	go func() {
		hits, err := s.lexical.Search(ctx, req.Query, k, filter)
		lexCh <- lexResult{hits: hits, err: err}
	}()
	go func() {
		hits, err := s.vectorQuery(ctx, req.Query, limit, filter)
		vecCh <- vecResult{hits: hits, err: err}
	}()

	lex := <-lexCh
	vec := <-vecCh

	var degraded *Degraded
	switch {
	case lex.err != nil && vec.err != nil:
		return nil, errors.BackendUnavailable("lexical and vector", stderrors.Join(lex.err, vec.err))
	case lex.err != nil:
		degraded = &Degraded{Backend: "lexical", Reason: lex.err.Error()}
		lex.hits = nil
		s.logger.Warn("lexical backend failed, degrading to vector",
			slog.String("error", lex.err.Error()))
	case vec.err != nil:
		degraded = &Degraded{Backend: "vector", Reason: vec.err.Error()}
		vec.hits = nil
		s.logger.Warn("vector backend failed, degrading to lexical",
			slog.String("error", vec.err.Error()))
	}

	fused := s.fusion.Fuse(lex.hits, vec.hits)

	results := make([]*Result, 0, limit)
	for _, ff := range fused {
		if req.MinScore > 0 && ff.Score < req.MinScore {
			continue
		}
		results = append(results, &Result{
			FilePath:     ff.FilePath,
			RelativePath: ff.RelPath,
			Repository:   ff.Repository,
			FileType:     ff.FileType,
			Score:        ff.Score,
			LexicalScore: ff.LexicalScore,
			VectorScore:  ff.VectorScore,
			Snippet:      snippetFor(ff.FilePath, snippetTerms(req.Query, ff.MatchedTerms)),
			MatchedTerms: ff.MatchedTerms,
		})
		if len(results) >= limit {
			break
		}
	}

	return &Response{
		Results:      results,
		TotalResults: len(results),
		SearchType:   string(ModeHybrid),
		Query:        req.Query,
		Degraded:     degraded,
	}, nil
}

// vectorQuery embeds the query and searches the vector backend with an
// oversampled candidate count (chunks collapse to fewer files).
func (s *Searcher) vectorQuery(ctx context.Context, query string, limit int, filter *store.Filter) ([]*store.VectorHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vector.Search(ctx, vec, oversample(limit), filter)
}

// oversample asks the backends for more candidates than the caller
// wants, improving fusion and chunk-collapse quality.
func oversample(limit int) int {
	k := limit * 3
	if k < minOversample {
		k = minOversample
	}
	return k
}

// collapseChunks reduces chunk hits to files, keeping each file's best
// chunk score and preserving backend rank order.
func collapseChunks(hits []*store.VectorHit, limit int) []*Result {
	seen := make(map[string]bool, len(hits))
	results := make([]*Result, 0, limit)
	for _, hit := range hits {
		if seen[hit.Meta.FilePath] {
			continue
		}
		seen[hit.Meta.FilePath] = true
		results = append(results, &Result{
			FilePath:     hit.Meta.FilePath,
			RelativePath: hit.Meta.RelPath,
			Repository:   hit.Meta.Repository,
			FileType:     hit.Meta.FileType,
			Score:        float64(hit.Score),
			VectorScore:  float64(hit.Score),
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

// snippetTerms merges the raw query terms with the backend's matched
// terms for snippet extraction.
func snippetTerms(query string, matched []string) []string {
	terms := strings.Fields(query)
	return append(terms, matched...)
}
