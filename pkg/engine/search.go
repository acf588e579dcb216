package engine

import (
	"context"
	"strconv"

	"github.com/codeatlas/codeatlas/internal/errors"
	"github.com/codeatlas/codeatlas/internal/search"
)

// SystemState keys for counters that outlive the process.
const (
	stateSearchCount  = "total_searches"
	stateSearchTimeMS = "total_search_time_ms"
)

// SearchLexical runs a BM25-only query.
func (e *Engine) SearchLexical(ctx context.Context, req search.Request) (*search.Response, error) {
	req.Mode = search.ModeLexical
	return e.search(ctx, req)
}

// SearchSemantic runs a vector-only query.
func (e *Engine) SearchSemantic(ctx context.Context, req search.Request) (*search.Response, error) {
	req.Mode = search.ModeSemantic
	return e.search(ctx, req)
}

// SearchHybrid runs both backends and fuses the results.
func (e *Engine) SearchHybrid(ctx context.Context, req search.Request) (*search.Response, error) {
	req.Mode = search.ModeHybrid
	return e.search(ctx, req)
}

func (e *Engine) search(ctx context.Context, req search.Request) (*search.Response, error) {
	if err := e.validateRepositoryFilter(req.Repositories); err != nil {
		return nil, err
	}
	return e.searcher.Search(ctx, req)
}

// validateRepositoryFilter rejects filters naming unregistered
// repositories, so a typo fails loudly instead of silently matching
// nothing.
func (e *Engine) validateRepositoryFilter(names []string) error {
	if len(names) == 0 {
		return nil
	}
	known := make(map[string]bool)
	for _, repo := range e.registry.Repositories() {
		known[repo.Name] = true
	}
	for _, name := range names {
		if !known[name] {
			return errors.InvalidArgument("unknown repository in filter: " + name)
		}
	}
	return nil
}

// SearchStats returns this process's search counters plus the totals
// persisted by previous runs. Close folds the session into the
// persisted totals.
func (e *Engine) SearchStats(ctx context.Context) (search.Stats, error) {
	stats := e.searcher.Stats()

	prevCount, err := e.stateInt64(ctx, stateSearchCount)
	if err != nil {
		return stats, err
	}
	prevMS, err := e.stateInt64(ctx, stateSearchTimeMS)
	if err != nil {
		return stats, err
	}

	stats.TotalSearches += prevCount
	stats.TotalSearchTimeMS += prevMS
	return stats, nil
}

// persistSearchStats adds the session's counters to the stored totals.
func (e *Engine) persistSearchStats(ctx context.Context) error {
	stats := e.searcher.Stats()
	if stats.TotalSearches == 0 {
		return nil
	}

	prevCount, err := e.stateInt64(ctx, stateSearchCount)
	if err != nil {
		return err
	}
	prevMS, err := e.stateInt64(ctx, stateSearchTimeMS)
	if err != nil {
		return err
	}

	if err := e.meta.PutState(ctx, stateSearchCount,
		strconv.FormatInt(prevCount+stats.TotalSearches, 10)); err != nil {
		return err
	}
	return e.meta.PutState(ctx, stateSearchTimeMS,
		strconv.FormatInt(prevMS+stats.TotalSearchTimeMS, 10))
}

// stateInt64 reads a numeric SystemState value. Missing or unparsable
// values count as zero so a damaged counter restarts instead of
// wedging every status call.
func (e *Engine) stateInt64(ctx context.Context, key string) (int64, error) {
	raw, err := e.meta.GetState(ctx, key)
	if err != nil || raw == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
