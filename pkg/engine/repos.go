package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/store"
)

// RepositoryInfo combines a registry entry with its index statistics.
type RepositoryInfo struct {
	config.Repository

	// Stats holds the per-kind run aggregates, empty when never indexed.
	Stats []store.RepositoryStat `json:"stats,omitempty"`

	// FileCount is the number of files tracked in the metadata store.
	FileCount int `json:"file_count"`

	// Watched reports whether a filesystem watcher is running.
	Watched bool `json:"watched"`
}

// Repositories lists every registered repository in priority order with
// its indexing stats and tracked file count.
func (e *Engine) Repositories(ctx context.Context) ([]RepositoryInfo, error) {
	repos := e.registry.Repositories()

	stats, err := e.meta.Stats(ctx, "")
	if err != nil {
		return nil, err
	}
	byRepo := make(map[string][]store.RepositoryStat)
	for _, st := range stats {
		byRepo[st.Repository] = append(byRepo[st.Repository], st)
	}

	out := make([]RepositoryInfo, 0, len(repos))
	for _, repo := range repos {
		count, err := e.meta.CountFiles(ctx, repo.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, RepositoryInfo{
			Repository: repo,
			Stats:      byRepo[repo.Name],
			FileCount:  count,
			Watched:    e.watchers.Watching(repo.Name),
		})
	}
	return out, nil
}

// AddRepository registers a repository. Indexing does not start until a
// job runs or the watcher flushes.
func (e *Engine) AddRepository(repo config.Repository) error {
	return e.registry.Add(repo)
}

// RemoveRepository removes a repository from the registry and purges
// its documents, chunks, and metadata. Files on disk are untouched.
func (e *Engine) RemoveRepository(ctx context.Context, name string) error {
	removed, err := e.registry.Remove(name)
	if err != nil {
		return err
	}

	// The registry entry is gone either way; purge failures leave
	// orphans that the next full rebuild clears, so collect and report
	// instead of aborting.
	var problems []string
	if err := e.lexIdx.Clear(ctx, removed.Name); err != nil {
		problems = append(problems, fmt.Sprintf("lexical: %v", err))
	}
	if err := e.vecIdx.Clear(ctx, removed.Name); err != nil {
		problems = append(problems, fmt.Sprintf("vector: %v", err))
	}
	if err := e.meta.DeleteAll(ctx, removed.Name); err != nil {
		problems = append(problems, fmt.Sprintf("metadata: %v", err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("repository %s removed but purge incomplete: %s",
			name, strings.Join(problems, "; "))
	}

	e.logger.Info("repository removed", slog.String("repository", name))
	return nil
}

// UpdateRepository applies a partial update to a repository.
func (e *Engine) UpdateRepository(name string, upd config.RepositoryUpdate) (config.Repository, error) {
	return e.registry.Update(name, upd)
}

// BulkUpdate applies an action across all repositories atomically.
func (e *Engine) BulkUpdate(action config.BulkAction) error {
	return e.registry.BulkUpdate(action)
}
