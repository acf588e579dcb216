package engine

import (
	"context"

	"github.com/codeatlas/codeatlas/internal/index"
	"github.com/codeatlas/codeatlas/internal/store"
	"github.com/codeatlas/codeatlas/internal/watcher"
)

// IndexingStatus is the combined view of the indexing subsystem.
type IndexingStatus struct {
	IsIndexing bool `json:"is_indexing"`

	// Kinds holds per-kind progress, including the last finished run's
	// counters when idle.
	Kinds map[store.IndexKind]index.ProgressSnapshot `json:"kinds"`

	// LastIndexTime is the RFC3339 completion time of the last run,
	// empty when nothing has been indexed yet.
	LastIndexTime string `json:"last_index_time,omitempty"`
}

// Reindex starts an indexing run in the background and returns a handle
// to wait on. A Conflict error means a run is already in flight.
func (e *Engine) Reindex(ctx context.Context, job index.Job) (*index.RunHandle, error) {
	return e.orch.Start(ctx, job)
}

// StopIndexing requests cooperative cancellation for the given kinds;
// no kinds means all.
func (e *Engine) StopIndexing(kinds ...store.IndexKind) {
	if len(kinds) == 0 {
		e.orch.Stop()
		return
	}
	for _, kind := range kinds {
		e.orch.StopKind(kind)
	}
}

// IndexingStatus reports per-kind progress plus the persisted
// last-index time.
func (e *Engine) IndexingStatus(ctx context.Context) (IndexingStatus, error) {
	last, err := e.meta.GetState(ctx, index.SystemStateLastIndexTime)
	if err != nil {
		return IndexingStatus{}, err
	}
	return IndexingStatus{
		IsIndexing:    e.orch.IsRunning(),
		Kinds:         e.orch.Status(),
		LastIndexTime: last,
	}, nil
}

// WatcherStatus reports every running repository watcher.
func (e *Engine) WatcherStatus() []watcher.Status {
	return e.watchers.Status()
}

// WatchRepository force-starts a watcher for one repository.
func (e *Engine) WatchRepository(name string) error {
	return e.watchers.StartRepository(name)
}

// UnwatchRepository stops a repository's watcher, if running.
func (e *Engine) UnwatchRepository(name string) {
	e.watchers.StopRepository(name)
}
