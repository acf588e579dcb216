// Package watcher keeps indexes fresh by watching repository trees for
// changes. Each enabled repository with auto-reindex gets its own
// recursive fsnotify watcher; events are coalesced into a pending set
// and flushed as an incremental indexing job after a quiet period.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/index"
	"github.com/codeatlas/codeatlas/internal/store"
)

// DefaultDebounce is the quiet period before a flush when the config
// leaves it unset.
const DefaultDebounce = 5 * time.Second

// State is a repository watcher's lifecycle phase.
type State string

const (
	// StateWatching means the watcher is consuming filesystem events.
	StateWatching State = "watching"
	// StateFlushing means a pending set is being indexed.
	StateFlushing State = "flushing"
	// StateStopped means the watcher has been shut down.
	StateStopped State = "stopped"
)

// Submitter is the orchestrator surface the watcher drives.
type Submitter interface {
	IsRunning() bool
	Run(ctx context.Context, job index.Job) error
}

var _ Submitter = (*index.Orchestrator)(nil)

// Status is a point-in-time view of one repository watcher.
type Status struct {
	Repository      string    `json:"repository"`
	State           State     `json:"state"`
	PendingCount    int       `json:"pending_count"`
	DebounceSeconds float64   `json:"debounce_seconds"`
	LastFlush       time.Time `json:"last_flush,omitzero"`
}

// RepoOptions configures a single repository watcher.
type RepoOptions struct {
	Repository config.Repository

	// GlobalInclude and GlobalExclude are the registry-wide patterns;
	// the repository's own patterns override or extend them the same
	// way the scanner resolves them.
	GlobalInclude []string
	GlobalExclude []string

	// Kinds are the index kinds each flush reindexes.
	Kinds []store.IndexKind

	// Debounce is the quiet period before a flush (default 5s).
	Debounce time.Duration

	Submitter Submitter
	Logger    *slog.Logger
}

// RepoWatcher watches one repository tree and schedules incremental
// reindex jobs. Events reset the debounce timer; a flush snapshots and
// clears the pending set, so whatever is on disk at flush time wins.
type RepoWatcher struct {
	repo      config.Repository
	kinds     []store.IndexKind
	debounce  time.Duration
	submitter Submitter
	logger    *slog.Logger

	include []glob.Glob
	exclude []glob.Glob

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
	state     State
	lastFlush time.Time
	stopped   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRepoWatcher creates a watcher for one repository. Call Start to
// begin watching.
func NewRepoWatcher(opts RepoOptions) (*RepoWatcher, error) {
	if opts.Submitter == nil {
		return nil, fmt.Errorf("watcher %s: submitter is required", opts.Repository.Name)
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = []store.IndexKind{store.KindLexical, store.KindVector}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	include := opts.Repository.IncludePatterns
	if len(include) == 0 {
		include = opts.GlobalInclude
	}
	exclude := append(append([]string{}, opts.GlobalExclude...), opts.Repository.ExcludePatterns...)

	w := &RepoWatcher{
		repo:      opts.Repository,
		kinds:     append([]store.IndexKind{}, opts.Kinds...),
		debounce:  opts.Debounce,
		submitter: opts.Submitter,
		logger:    logger.With(slog.String("repository", opts.Repository.Name)),
		pending:   make(map[string]struct{}),
		state:     StateWatching,
		done:      make(chan struct{}),
	}

	var err error
	if w.include, err = compileGlobs(include); err != nil {
		return nil, fmt.Errorf("watcher %s: %w", opts.Repository.Name, err)
	}
	if w.exclude, err = compileGlobs(exclude); err != nil {
		return nil, fmt.Errorf("watcher %s: %w", opts.Repository.Name, err)
	}

	return w, nil
}

// Start registers the repository tree with fsnotify and begins
// consuming events until Stop is called or the context is cancelled.
func (w *RepoWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher %s: create fsnotify watcher: %w", w.repo.Name, err)
	}
	w.fsw = fsw

	if err := w.addRecursive(w.repo.Path); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher %s: watch %s: %w", w.repo.Name, w.repo.Path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.loop(ctx)

	w.logger.Info("watcher started",
		slog.String("path", w.repo.Path),
		slog.Duration("debounce", w.debounce))
	return nil
}

func (w *RepoWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent filters one fsnotify event and records it in the pending
// set. Renames surface as a Rename at the source and a Create at the
// destination, so both sides land in the set and the next incremental
// run deletes one and indexes the other.
func (w *RepoWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod != 0 && ev.Op&^fsnotify.Chmod == 0 {
		return
	}

	rel, err := filepath.Rel(w.repo.Path, ev.Name)
	if err != nil || rel == "." {
		return
	}

	isDir := false
	if info, statErr := os.Stat(ev.Name); statErr == nil {
		isDir = info.IsDir()
	}

	if w.excludedPath(rel, isDir) {
		return
	}

	if isDir {
		// New directories must be added to the watch; their contents
		// arrive as separate create events.
		if ev.Op&fsnotify.Create != 0 {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
		}
		return
	}

	if len(w.include) > 0 && !matchesAny(rel, w.include) {
		return
	}

	w.enqueue(rel)
}

// enqueue records a changed path and resets the debounce timer.
func (w *RepoWatcher) enqueue(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	w.pending[rel] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush submits an incremental job for the repository. If the
// orchestrator is busy the pending set is kept and the flush
// rescheduled; changes accumulated meanwhile join the retry. A run
// that fails puts its batch back so no change is lost.
func (w *RepoWatcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	if w.submitter.IsRunning() {
		w.timer = time.AfterFunc(w.debounce, w.flush)
		w.mu.Unlock()
		return
	}
	snapshot := w.pending
	w.pending = make(map[string]struct{})
	w.state = StateFlushing
	w.mu.Unlock()

	err := w.submitter.Run(context.Background(), index.Job{
		Repositories: []string{w.repo.Name},
		Kinds:        w.kinds,
		Mode:         index.ModeIncremental,
	})

	w.mu.Lock()
	w.lastFlush = time.Now()
	if !w.stopped {
		w.state = StateWatching
	}
	if err != nil && !w.stopped {
		// Keep the batch: merge it back under any changes that arrived
		// during the failed run and retry after another quiet period.
		for rel := range snapshot {
			w.pending[rel] = struct{}{}
		}
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = time.AfterFunc(w.debounce, w.flush)
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("reindex after file changes failed, will retry",
			slog.Int("changed_files", len(snapshot)),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("reindexed after file changes", slog.Int("changed_files", len(snapshot)))
}

// Status reports the watcher's current state.
func (w *RepoWatcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Repository:      w.repo.Name,
		State:           w.state,
		PendingCount:    len(w.pending),
		DebounceSeconds: w.debounce.Seconds(),
		LastFlush:       w.lastFlush,
	}
}

// Stop shuts the watcher down. Pending changes are dropped; the next
// incremental run picks them up from mtimes. Safe to call twice.
func (w *RepoWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.state = StateStopped
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	if w.cancel != nil {
		<-w.done
	}
	w.logger.Info("watcher stopped")
}

// addRecursive registers root and every non-excluded directory under it.
func (w *RepoWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.repo.Path, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && w.excludedPath(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// excludedPath reports whether a repository-relative path is excluded
// from watching.
func (w *RepoWatcher) excludedPath(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	return matchesAny(rel, w.exclude)
}

func matchesAny(rel string, globs []glob.Glob) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, g := range globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}
