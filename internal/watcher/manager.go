package watcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/errors"
	"github.com/codeatlas/codeatlas/internal/store"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Registry  *config.RepoRegistry
	Submitter Submitter

	// Kinds are the index kinds each flush reindexes (default both).
	Kinds []store.IndexKind

	// Debounce is the per-repository quiet period (default 5s).
	Debounce time.Duration

	Logger *slog.Logger
}

// Manager runs one RepoWatcher per eligible repository and keeps the
// set in sync with the registry: repositories becoming enabled with
// auto-reindex gain a watcher, repositories disabled, locked, or
// removed lose theirs.
type Manager struct {
	registry  *config.RepoRegistry
	submitter Submitter
	kinds     []store.IndexKind
	debounce  time.Duration
	logger    *slog.Logger

	mu            sync.Mutex
	ctx           context.Context
	globalInclude []string
	globalExclude []string
	watchers      map[string]*RepoWatcher
	stopped       bool
}

// NewManager creates a Manager. Call Start to begin watching.
func NewManager(opts ManagerOptions) *Manager {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []store.IndexKind{store.KindLexical, store.KindVector}
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:  opts.Registry,
		submitter: opts.Submitter,
		kinds:     kinds,
		debounce:  debounce,
		logger:    logger,
		watchers:  make(map[string]*RepoWatcher),
	}
}

// eligible reports whether a repository should be watched.
func eligible(repo config.Repository) bool {
	return repo.Enabled && repo.AutoReindex && !repo.Excluded
}

// Start spins up watchers for the currently eligible repositories and
// subscribes to registry changes so the watcher set follows them.
func (m *Manager) Start(ctx context.Context) error {
	globalInclude, globalExclude := m.registry.GlobalPatterns()

	m.mu.Lock()
	m.ctx = ctx
	m.globalInclude = globalInclude
	m.globalExclude = globalExclude
	repos := m.registry.Repositories()
	err := m.reconcileLocked(repos)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.registry.Subscribe(func(change config.Change) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		if err := m.reconcileLocked(change.Repositories); err != nil {
			m.logger.Warn("watcher reconcile after registry change failed",
				slog.String("change", string(change.Type)),
				slog.String("error", err.Error()))
		}
	})
	return nil
}

// reconcileLocked starts and stops watchers to match the snapshot.
func (m *Manager) reconcileLocked(repos []config.Repository) error {
	want := make(map[string]config.Repository, len(repos))
	for _, repo := range repos {
		if eligible(repo) {
			want[repo.Name] = repo
		}
	}

	for name, w := range m.watchers {
		if _, ok := want[name]; !ok {
			w.Stop()
			delete(m.watchers, name)
		}
	}

	var firstErr error
	for name, repo := range want {
		if _, ok := m.watchers[name]; ok {
			continue
		}
		w, err := m.startWatcherLocked(repo)
		if err != nil {
			m.logger.Warn("failed to start watcher",
				slog.String("repository", name),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.watchers[name] = w
	}
	return firstErr
}

func (m *Manager) startWatcherLocked(repo config.Repository) (*RepoWatcher, error) {
	w, err := NewRepoWatcher(RepoOptions{
		Repository:    repo,
		GlobalInclude: m.globalInclude,
		GlobalExclude: m.globalExclude,
		Kinds:         m.kinds,
		Debounce:      m.debounce,
		Submitter:     m.submitter,
		Logger:        m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(m.ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// StartRepository force-starts a watcher for one repository, regardless
// of its auto-reindex flag. The repository must exist and be enabled.
func (m *Manager) StartRepository(name string) error {
	repo, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if !repo.Enabled || repo.Excluded {
		return errors.InvalidArgument("repository " + name + " is not enabled for watching")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.InvalidArgument("watcher manager is stopped")
	}
	if _, ok := m.watchers[name]; ok {
		return nil
	}
	w, err := m.startWatcherLocked(repo)
	if err != nil {
		return err
	}
	m.watchers[name] = w
	return nil
}

// StopRepository stops the watcher for one repository, if running.
func (m *Manager) StopRepository(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		w.Stop()
		delete(m.watchers, name)
	}
}

// Status reports every running watcher, sorted by repository name.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repository < out[j].Repository })
	return out
}

// Watching reports whether a repository currently has a watcher.
func (m *Manager) Watching(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[name]
	return ok
}

// Stop shuts down every watcher. The manager cannot be restarted.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for name, w := range m.watchers {
		w.Stop()
		delete(m.watchers, name)
	}
}
