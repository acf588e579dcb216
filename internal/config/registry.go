package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/codeatlas/codeatlas/internal/errors"
)

// ChangeType describes a registry mutation for subscribers.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeUpdated ChangeType = "updated"
	ChangeBulk    ChangeType = "bulk"
)

// Change is delivered to subscribers after a registry mutation commits.
type Change struct {
	Type ChangeType
	// Name is the affected repository, empty for bulk updates.
	Name string
	// Repositories is a snapshot of the registry after the change.
	Repositories []Repository
}

// BulkAction is an atomic update applied across all repositories.
type BulkAction string

const (
	BulkEnableAll  BulkAction = "enable_all"
	BulkDisableAll BulkAction = "disable_all"
	BulkLockAll    BulkAction = "lock_all"
	BulkUnlockAll  BulkAction = "unlock_all"
)

// RepositoryUpdate holds optional field changes for UpdateRepository.
// Nil fields are left untouched.
type RepositoryUpdate struct {
	Enabled         *bool
	Excluded        *bool
	Priority        *Priority
	AutoReindex     *bool
	IncludePatterns *[]string
	ExcludePatterns *[]string
}

// RepoRegistry owns the repository list. All mutations are serialized,
// persisted to the YAML config file, and announced to subscribers.
type RepoRegistry struct {
	mu          sync.RWMutex
	cfg         *Config
	path        string
	subscribers []func(Change)
}

// NewRepoRegistry creates a registry backed by cfg, persisting to the
// config file under cfg.DataDir.
func NewRepoRegistry(cfg *Config) *RepoRegistry {
	return &RepoRegistry{
		cfg:  cfg,
		path: ConfigPath(cfg.DataDir),
	}
}

// Subscribe registers a callback invoked after every committed mutation.
// Callbacks run synchronously on the mutating goroutine and must not
// call back into the registry.
func (r *RepoRegistry) Subscribe(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Repositories returns a snapshot of all registered repositories,
// sorted by priority rank then name.
func (r *RepoRegistry) Repositories() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Enabled returns a snapshot of the enabled repositories.
func (r *RepoRegistry) Enabled() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Repository
	for _, repo := range r.snapshotLocked() {
		if repo.Enabled {
			out = append(out, repo)
		}
	}
	return out
}

// Get returns the repository with the given name.
func (r *RepoRegistry) Get(name string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, repo := range r.cfg.Repositories {
		if repo.Name == name {
			return repo, nil
		}
	}
	return Repository{}, errors.NotFound("repository", name)
}

// Add registers a new repository. The path must be an existing directory
// and both name and path must be unique.
func (r *RepoRegistry) Add(repo Repository) error {
	if repo.Priority == "" {
		repo.Priority = PriorityMedium
	}
	if abs, err := filepath.Abs(repo.Path); err == nil {
		repo.Path = abs
	}
	if err := validateNewRepository(repo); err != nil {
		return errors.Wrap(errors.KindInvalidArgument, "invalid repository", err)
	}

	r.mu.Lock()
	for _, existing := range r.cfg.Repositories {
		if existing.Name == repo.Name {
			r.mu.Unlock()
			return errors.Conflict("repository name already registered: " + repo.Name)
		}
		if existing.Path == repo.Path {
			r.mu.Unlock()
			return errors.Conflict("repository path already registered: " + repo.Path)
		}
	}
	r.cfg.Repositories = append(r.cfg.Repositories, repo)

	change, err := r.commitLocked(ChangeAdded, repo.Name)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.notify(change)
	return nil
}

// Remove deletes a repository from the registry. Index cleanup is the
// caller's responsibility; files on disk are untouched.
func (r *RepoRegistry) Remove(name string) (Repository, error) {
	r.mu.Lock()
	idx := -1
	var removed Repository
	for i, repo := range r.cfg.Repositories {
		if repo.Name == name {
			idx = i
			removed = repo
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return Repository{}, errors.NotFound("repository", name)
	}
	r.cfg.Repositories = append(r.cfg.Repositories[:idx], r.cfg.Repositories[idx+1:]...)

	change, err := r.commitLocked(ChangeRemoved, name)
	r.mu.Unlock()
	if err != nil {
		return Repository{}, err
	}

	r.notify(change)
	return removed, nil
}

// Update applies the non-nil fields of upd to the named repository.
func (r *RepoRegistry) Update(name string, upd RepositoryUpdate) (Repository, error) {
	r.mu.Lock()
	idx := -1
	for i, repo := range r.cfg.Repositories {
		if repo.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return Repository{}, errors.NotFound("repository", name)
	}

	repo := &r.cfg.Repositories[idx]
	if upd.Enabled != nil {
		repo.Enabled = *upd.Enabled
	}
	if upd.Excluded != nil {
		repo.Excluded = *upd.Excluded
	}
	if upd.Priority != nil {
		repo.Priority = *upd.Priority
	}
	if upd.AutoReindex != nil {
		repo.AutoReindex = *upd.AutoReindex
	}
	if upd.IncludePatterns != nil {
		repo.IncludePatterns = *upd.IncludePatterns
	}
	if upd.ExcludePatterns != nil {
		repo.ExcludePatterns = *upd.ExcludePatterns
	}
	if err := repo.Validate(); err != nil {
		r.mu.Unlock()
		return Repository{}, errors.Wrap(errors.KindInvalidArgument, "invalid update", err)
	}
	updated := *repo

	change, err := r.commitLocked(ChangeUpdated, name)
	r.mu.Unlock()
	if err != nil {
		return Repository{}, err
	}

	r.notify(change)
	return updated, nil
}

// BulkUpdate atomically applies one action across all repositories.
func (r *RepoRegistry) BulkUpdate(action BulkAction) error {
	r.mu.Lock()
	for i := range r.cfg.Repositories {
		repo := &r.cfg.Repositories[i]
		switch action {
		case BulkEnableAll:
			repo.Enabled = true
		case BulkDisableAll:
			repo.Enabled = false
		case BulkLockAll:
			repo.Excluded = true
		case BulkUnlockAll:
			repo.Excluded = false
		default:
			r.mu.Unlock()
			return errors.InvalidArgument("unknown bulk action: " + string(action))
		}
	}

	change, err := r.commitLocked(ChangeBulk, "")
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.notify(change)
	return nil
}

// GlobalPatterns returns the global include and exclude glob patterns.
func (r *RepoRegistry) GlobalPatterns() (include, exclude []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.cfg.Paths.Include...),
		append([]string(nil), r.cfg.Paths.Exclude...)
}

// commitLocked persists the config and builds the change event.
// Must be called with the write lock held.
func (r *RepoRegistry) commitLocked(typ ChangeType, name string) (Change, error) {
	if err := r.saveLocked(); err != nil {
		return Change{}, errors.Wrap(errors.KindFatal, "failed to persist registry", err)
	}
	return Change{Type: typ, Name: name, Repositories: r.snapshotLocked()}, nil
}

// saveLocked writes the config file atomically via rename.
func (r *RepoRegistry) saveLocked() error {
	data, err := yaml.Marshal(r.cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(r.path, data, 0o644)
}

func (r *RepoRegistry) snapshotLocked() []Repository {
	out := make([]Repository, len(r.cfg.Repositories))
	copy(out, r.cfg.Repositories)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *RepoRegistry) notify(change Change) {
	r.mu.RLock()
	subs := append([](func(Change))(nil), r.subscribers...)
	r.mu.RUnlock()

	for _, fn := range subs {
		fn(change)
	}
}
