package index

import (
	"sync/atomic"
	"time"
)

// Mode selects how an indexing run treats existing state.
type Mode string

const (
	// ModeIncremental indexes only stale files.
	ModeIncremental Mode = "incremental"
	// ModeFullRebuild clears the kind's backend and metadata first.
	ModeFullRebuild Mode = "full_rebuild"
)

// RepoState is the per-(kind, repository) pipeline state.
type RepoState string

const (
	StateIdle       RepoState = "idle"
	StateScanning   RepoState = "scanning"
	StateIndexing   RepoState = "indexing"
	StateFinalizing RepoState = "finalizing"
	StateStopping   RepoState = "stopping"
	StateFailed     RepoState = "failed"
)

// KindProgress tracks one kind's pipeline. Every field is written with a
// single atomic store so concurrent readers never see torn updates.
type KindProgress struct {
	isRunning             atomic.Bool
	mode                  atomic.Pointer[string]
	state                 atomic.Pointer[string]
	currentRepository     atomic.Pointer[string]
	repositoriesTotal     atomic.Int64
	repositoriesCompleted atomic.Int64
	filesTotal            atomic.Int64
	filesProcessed        atomic.Int64
	startedAt             atomic.Int64
}

// ProgressSnapshot is an immutable view of a kind's progress.
type ProgressSnapshot struct {
	IsRunning             bool    `json:"is_running"`
	Mode                  string  `json:"mode"`
	State                 string  `json:"state"`
	CurrentRepository     string  `json:"current_repository"`
	RepositoriesTotal     int     `json:"repositories_total"`
	RepositoriesCompleted int     `json:"repositories_completed"`
	FilesTotal            int     `json:"files_total"`
	FilesProcessed        int     `json:"files_processed"`
	ElapsedSeconds        float64 `json:"elapsed_seconds"`
}

// NewKindProgress creates an idle progress tracker.
func NewKindProgress() *KindProgress {
	p := &KindProgress{}
	p.setState(StateIdle)
	return p
}

func (p *KindProgress) start(mode Mode, repositories int) {
	m := string(mode)
	p.mode.Store(&m)
	p.repositoriesTotal.Store(int64(repositories))
	p.repositoriesCompleted.Store(0)
	p.filesTotal.Store(0)
	p.filesProcessed.Store(0)
	p.startedAt.Store(time.Now().UnixNano())
	p.isRunning.Store(true)
}

func (p *KindProgress) finish() {
	p.setState(StateIdle)
	empty := ""
	p.currentRepository.Store(&empty)
	p.isRunning.Store(false)
}

func (p *KindProgress) setState(s RepoState) {
	v := string(s)
	p.state.Store(&v)
}

func (p *KindProgress) setRepository(name string) {
	p.currentRepository.Store(&name)
}

func (p *KindProgress) repositoryDone() {
	p.repositoriesCompleted.Add(1)
}

func (p *KindProgress) addFileTotal(n int) {
	p.filesTotal.Add(int64(n))
}

func (p *KindProgress) fileProcessed() {
	p.filesProcessed.Add(1)
}

// Snapshot returns the current progress.
func (p *KindProgress) Snapshot() ProgressSnapshot {
	snap := ProgressSnapshot{
		IsRunning:             p.isRunning.Load(),
		RepositoriesTotal:     int(p.repositoriesTotal.Load()),
		RepositoriesCompleted: int(p.repositoriesCompleted.Load()),
		FilesTotal:            int(p.filesTotal.Load()),
		FilesProcessed:        int(p.filesProcessed.Load()),
	}
	if m := p.mode.Load(); m != nil {
		snap.Mode = *m
	}
	if s := p.state.Load(); s != nil {
		snap.State = *s
	}
	if r := p.currentRepository.Load(); r != nil {
		snap.CurrentRepository = *r
	}
	if started := p.startedAt.Load(); started > 0 && snap.IsRunning {
		snap.ElapsedSeconds = time.Since(time.Unix(0, started)).Seconds()
	}
	return snap
}
