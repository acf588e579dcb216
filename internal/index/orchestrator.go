package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeatlas/codeatlas/internal/chunk"
	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/errors"
	"github.com/codeatlas/codeatlas/internal/scanner"
	"github.com/codeatlas/codeatlas/internal/store"
)

// SystemStateLastIndexTime is the system_state key updated when a run
// completes.
const SystemStateLastIndexTime = "last_index_time"

// Job describes one indexing run.
type Job struct {
	// Repositories restricts the run to the named repositories;
	// empty means all registered repositories.
	Repositories []string

	// Kinds is the nonempty set of index kinds to run.
	Kinds []store.IndexKind

	// Mode selects incremental or full rebuild.
	Mode Mode

	// OverrideExcluded also indexes excluded (locked) repositories.
	OverrideExcluded bool
}

// fileWriter is the common surface of LexicalWriter and VectorWriter.
type fileWriter interface {
	Upsert(ctx context.Context, filePath, relPath, repository, content, fileType string) error
	Delete(ctx context.Context, filePath string) error
	Clear(ctx context.Context, repository string) error
}

// Options wires the orchestrator's dependencies.
type Options struct {
	Registry *config.RepoRegistry
	Scanner  *scanner.Scanner
	Metadata store.MetadataStore
	Lexical  *LexicalWriter
	Vector   *VectorWriter

	// VectorIndexPath, when set, is where the vector index is persisted
	// after a run that included the vector kind.
	VectorIndexPath string

	// MaxFileBytes caps scanned file size; larger files are skipped.
	MaxFileBytes int64

	Logger *slog.Logger
}

// RunHandle tracks an in-flight run.
type RunHandle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the run finishes and returns its error.
func (h *RunHandle) Wait() error {
	<-h.done
	return h.err
}

// Done returns a channel closed when the run finishes.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Orchestrator drives indexing runs: it resolves the repository set,
// runs one pipeline per kind concurrently, keeps the metadata store in
// sync with the backends, and records run statistics.
type Orchestrator struct {
	opts     Options
	logger   *slog.Logger
	progress map[store.IndexKind]*KindProgress
	stop     map[store.IndexKind]*atomic.Bool

	mu      sync.Mutex
	running bool
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:   opts,
		logger: logger,
		progress: map[store.IndexKind]*KindProgress{
			store.KindLexical: NewKindProgress(),
			store.KindVector:  NewKindProgress(),
		},
		stop: map[store.IndexKind]*atomic.Bool{
			store.KindLexical: {},
			store.KindVector:  {},
		},
	}
}

// IsRunning reports whether a run is in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Progress returns the progress snapshot for a kind.
func (o *Orchestrator) Progress(kind store.IndexKind) ProgressSnapshot {
	if p, ok := o.progress[kind]; ok {
		return p.Snapshot()
	}
	return ProgressSnapshot{State: string(StateIdle)}
}

// Status returns the per-kind progress snapshots.
func (o *Orchestrator) Status() map[store.IndexKind]ProgressSnapshot {
	out := make(map[store.IndexKind]ProgressSnapshot, len(o.progress))
	for kind, p := range o.progress {
		out[kind] = p.Snapshot()
	}
	return out
}

// StopKind requests cancellation of one kind's pipeline. Workers observe
// the flag between files.
func (o *Orchestrator) StopKind(kind store.IndexKind) {
	if flag, ok := o.stop[kind]; ok {
		flag.Store(true)
	}
}

// Stop requests cancellation of every pipeline.
func (o *Orchestrator) Stop() {
	for _, flag := range o.stop {
		flag.Store(true)
	}
}

// Start validates the job and launches the run in the background. Only
// one run may be in flight at a time.
func (o *Orchestrator) Start(ctx context.Context, job Job) (*RunHandle, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	repos, err := o.resolveRepositories(job)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, errors.Conflict("an indexing run is already in progress")
	}
	o.running = true
	o.mu.Unlock()

	for _, flag := range o.stop {
		flag.Store(false)
	}

	handle := &RunHandle{done: make(chan struct{})}
	go func() {
		defer close(handle.done)
		defer func() {
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
		}()
		handle.err = o.run(ctx, job, repos)
	}()

	return handle, nil
}

// Run executes a job synchronously.
func (o *Orchestrator) Run(ctx context.Context, job Job) error {
	handle, err := o.Start(ctx, job)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func validateJob(job Job) error {
	if len(job.Kinds) == 0 {
		return errors.InvalidArgument("job kinds must be nonempty")
	}
	for _, kind := range job.Kinds {
		if kind != store.KindLexical && kind != store.KindVector {
			return errors.InvalidArgument("invalid index kind: " + string(kind))
		}
	}
	switch job.Mode {
	case ModeIncremental, ModeFullRebuild:
	case "":
		return errors.InvalidArgument("job mode must be set")
	default:
		return errors.InvalidArgument("invalid job mode: " + string(job.Mode))
	}
	return nil
}

// resolveRepositories selects and orders the repositories for the job.
// The registry snapshot is already priority-ordered.
func (o *Orchestrator) resolveRepositories(job Job) ([]config.Repository, error) {
	all := o.opts.Registry.Repositories()

	var requested map[string]bool
	if len(job.Repositories) > 0 {
		requested = make(map[string]bool, len(job.Repositories))
		for _, name := range job.Repositories {
			requested[name] = false
		}
	}

	var out []config.Repository
	for _, repo := range all {
		if requested != nil {
			if _, ok := requested[repo.Name]; !ok {
				continue
			}
			requested[repo.Name] = true
		}
		if !repo.Enabled {
			continue
		}
		if repo.Excluded && !job.OverrideExcluded {
			continue
		}
		out = append(out, repo)
	}

	for name, found := range requested {
		if !found {
			return nil, errors.NotFound("repository", name)
		}
	}

	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, job Job, repos []config.Repository) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range job.Kinds {
		g.Go(func() error {
			return o.runKind(gctx, kind, repos, job.Mode)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if o.opts.VectorIndexPath != "" && jobHasKind(job, store.KindVector) {
		if err := o.opts.Vector.Save(o.opts.VectorIndexPath); err != nil {
			o.logger.Error("failed to persist vector index",
				slog.String("path", o.opts.VectorIndexPath),
				slog.String("error", err.Error()))
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := o.opts.Metadata.PutState(ctx, SystemStateLastIndexTime, now); err != nil {
		o.logger.Warn("failed to record last index time", slog.String("error", err.Error()))
	}
	return nil
}

func jobHasKind(job Job, kind store.IndexKind) bool {
	for _, k := range job.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// runKind runs one kind's pipeline over the repositories in priority
// order. A repository failure is logged and does not stop the run.
func (o *Orchestrator) runKind(ctx context.Context, kind store.IndexKind, repos []config.Repository, mode Mode) error {
	p := o.progress[kind]
	stop := o.stop[kind]

	p.start(mode, len(repos))
	defer p.finish()

	for _, repo := range repos {
		if stop.Load() || ctx.Err() != nil {
			p.setState(StateStopping)
			o.logger.Info("indexing stopped",
				slog.String("kind", string(kind)),
				slog.String("repository", repo.Name))
			return nil
		}

		if err := o.runRepository(ctx, kind, repo, mode, p, stop); err != nil {
			p.setState(StateFailed)
			o.logger.Error("repository indexing failed",
				slog.String("kind", string(kind)),
				slog.String("repository", repo.Name),
				slog.String("error", err.Error()))
			continue
		}
		p.repositoryDone()
	}
	return nil
}

// runRepository runs one (kind, repository) pipeline: optional clear,
// scan + index, deletion sweep, run stats.
func (o *Orchestrator) runRepository(ctx context.Context, kind store.IndexKind, repo config.Repository, mode Mode, p *KindProgress, stop *atomic.Bool) error {
	writer := o.writerFor(kind)
	started := time.Now()

	p.setRepository(repo.Name)

	if mode == ModeFullRebuild {
		if err := writer.Clear(ctx, repo.Name); err != nil {
			return err
		}
		if err := o.opts.Metadata.ClearKind(ctx, repo.Name, kind); err != nil {
			return err
		}
	}

	p.setState(StateScanning)

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()

	results, err := o.opts.Scanner.Scan(scanCtx, o.scanOptions(repo))
	if err != nil {
		return err
	}

	p.setState(StateIndexing)

	var indexed int
	var totalBytes int64
	stopped := false

	for res := range results {
		if res.Error != nil {
			o.logger.Warn("scan error",
				slog.String("repository", repo.Name),
				slog.String("error", res.Error.Error()))
			continue
		}
		if stopped {
			continue
		}
		if stop.Load() {
			stopped = true
			p.setState(StateStopping)
			cancelScan()
			continue
		}

		f := res.File
		if f.IsGenerated {
			continue
		}
		p.addFileTotal(1)

		if mode == ModeIncremental {
			stale, err := o.opts.Metadata.IsStale(ctx, f.AbsPath, f.ModTime, kind)
			if err != nil {
				return err
			}
			if !stale {
				p.fileProcessed()
				continue
			}
		}

		if err := o.indexFile(ctx, writer, kind, repo.Name, f); err != nil {
			// Not recorded in the metadata store; the next run sees the
			// file as stale and retries.
			o.logger.Warn("failed to index file",
				slog.String("kind", string(kind)),
				slog.String("path", f.AbsPath),
				slog.String("error", err.Error()))
		} else {
			indexed++
			totalBytes += f.Size
		}
		p.fileProcessed()
	}

	if stopped {
		return nil
	}

	if err := o.sweepDeleted(ctx, kind, repo.Name, writer); err != nil {
		o.logger.Warn("deletion sweep failed",
			slog.String("kind", string(kind)),
			slog.String("repository", repo.Name),
			slog.String("error", err.Error()))
	}

	p.setState(StateFinalizing)

	if err := o.opts.Metadata.RecordRun(ctx, repo.Name, kind, indexed, time.Since(started).Seconds(), totalBytes, time.Now()); err != nil {
		o.logger.Warn("failed to record run stats",
			slog.String("repository", repo.Name),
			slog.String("error", err.Error()))
	}

	o.logger.Info("repository indexed",
		slog.String("kind", string(kind)),
		slog.String("repository", repo.Name),
		slog.Int("files_indexed", indexed),
		slog.Duration("duration", time.Since(started)))

	return nil
}

// indexFile reads, decodes, and writes one file, then records it in the
// metadata store. The metadata upsert happens-after the backend upsert.
func (o *Orchestrator) indexFile(ctx context.Context, writer fileWriter, kind store.IndexKind, repository string, f *scanner.FileInfo) error {
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return errors.TransientIO(f.AbsPath, err)
	}

	content := chunk.Decode(data, int(o.maxFileBytes()))
	if err := writer.Upsert(ctx, f.AbsPath, f.Path, repository, content, fileTypeOf(f)); err != nil {
		return err
	}

	return o.opts.Metadata.Upsert(ctx, f.AbsPath, repository, f.ModTime, f.Size, kind, time.Now())
}

// sweepDeleted removes files that are still recorded for this
// (repository, kind) but no longer exist on disk. A record that covers
// both kinds is purged from both backends, since the file itself is gone.
func (o *Orchestrator) sweepDeleted(ctx context.Context, kind store.IndexKind, repository string, writer fileWriter) error {
	it, err := o.opts.Metadata.ListIndexed(ctx, repository, kind)
	if err != nil {
		return err
	}

	type doomed struct {
		path string
		both bool
	}
	var missing []doomed
	for it.Next() {
		rec := it.Record()
		if _, err := os.Stat(rec.FilePath); os.IsNotExist(err) {
			missing = append(missing, doomed{path: rec.FilePath, both: rec.IndexKind == store.KindBoth})
		}
	}
	iterErr := it.Err()
	if closeErr := it.Close(); iterErr == nil {
		iterErr = closeErr
	}
	if iterErr != nil {
		return iterErr
	}

	other := o.writerFor(otherKind(kind))
	for _, d := range missing {
		if err := writer.Delete(ctx, d.path); err != nil {
			o.logger.Warn("failed to delete from backend",
				slog.String("kind", string(kind)),
				slog.String("path", d.path),
				slog.String("error", err.Error()))
			continue
		}
		if d.both {
			if err := other.Delete(ctx, d.path); err != nil {
				o.logger.Warn("failed to delete from backend",
					slog.String("kind", string(otherKind(kind))),
					slog.String("path", d.path),
					slog.String("error", err.Error()))
				continue
			}
		}
		if err := o.opts.Metadata.Delete(ctx, d.path); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) writerFor(kind store.IndexKind) fileWriter {
	if kind == store.KindVector {
		return o.opts.Vector
	}
	return o.opts.Lexical
}

func otherKind(kind store.IndexKind) store.IndexKind {
	if kind == store.KindLexical {
		return store.KindVector
	}
	return store.KindLexical
}

// scanOptions merges global and per-repository patterns.
func (o *Orchestrator) scanOptions(repo config.Repository) *scanner.ScanOptions {
	globalInclude, globalExclude := o.opts.Registry.GlobalPatterns()

	include := repo.IncludePatterns
	if len(include) == 0 {
		include = globalInclude
	}
	exclude := append(append([]string(nil), globalExclude...), repo.ExcludePatterns...)

	return &scanner.ScanOptions{
		RootDir:          repo.Path,
		IncludePatterns:  include,
		ExcludePatterns:  exclude,
		RespectGitignore: true,
		MaxFileSize:      o.maxFileBytes(),
	}
}

func (o *Orchestrator) maxFileBytes() int64 {
	if o.opts.MaxFileBytes > 0 {
		return o.opts.MaxFileBytes
	}
	return 1 << 20
}

// fileTypeOf returns the file_type filter value: the lowercased
// extension without the leading dot, or the detected language for
// extensionless files such as Makefile and Dockerfile.
func fileTypeOf(f *scanner.FileInfo) string {
	ext := filepath.Ext(f.Path)
	if ext == "" {
		return strings.ToLower(f.Language)
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
