// Package engine wires the configuration, stores, indexing
// orchestrator, searcher, and watcher manager into one embeddable
// facade. The CLI is its only in-tree consumer; an HTTP layer would sit
// on top of the same surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeatlas/codeatlas/internal/chunk"
	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/embed"
	"github.com/codeatlas/codeatlas/internal/errors"
	"github.com/codeatlas/codeatlas/internal/index"
	"github.com/codeatlas/codeatlas/internal/logging"
	"github.com/codeatlas/codeatlas/internal/scanner"
	"github.com/codeatlas/codeatlas/internal/search"
	"github.com/codeatlas/codeatlas/internal/store"
	"github.com/codeatlas/codeatlas/internal/watcher"
)

// Data directory layout. Everything lives under Config.DataDir.
const (
	lexicalIndexDir = "lexical.bleve"
	vectorIndexFile = "vectors.hnsw"
	metadataFile    = "metadata.db"
)

// Options configures Open.
type Options struct {
	// DataDir overrides the configured data directory. Empty uses the
	// config file / environment / default resolution order.
	DataDir string

	// Config, when set, is used instead of loading from DataDir.
	Config *config.Config

	// EnableWatcher starts the per-repository filesystem watchers.
	EnableWatcher bool

	Logger *slog.Logger
}

// Engine is the long-lived application object. One process owns one
// Engine; the data-directory lock enforces it.
type Engine struct {
	cfg      *config.Config
	registry *config.RepoRegistry
	logger   *slog.Logger

	lock     *store.DataDirLock
	meta     store.MetadataStore
	lexIdx   store.LexicalIndex
	vecIdx   store.VectorIndex
	embedder embed.Embedder

	orch     *index.Orchestrator
	searcher *search.Searcher
	watchers *watcher.Manager

	vectorPath string
	logClose   func()
}

// Open builds an Engine: loads configuration, locks the data directory,
// opens the three stores, restores the persisted vector index, and
// starts the watcher manager when enabled.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.KindFatal, "load configuration", err)
		}
		cfg = loaded
	}

	lock, err := store.AcquireDataDirLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	logClose := func() {}
	if logger == nil {
		logCfg := logging.DefaultConfig(cfg.DataDir)
		logCfg.Level = cfg.Logging.Level
		logCfg.WriteToStderr = false
		logger, logClose, err = logging.Setup(logCfg)
		if err != nil {
			_ = lock.Release()
			return nil, errors.Wrap(errors.KindFatal, "set up logging", err)
		}
	}

	e := &Engine{
		cfg:        cfg,
		registry:   config.NewRepoRegistry(cfg),
		logger:     logger,
		lock:       lock,
		vectorPath: filepath.Join(cfg.DataDir, vectorIndexFile),
		logClose:   logClose,
	}

	if err := e.openStores(); err != nil {
		e.abortOpen()
		return nil, err
	}
	if err := e.wire(); err != nil {
		e.abortOpen()
		return nil, err
	}

	if opts.EnableWatcher {
		if err := e.watchers.Start(ctx); err != nil {
			e.logger.Warn("some watchers failed to start", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("engine ready",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("repositories", len(e.registry.Repositories())))
	return e, nil
}

func (e *Engine) openStores() error {
	meta, err := store.NewSQLiteMetadataStore(filepath.Join(e.cfg.DataDir, metadataFile))
	if err != nil {
		return err
	}
	e.meta = meta

	lexIdx, err := store.NewBleveLexicalIndex(filepath.Join(e.cfg.DataDir, lexicalIndexDir))
	if err != nil {
		return err
	}
	e.lexIdx = lexIdx

	dims := e.cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embed.Dimensions
	}
	vecIdx, err := store.NewHNSWVectorIndex(store.VectorConfig{Dimensions: dims})
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(e.vectorPath); statErr == nil {
		if loadErr := vecIdx.Load(e.vectorPath); loadErr != nil {
			// A corrupt or mismatched snapshot starts empty; the next
			// full rebuild repopulates it.
			e.logger.Warn("vector index snapshot unusable, starting empty",
				slog.String("path", e.vectorPath),
				slog.String("error", loadErr.Error()))
		}
	}
	e.vecIdx = vecIdx
	return nil
}

func (e *Engine) wire() error {
	e.embedder = embed.Shared()

	chunker := chunk.NewChunker(e.cfg.Search.ChunkSize, e.cfg.Search.ChunkOverlap)
	sc, err := scanner.New()
	if err != nil {
		return err
	}

	e.orch = index.NewOrchestrator(index.Options{
		Registry:        e.registry,
		Scanner:         sc,
		Metadata:        e.meta,
		Lexical:         index.NewLexicalWriter(e.lexIdx),
		Vector:          index.NewVectorWriter(e.vecIdx, e.embedder, chunker, e.cfg.Embeddings.BatchSize),
		VectorIndexPath: e.vectorPath,
		MaxFileBytes:    int64(e.cfg.Search.MaxFileBytes),
		Logger:          e.logger,
	})

	e.searcher = search.NewSearcher(search.Options{
		Lexical:     e.lexIdx,
		Vector:      e.vecIdx,
		Embedder:    e.embedder,
		RRFConstant: e.cfg.Search.RRFConstant,
		Timeout:     time.Duration(e.cfg.Search.TimeoutSeconds) * time.Second,
		Logger:      e.logger,
	})

	e.watchers = watcher.NewManager(watcher.ManagerOptions{
		Registry:  e.registry,
		Submitter: e.orch,
		Debounce:  time.Duration(e.cfg.Watcher.DebounceSeconds) * time.Second,
		Logger:    e.logger,
	})
	return nil
}

// Config returns the loaded configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the repository registry.
func (e *Engine) Registry() *config.RepoRegistry { return e.registry }

// Close shuts the engine down: watchers first, then a cooperative stop
// of any in-flight indexing, then the stores, then the lock.
func (e *Engine) Close() error {
	if e.watchers != nil {
		e.watchers.Stop()
	}
	if e.orch != nil {
		e.orch.Stop()
	}

	var errs []string
	if e.meta != nil && e.searcher != nil {
		if err := e.persistSearchStats(context.Background()); err != nil {
			errs = append(errs, fmt.Sprintf("persist search stats: %v", err))
		}
	}
	if e.vecIdx != nil {
		if err := e.vecIdx.Save(e.vectorPath); err != nil {
			errs = append(errs, fmt.Sprintf("save vector index: %v", err))
		}
	}
	e.closePartial()
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			errs = append(errs, fmt.Sprintf("release lock: %v", err))
		}
	}
	e.logClose()
	if len(errs) > 0 {
		return fmt.Errorf("engine close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// abortOpen unwinds a partially constructed engine.
func (e *Engine) abortOpen() {
	e.closePartial()
	if e.lock != nil {
		_ = e.lock.Release()
	}
	e.logClose()
}

// closePartial closes whichever stores were opened, in reverse order.
func (e *Engine) closePartial() {
	if e.vecIdx != nil {
		_ = e.vecIdx.Close()
		e.vecIdx = nil
	}
	if e.lexIdx != nil {
		_ = e.lexIdx.Close()
		e.lexIdx = nil
	}
	if e.meta != nil {
		_ = e.meta.Close()
		e.meta = nil
	}
}
