package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/index"
	"github.com/codeatlas/codeatlas/internal/output"
	"github.com/codeatlas/codeatlas/internal/store"
	"github.com/codeatlas/codeatlas/pkg/engine"
)

type indexOptions struct {
	repos            []string
	full             bool
	lexicalOnly      bool
	vectorOnly       bool
	overrideExcluded bool
	quiet            bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the search indexes",
		Long: `Index the registered repositories.

By default this is incremental: files whose modification time has not
advanced since the last run are skipped, and files deleted from disk
are removed from the indexes.

Examples:
  codeatlas index
  codeatlas index --repo myproject
  codeatlas index --full
  codeatlas index --lexical-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.repos, "repo", "r", nil, "Restrict to named repositories (repeatable)")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Full rebuild: clear and reindex everything")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Only the BM25 index")
	cmd.Flags().BoolVar(&opts.vectorOnly, "vector-only", false, "Only the vector index")
	cmd.Flags().BoolVar(&opts.overrideExcluded, "override-excluded", false, "Also index locked repositories")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runIndex(ctx context.Context, opts indexOptions) error {
	if opts.lexicalOnly && opts.vectorOnly {
		return fmt.Errorf("--lexical-only and --vector-only are mutually exclusive")
	}

	e, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	kinds := []store.IndexKind{store.KindLexical, store.KindVector}
	if opts.lexicalOnly {
		kinds = []store.IndexKind{store.KindLexical}
	}
	if opts.vectorOnly {
		kinds = []store.IndexKind{store.KindVector}
	}

	mode := index.ModeIncremental
	if opts.full {
		mode = index.ModeFullRebuild
	}

	handle, err := e.Reindex(ctx, index.Job{
		Repositories:     opts.repos,
		Kinds:            kinds,
		Mode:             mode,
		OverrideExcluded: opts.overrideExcluded,
	})
	if err != nil {
		return err
	}

	if !opts.quiet {
		go reportProgress(ctx, e, kinds, handle.Done())
	}

	started := time.Now()
	if err := handle.Wait(); err != nil {
		return err
	}

	if !opts.quiet {
		out := output.New(os.Stdout)
		status, statusErr := e.IndexingStatus(ctx)
		if statusErr == nil {
			var files int
			for _, kind := range kinds {
				files += status.Kinds[kind].FilesProcessed
			}
			out.Successf("indexed %d files in %s", files, time.Since(started).Round(time.Millisecond))
		} else {
			out.Successf("indexing finished in %s", time.Since(started).Round(time.Millisecond))
		}
	}
	return nil
}

// reportProgress polls the per-kind snapshots and drives a progress
// bar until the run completes. Totals grow as scanning discovers files,
// so the bar's max is adjusted on the fly.
func reportProgress(ctx context.Context, e *engine.Engine, kinds []store.IndexKind, done <-chan struct{}) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Indexing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			_ = bar.Finish()
			return
		case <-ticker.C:
			status, err := e.IndexingStatus(ctx)
			if err != nil {
				continue
			}
			var total, processed int
			for _, kind := range kinds {
				snap := status.Kinds[kind]
				total += snap.FilesTotal
				processed += snap.FilesProcessed
			}
			if total > 0 {
				bar.ChangeMax(total)
			}
			_ = bar.Set(processed)
		}
	}
}
