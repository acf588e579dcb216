package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/output"
	"github.com/codeatlas/codeatlas/internal/search"
	"github.com/codeatlas/codeatlas/internal/store"
	"github.com/codeatlas/codeatlas/internal/watcher"
	"github.com/codeatlas/codeatlas/pkg/engine"
)

// statusReport is the combined status document for JSON output.
type statusReport struct {
	Indexing engine.IndexingStatus `json:"indexing"`
	Search   search.Stats          `json:"search"`
	Watchers []watcher.Status      `json:"watchers"`
}

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing progress and engine statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runStatus(ctx context.Context, format string) error {
	e, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	indexing, err := e.IndexingStatus(ctx)
	if err != nil {
		return err
	}
	searchStats, err := e.SearchStats(ctx)
	if err != nil {
		return err
	}
	report := statusReport{
		Indexing: indexing,
		Search:   searchStats,
		Watchers: e.WatcherStatus(),
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := output.New(os.Stdout)

	out.Header("Indexing")
	if report.Indexing.IsIndexing {
		out.Println("  a run is in progress")
	} else {
		out.Println("  idle")
	}
	if report.Indexing.LastIndexTime != "" {
		out.Printf("  last completed: %s\n", report.Indexing.LastIndexTime)
	}
	for _, kind := range []store.IndexKind{store.KindLexical, store.KindVector} {
		snap, ok := report.Indexing.Kinds[kind]
		if !ok {
			continue
		}
		out.Printf("  %s: state=%s repos %d/%d files %d/%d\n",
			kind, snap.State,
			snap.RepositoriesCompleted, snap.RepositoriesTotal,
			snap.FilesProcessed, snap.FilesTotal)
	}

	out.Newline()
	out.Header("Search")
	out.Printf("  %d searches, %d ms total\n",
		report.Search.TotalSearches, report.Search.TotalSearchTimeMS)

	if len(report.Watchers) > 0 {
		out.Newline()
		out.Header("Watchers")
		for _, w := range report.Watchers {
			out.Printf("  %s: %s, %d pending, debounce %.0fs\n",
				w.Repository, w.State, w.PendingCount, w.DebounceSeconds)
		}
	}
	return nil
}
