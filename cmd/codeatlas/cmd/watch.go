package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/output"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch auto-reindex repositories and keep the indexes fresh",
		Long: `Run the filesystem watchers in the foreground.

Every enabled repository registered with auto-reindex gets a recursive
watcher; bursts of file changes are coalesced and flushed as an
incremental indexing run after the configured debounce. Stop with
Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := openEngine(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	out := output.New(os.Stdout)
	watchers := e.WatcherStatus()
	if len(watchers) == 0 {
		out.Warning("no repositories have auto_reindex enabled; nothing to watch")
		return nil
	}
	for _, w := range watchers {
		out.Printf("watching %s (debounce %.0fs)\n", out.Highlight(w.Repository), w.DebounceSeconds)
	}

	<-ctx.Done()
	out.Newline()
	out.Success("watchers stopped")
	return nil
}
