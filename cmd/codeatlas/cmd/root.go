// Package cmd provides the CLI commands for CodeAtlas.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/pkg/engine"
	"github.com/codeatlas/codeatlas/pkg/version"
)

var dataDir string

// NewRootCmd creates the root command for the codeatlas CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeatlas",
		Short: "Hybrid code search across your repositories",
		Long: `CodeAtlas indexes registered repositories into a BM25 full-text
index and a dense-vector semantic index, and serves lexical, semantic,
and hybrid (RRF-fused) search over them.

Register repositories with 'codeatlas repos add', build the indexes
with 'codeatlas index', then query with 'codeatlas search'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("codeatlas version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"Data directory (default ~/.codeatlas, env CODEATLAS_DATA_DIR)")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// openEngine opens the engine against the configured data directory.
func openEngine(ctx context.Context, enableWatcher bool) (*engine.Engine, error) {
	return engine.Open(ctx, engine.Options{
		DataDir:       dataDir,
		EnableWatcher: enableWatcher,
	})
}
