package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/output"
)

func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage registered repositories",
	}

	cmd.AddCommand(newReposListCmd())
	cmd.AddCommand(newReposAddCmd())
	cmd.AddCommand(newReposRemoveCmd())
	cmd.AddCommand(newReposUpdateCmd())
	cmd.AddCommand(newReposBulkCmd("enable-all", config.BulkEnableAll, "Enable every repository"))
	cmd.AddCommand(newReposBulkCmd("disable-all", config.BulkDisableAll, "Disable every repository"))
	cmd.AddCommand(newReposBulkCmd("lock-all", config.BulkLockAll, "Lock every repository (searchable, not reindexed)"))
	cmd.AddCommand(newReposBulkCmd("unlock-all", config.BulkUnlockAll, "Unlock every repository"))

	return cmd
}

func newReposListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories with their index stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReposList(cmd.Context(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runReposList(ctx context.Context, format string) error {
	e, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	infos, err := e.Repositories(ctx)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	out := output.New(os.Stdout)
	if len(infos) == 0 {
		out.Println("No repositories registered. Add one with 'codeatlas repos add'.")
		return nil
	}

	for _, info := range infos {
		flags := ""
		if !info.Enabled {
			flags += " [disabled]"
		}
		if info.Excluded {
			flags += " [locked]"
		}
		if info.Watched {
			flags += " [watched]"
		}
		out.Printf("%s %s%s\n", out.Highlight(info.Name), out.Dim(info.Path), flags)
		out.Printf("    priority %s, %d files tracked\n", info.Priority, info.FileCount)
		for _, st := range info.Stats {
			out.Printf("    %s: %d files, last run %.1fs\n",
				st.IndexKind, st.TotalFilesIndexed, st.LastRunSeconds)
		}
	}
	return nil
}

func newReposAddCmd() *cobra.Command {
	var (
		priority    string
		disabled    bool
		autoReindex bool
		exclude     []string
		include     []string
	)

	cmd := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}

			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.AddRepository(config.Repository{
				Name:            args[0],
				Path:            absPath,
				Enabled:         !disabled,
				Priority:        config.ParsePriority(priority),
				AutoReindex:     autoReindex,
				IncludePatterns: include,
				ExcludePatterns: exclude,
			}); err != nil {
				return err
			}

			output.New(os.Stdout).Successf("registered %s at %s", args[0], absPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", string(config.PriorityMedium), "Indexing priority: high, medium, low")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register without enabling")
	cmd.Flags().BoolVar(&autoReindex, "auto-reindex", false, "Watch the tree and reindex on change")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Include glob patterns (repeatable)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Exclude glob patterns (repeatable)")

	return cmd
}

func newReposRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a repository and purge its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.RemoveRepository(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(os.Stdout).Successf("removed %s (files on disk untouched)", args[0])
			return nil
		},
	}
}

func newReposUpdateCmd() *cobra.Command {
	var (
		enable      bool
		disable     bool
		lock        bool
		unlock      bool
		priority    string
		autoOn      bool
		autoOff     bool
		exclude     []string
		setExcludes bool
	)

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a repository's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return fmt.Errorf("--enable and --disable are mutually exclusive")
			}
			if lock && unlock {
				return fmt.Errorf("--lock and --unlock are mutually exclusive")
			}
			if autoOn && autoOff {
				return fmt.Errorf("--auto-reindex and --no-auto-reindex are mutually exclusive")
			}

			var upd config.RepositoryUpdate
			if enable {
				v := true
				upd.Enabled = &v
			}
			if disable {
				v := false
				upd.Enabled = &v
			}
			if lock {
				v := true
				upd.Excluded = &v
			}
			if unlock {
				v := false
				upd.Excluded = &v
			}
			if priority != "" {
				p := config.ParsePriority(priority)
				upd.Priority = &p
			}
			if autoOn {
				v := true
				upd.AutoReindex = &v
			}
			if autoOff {
				v := false
				upd.AutoReindex = &v
			}
			if setExcludes {
				upd.ExcludePatterns = &exclude
			}

			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			repo, err := e.UpdateRepository(args[0], upd)
			if err != nil {
				return err
			}
			output.New(os.Stdout).Successf("updated %s (enabled=%v locked=%v priority=%s auto_reindex=%v)",
				repo.Name, repo.Enabled, repo.Excluded, repo.Priority, repo.AutoReindex)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "Enable the repository")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable the repository")
	cmd.Flags().BoolVar(&lock, "lock", false, "Lock: keep searchable but skip reindexing")
	cmd.Flags().BoolVar(&unlock, "unlock", false, "Unlock")
	cmd.Flags().StringVar(&priority, "priority", "", "Indexing priority: high, medium, low")
	cmd.Flags().BoolVar(&autoOn, "auto-reindex", false, "Enable the filesystem watcher")
	cmd.Flags().BoolVar(&autoOff, "no-auto-reindex", false, "Disable the filesystem watcher")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Replace exclude patterns (repeatable)")
	cmd.PreRun = func(c *cobra.Command, args []string) {
		setExcludes = c.Flags().Changed("exclude")
	}

	return cmd
}

func newReposBulkCmd(use string, action config.BulkAction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.BulkUpdate(action); err != nil {
				return err
			}
			output.New(os.Stdout).Successf("applied %s", action)
			return nil
		},
	}
}
