package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/output"
	"github.com/codeatlas/codeatlas/internal/search"
)

type searchOptions struct {
	mode     string
	limit    int
	repos    []string
	types    []string
	folder   string
	minScore float64
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed repositories",
		Long: `Search the indexed repositories.

Hybrid mode (the default) queries both the BM25 and the vector backend
and fuses the two rankings; lexical and semantic query one backend.

Examples:
  codeatlas search "authentication middleware"
  codeatlas search "handleRequest" --mode lexical --limit 5
  codeatlas search "how are errors retried" --mode semantic
  codeatlas search "parse config" --repo backend --type go --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, lexical, semantic")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results (1-100)")
	cmd.Flags().StringSliceVarP(&opts.repos, "repo", "r", nil, "Restrict to named repositories (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.types, "type", "t", nil, "Restrict to file extensions, without dot (repeatable)")
	cmd.Flags().StringVar(&opts.folder, "folder", "", "Restrict to a path prefix inside the repository")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop fused results below this score (hybrid only)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, query string, opts searchOptions) error {
	e, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	req := search.Request{
		Query:        query,
		Limit:        opts.limit,
		Repositories: opts.repos,
		FileTypes:    opts.types,
		FolderFilter: opts.folder,
		MinScore:     opts.minScore,
	}

	var resp *search.Response
	switch opts.mode {
	case "lexical":
		resp, err = e.SearchLexical(ctx, req)
	case "semantic":
		resp, err = e.SearchSemantic(ctx, req)
	case "hybrid":
		resp, err = e.SearchHybrid(ctx, req)
	default:
		return fmt.Errorf("unknown mode %q (want hybrid, lexical, or semantic)", opts.mode)
	}
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(output.New(os.Stdout), resp)
	return nil
}

func printResults(out *output.Writer, resp *search.Response) {
	if resp.Degraded != nil {
		out.Warningf("%s backend unavailable (%s); results from the other backend only",
			resp.Degraded.Backend, resp.Degraded.Reason)
	}

	if resp.TotalResults == 0 {
		out.Println("No results.")
		return
	}

	for i, r := range resp.Results {
		out.Printf("%2d. %s %s\n", i+1, out.Highlight(r.FilePath),
			out.Dim(fmt.Sprintf("(%s, score %.4f)", r.Repository, r.Score)))
		if len(r.MatchedTerms) > 0 {
			out.Printf("    %s\n", out.Dim("matched: "+strings.Join(r.MatchedTerms, ", ")))
		}
		if r.Snippet != "" {
			out.Code(condense(r.Snippet))
		}
	}
	out.Newline()
	out.Printf("%d result(s), mode %s\n", resp.TotalResults, resp.SearchType)
}

// condense collapses a snippet to at most three non-empty lines.
func condense(snippet string) string {
	var lines []string
	for _, line := range strings.Split(snippet, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	return strings.Join(lines, "\n")
}
