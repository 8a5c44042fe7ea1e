package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// snippetLen bounds passage text in human output
const snippetLen = 240

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK      int
		category  string
		threshold float64
		noRerank  bool
		expand    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search with optional reranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			req := searcher.Request{
				Query:       args[0],
				TopK:        topK,
				Category:    category,
				ExpandQuery: expand,
			}
			if cmd.Flags().Changed("threshold") {
				req.SimilarityThreshold = &threshold
			}
			if noRerank {
				off := false
				req.Rerank = &off
			}

			resp, err := svc.Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonOutput {
				return printJSON(out, resp)
			}

			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results found")
				return nil
			}
			if resp.SearchQuery != resp.Query {
				fmt.Fprintf(out, "Expanded query: %s\n", resp.SearchQuery)
			}
			if len(resp.Degraded) > 0 {
				fmt.Fprintf(out, "Degraded: %s\n", strings.Join(resp.Degraded, ", "))
			}
			fmt.Fprintf(out, "Found %d result(s) in %s\n\n", len(resp.Results), resp.Duration.Round(time.Millisecond))
			for _, r := range resp.Results {
				printResult(cmd, r)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&topK, "top-k", "k", 0, "Number of results (default from config)")
	f.StringVar(&category, "category", "", "Restrict to one category")
	f.Float64Var(&threshold, "threshold", 0, "Minimum dense similarity")
	f.BoolVar(&noRerank, "no-rerank", false, "Skip the reranker")
	f.BoolVar(&expand, "expand", false, "Rewrite the query before searching")
	return cmd
}

func printResult(cmd *cobra.Command, r types.SearchResult) {
	out := cmd.OutOrStdout()
	channels := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		channels[i] = string(ch)
	}
	fmt.Fprintf(out, "%d. %s [%s] score=%.4f via %s\n", r.Rank, r.Filename, r.Category, r.Score, strings.Join(channels, "+"))
	if section := r.Metadata[types.MetaSection]; section != "" {
		fmt.Fprintf(out, "   section: %s\n", section)
	}
	if ct := r.Metadata[types.MetaContentType]; ct != "" {
		fmt.Fprintf(out, "   %s, chars %s-%s\n", ct, r.Metadata[types.MetaCharStart], r.Metadata[types.MetaCharEnd])
	}
	text := strings.Join(strings.Fields(r.Text), " ")
	if runes := []rune(text); len(runes) > snippetLen {
		text = string(runes[:snippetLen]) + "..."
	}
	fmt.Fprintf(out, "   %s\n\n", text)
}
