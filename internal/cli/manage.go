package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/pkg/types"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonOutput {
				return printJSON(out, stats)
			}

			fmt.Fprintf(out, "Backend:    %s\n", stats.Backend)
			fmt.Fprintf(out, "Embedding:  %s (%d dims)\n", stats.EmbeddingModel, stats.EmbeddingDim)
			fmt.Fprintf(out, "Chunks:     %d\n", stats.TotalChunks)
			fmt.Fprintf(out, "Sources:    %d\n", stats.TotalSources())
			for _, status := range []types.SourceStatus{types.SourceSynced, types.SourceError, types.SourceDeleted} {
				fmt.Fprintf(out, "  %-8s  %d\n", status, stats.SourcesByStatus[status])
			}
			fmt.Fprintf(out, "Index size: %.2f MB\n", stats.IndexSizeMB)

			cats := make([]string, 0, len(stats.ChunksByCategory))
			for c := range stats.ChunksByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			if len(cats) > 0 {
				fmt.Fprintln(out, "Chunks by category:")
				for _, c := range cats {
					fmt.Fprintf(out, "  %-16s %d\n", c, stats.ChunksByCategory[c])
				}
			}
			return nil
		},
	}
}

func newSourcesCmd(a *app) *cobra.Command {
	var status, category string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List tracked sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter storage.SourceFilter
			if status != "" {
				s, err := types.ParseSourceStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}
			filter.Category = category

			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			records, err := svc.ListSources(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonOutput {
				return printJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No sources")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tCATEGORY\tSTATUS\tCHUNKS\tLAST SYNCED")
			for _, r := range records {
				synced := "-"
				if !r.LastSynced.IsZero() {
					synced = r.LastSynced.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.SourceID, r.Category, r.Status, r.ChunkCount, synced)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (synced|error|deleted)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every chunk and source record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the knowledge base without --yes")
			}

			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			if err := svc.Clear(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Knowledge base cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the clear")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source-id>",
		Short: "Remove one source and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			n, err := svc.DeleteSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d chunks)\n", args[0], n)
			return nil
		},
	}
}
