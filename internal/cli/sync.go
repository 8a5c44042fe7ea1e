package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/config"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/internal/upstream/localfs"
	"github.com/tharpep/knowledge-base/pkg/types"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		force      bool
		categories []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the index in line with the upstream corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, logger, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			summary, err := svc.Sync(cmd.Context(), syncer.Options{Force: force, Categories: categories})
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if a.flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index every file regardless of change markers")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Limit the sync to these categories (repeatable)")
	return cmd
}

func printSummary(w io.Writer, s *types.SyncSummary) {
	fmt.Fprintf(w, "Processed: %d\n", s.FilesProcessed)
	fmt.Fprintf(w, "Skipped:   %d\n", s.FilesSkipped)
	fmt.Fprintf(w, "Deleted:   %d\n", s.FilesDeleted)
	fmt.Fprintf(w, "Failed:    %d\n", s.FilesFailed)
	fmt.Fprintf(w, "Chunks:    %d\n", s.ChunksWritten)
	fmt.Fprintf(w, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	for _, fe := range s.PerFileErrors {
		fmt.Fprintf(w, "  ! %s (%s): %s\n", fe.Filename, fe.Stage, fe.Error)
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-sync a local corpus whenever its files change",
		Long:  "Watch upstream.local_dir and run a category-scoped sync after each burst of changes.\nOnly available with the localfs upstream.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, cfg, logger, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			if cfg.Upstream.Kind != config.UpstreamLocalFS {
				return fmt.Errorf("watch requires upstream.kind %q, got %q", config.UpstreamLocalFS, cfg.Upstream.Kind)
			}
			corpus, err := localfs.New(cfg.Upstream.LocalDir)
			if err != nil {
				return err
			}
			watcher, err := localfs.NewWatcher(corpus, cfg.Sync.WatchDebounce.Std(), logger.Named("watch"))
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()

			// Catch up before waiting for changes
			if _, err := svc.Sync(ctx, syncer.Options{}); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
				logger.Error("initial sync failed", zap.Error(err))
			}

			logger.Info("watching for changes", zap.String("dir", corpus.Root()))
			for batch := range watcher.Run(ctx) {
				syncBatch(ctx, svc, batch, logger)
			}
			return nil
		},
	}
}

// batchSyncer is the part of the service syncBatch needs
type batchSyncer interface {
	Sync(ctx context.Context, opts syncer.Options) (*types.SyncSummary, error)
}

// syncBatch runs one sync scoped to the categories of the changed ids
func syncBatch(ctx context.Context, svc batchSyncer, ids []string, logger *zap.Logger) {
	categories := batchCategories(ids)
	summary, err := svc.Sync(ctx, syncer.Options{Categories: categories})
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		logger.Info("sync already running, changes will be picked up next time", zap.Strings("files", ids))
	case err != nil:
		logger.Error("sync after change failed", zap.Strings("categories", categories), zap.Error(err))
	default:
		logger.Info("synced changes",
			zap.Strings("categories", categories),
			zap.Int("processed", summary.FilesProcessed),
			zap.Int("deleted", summary.FilesDeleted),
			zap.Int("failed", summary.FilesFailed))
	}
}

// batchCategories returns the sorted distinct categories of ids
func batchCategories(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		cat := localfs.CategoryOf(id)
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}
