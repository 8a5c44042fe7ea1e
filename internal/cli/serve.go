package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/api"
	"github.com/tharpep/knowledge-base/internal/mcp"
	"github.com/tharpep/knowledge-base/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, cfg, logger, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			router := api.NewRouter(api.NewHandler(svc, logger.Named("http")), api.RouterOptions{
				CORSOrigins: cfg.Server.CORSOrigins,
				Timeout:     cfg.Server.WriteTimeout.Std(),
			})
			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout.Std(),
				WriteTimeout: cfg.Server.WriteTimeout.Std(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("shutting down http server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("http server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long:  "Serve the knowledge base tools over MCP on stdin/stdout. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, logger, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = svc.Close() }()

			logger.Info("mcp server starting",
				zap.String("version", a.version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName),
				zap.Bool("vector_extension", storage.VectorExtensionAvailable))

			server := mcp.NewServer(svc, a.version, logger.Named("mcp"))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(ctx)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				logger.Info("received shutdown signal")
			}
			logger.Info("mcp server stopped")
			return nil
		},
	}
}
