package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/config"
	"github.com/tharpep/knowledge-base/internal/kb"
	"github.com/tharpep/knowledge-base/internal/logging"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	jsonOutput bool
}

// app carries the flags and build information into subcommands
type app struct {
	flags   globalFlags
	version string
}

// Execute runs the root command until it returns or a shutdown signal
// arrives
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(version).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:          "knowledge-base",
		Short:        "Hybrid retrieval over a synced document corpus",
		Long:         "knowledge-base keeps a chunk index in sync with an upstream corpus and answers\nhybrid dense and lexical searches over it, over HTTP, MCP or the command line.",
		Version:      version,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Config file (TOML or YAML); defaults to ~/.knowledge-base/config.toml")
	pf.StringVarP(&a.flags.dbPath, "db", "d", "", "SQLite database path, overrides the config file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.BoolVar(&a.flags.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newSyncCmd(a),
		newSearchCmd(a),
		newStatsCmd(a),
		newSourcesCmd(a),
		newClearCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
		newVersionCmd(a),
	)

	root.SetVersionTemplate(fmt.Sprintf("knowledge-base version %s\n", version))
	return root
}

// loadConfig reads configuration and applies flag overrides
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return nil, err
	}
	if a.flags.dbPath != "" {
		path, err := config.ExpandHome(a.flags.dbPath)
		if err != nil {
			return nil, err
		}
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = path
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	return cfg, nil
}

// setup loads configuration and builds the logger
func (a *app) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// openService loads everything a subcommand needs. The caller closes the
// service and syncs the logger.
func (a *app) openService(ctx context.Context) (*kb.Service, *config.Config, *zap.Logger, error) {
	cfg, logger, err := a.setup()
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := kb.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return svc, cfg, logger, nil
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
