package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/myuser/mvccdb/internal/config"
	"github.com/myuser/mvccdb/internal/logging"
	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mvccdb",
	Short:         "Transactional multi-version key-value store with a small SQL front end",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (yaml, toml or json)")
	flags.String("data-dir", "", "Data directory")
	flags.String("engine", "", "Storage engine: memory, log, pebble or sqlite")
	flags.Duration("gc-interval", 0, "Background GC interval (0 disables)")
	flags.Float64("compact-ratio", 0, "Compact the log on open above this garbage ratio")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(execCmd(), shellCmd(), serveCmd(), gcCmd(), recoverCmd(), dumpCmd(), statusCmd(), compactCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every command works with once flags and config are resolved.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *mvcc.MVCC
}

// openEnv loads configuration, opens the configured engine and runs
// recovery. The caller closes env.db.
func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)

	engine, err := openEngine(cfg)
	if err != nil {
		return nil, err
	}
	db, err := mvcc.New(engine, mvcc.WithLogger(logger), mvcc.WithGCInterval(cfg.GCInterval))
	if err != nil {
		engine.Close()
		return nil, err
	}
	logger.Debug("opened database", "engine", cfg.Engine, "data_dir", cfg.DataDir)
	return &env{cfg: cfg, logger: logger, db: db}, nil
}
