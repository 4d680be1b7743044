package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// globals holds the persistent flags
type globals struct {
	configPath string
	dbPath     string
	logLevel   string
	trace      bool
	metrics    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "codegraph",
		Short:         "Index source code into a resolved call and import graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file (default $CODEGRAPH_CONFIG)")
	root.PersistentFlags().StringVarP(&g.dbPath, "db", "d", "", "Path to the graph database (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "Export OpenTelemetry spans to stderr")
	root.PersistentFlags().BoolVar(&g.metrics, "metrics", false, "Export OpenTelemetry metrics to stderr on exit")

	root.AddCommand(newIndexCmd(g), newStatusCmd(g), newServeCmd(g), newVersionCmd())
	return root
}

// env is what every command needs once flags are parsed
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	shutdown func(context.Context) error
}

func (g *globals) setup() (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.Storage.Path = g.dbPath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Stdout carries command output and the MCP protocol
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(telemetry.Options{Traces: g.trace, Metrics: g.metrics, Writer: os.Stderr})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Storage.Path)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store, shutdown: shutdown}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("failed to close store", "error", err)
	}
	if err := e.shutdown(context.Background()); err != nil {
		e.logger.Warn("failed to flush telemetry", "error", err)
	}
}

func openStore(path string) (storage.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return store, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
