package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/events"
	"github.com/dshills/codegraph/internal/mcp"
	"github.com/dshills/codegraph/internal/project"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/telemetry"
)

func newIndexCmd(g *globals) *cobra.Command {
	var (
		force         bool
		includeVendor bool
		quiet         bool
	)
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a workspace, re-parsing only new and changed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			e, err := g.setup()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			sink := events.NewChannelSink(256)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printProgress(cmd.ErrOrStderr(), sink.Events(), quiet)
			}()

			result, err := project.Sync(ctx, e.store, e.cfg, root, project.SyncOptions{
				Force:         force,
				IncludeVendor: includeVendor,
				Sink:          sink,
				Token:         cancel.New(),
				Logger:        e.logger,
			})
			sink.Close()
			<-done
			if dropped := sink.Dropped(); dropped > 0 {
				telemetry.RecordDroppedEvents(ctx, dropped)
			}
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}

			run := result.Run
			out := map[string]interface{}{
				"run_id":          run.RunID,
				"cancelled":       run.Cancelled,
				"files_indexed":   run.Stats.FilesIndexed,
				"files_failed":    run.Stats.FilesFailed,
				"files_removed":   run.Stats.FilesRemoved,
				"files_unchanged": result.Plan.Unchanged,
				"duration_ms":     run.Duration.Milliseconds(),
				"phase_timings":   run.Timings,
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-index every file ignoring stored hashes")
	cmd.Flags().BoolVar(&includeVendor, "include-vendor", false, "Index vendor and node_modules directories")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

// printProgress writes one line per progress event until events closes
func printProgress(w io.Writer, evs <-chan events.Event, quiet bool) {
	for e := range evs {
		if quiet {
			continue
		}
		switch ev := e.(type) {
		case events.IndexingStarted:
			fmt.Fprintf(w, "indexing %d files\n", ev.FileCount)
		case events.IndexingProgress:
			if ev.Current == ev.Total || ev.Current%100 == 0 {
				fmt.Fprintf(w, "  %d/%d\n", ev.Current, ev.Total)
			}
		case events.IndexingComplete:
			fmt.Fprintf(w, "done in %dms\n", ev.DurationMS)
		case events.IndexingFailed:
			fmt.Fprintf(w, "failed: %s\n", ev.Error)
		}
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print graph statistics and unresolved edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read stats: %w", err)
			}
			fatal, err := e.store.GetErrors(cmd.Context(), storage.ErrorFilter{FatalOnly: true})
			if err != nil {
				return fmt.Errorf("failed to read errors: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"database":           e.cfg.Storage.Path,
				"files":              stats.Files,
				"nodes":              stats.Nodes,
				"edges":              stats.Edges,
				"occurrences":        stats.Occurrences,
				"errors":             stats.Errors,
				"fatal_errors":       len(fatal),
				"resolved_edges":     stats.ResolvedEdges,
				"uncertain_edges":    stats.UncertainEdges,
				"unresolved_calls":   stats.UnresolvedCalls,
				"unresolved_imports": stats.UnresolvedImports,
			})
		},
	}
}

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			e.logger.Info("MCP server starting",
				"version", version,
				"build_mode", storage.BuildMode,
				"driver", storage.DriverName,
				"database", e.cfg.Storage.Path)
			err = mcp.NewServer(e.store, e.cfg, e.logger).Serve(ctx)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("server error: %w", err)
			}
			e.logger.Info("MCP server stopped")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "codegraph %s\n", version)
			fmt.Fprintf(w, "Build Time: %s\n", buildTime)
			fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
