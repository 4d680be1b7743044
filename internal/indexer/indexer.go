package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/events"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/resolution"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/symboltable"
	"github.com/dshills/codegraph/internal/telemetry"
	"github.com/dshills/codegraph/pkg/types"
)

// Config contains configuration for the indexer
type Config struct {
	// Root is joined with relative paths when reading files
	Root        string
	Workers     int   // Number of concurrent parsers (default: runtime.NumCPU())
	BatchSize   int   // Number of files flushed per transaction (default: 20)
	QueueSize   int   // Parsed files buffered ahead of the writer (default: 2 * Workers)
	MaxFileSize int64 // Files larger than this are not parsed; 0 means no limit

	Resolution resolution.Config
	Logger     *slog.Logger
}

// Stats counts what a run did
type Stats struct {
	FilesRequested int `json:"files_requested"`
	FilesIndexed   int `json:"files_indexed"`
	FilesSkipped   int `json:"files_skipped"`
	FilesFailed    int `json:"files_failed"`
	FilesRemoved   int `json:"files_removed"`
	Nodes          int `json:"nodes"`
	Edges          int `json:"edges"`
	Occurrences    int `json:"occurrences"`
	Errors         int `json:"errors"`
	EdgesReset     int `json:"edges_reset"`
	OrphansPruned  int `json:"orphans_pruned"`
}

// RunResult reports one RunIncremental call
type RunResult struct {
	RunID      string                      `json:"run_id"`
	Cancelled  bool                        `json:"cancelled"`
	Stats      Stats                       `json:"stats"`
	Timings    events.IndexingPhaseTimings `json:"timings"`
	Resolution *resolution.Result          `json:"resolution,omitempty"`
	Duration   time.Duration               `json:"duration"`
}

// WorkspaceIndexer coordinates the pipeline: remove -> parse -> flush -> resolve -> prune
type WorkspaceIndexer struct {
	parser *parser.Parser
	engine *resolution.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates a WorkspaceIndexer with defaults applied to cfg
func New(cfg Config) (*WorkspaceIndexer, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolution.Logger == nil {
		cfg.Resolution.Logger = cfg.Logger
	}
	if cfg.Resolution.Workers <= 0 {
		cfg.Resolution.Workers = cfg.Workers
	}

	engine, err := resolution.NewEngine(cfg.Resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution engine: %w", err)
	}
	return &WorkspaceIndexer{
		parser: parser.New(parser.WithLogger(cfg.Logger)),
		engine: engine,
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// run carries the state of one RunIncremental call
type run struct {
	id      string
	store   storage.Store
	sink    events.Sink
	token   *cancel.Token
	table   *symboltable.Table
	logger  *slog.Logger
	result  *RunResult
	scope   *scopeBuilder
	refresh types.RefreshInfo

	// reindexed holds the file ids of FilesToIndex; seeded holds the ids
	// already looked up in the store
	reindexed map[types.NodeID]bool
	seeded    map[types.NodeID]struct{}
}

// RunIncremental removes refresh.FilesToRemove, indexes refresh.FilesToIndex
// and resolves the edges they touch. A cancelled token ends the run with
// RunResult.Cancelled set and a nil error; whatever was flushed before the
// cancellation stays committed.
func (w *WorkspaceIndexer) RunIncremental(ctx context.Context, store storage.Store, refresh types.RefreshInfo, sink events.Sink, token *cancel.Token) (result *RunResult, err error) {
	if err := refresh.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if token == nil {
		token = cancel.New()
	}
	stop := token.WatchContext(ctx)
	defer stop()

	start := time.Now()
	r := &run{
		id:      uuid.NewString(),
		store:   store,
		sink:    sink,
		token:   token,
		table:   symboltable.New(),
		refresh: refresh,
		scope:   newScopeBuilder(),
		seeded:  make(map[types.NodeID]struct{}),
	}
	r.reindexed = make(map[types.NodeID]bool, len(refresh.FilesToIndex))
	for _, p := range refresh.FilesToIndex {
		r.reindexed[types.GenerateID(p)] = true
	}
	r.logger = w.logger.With("run_id", r.id)
	r.result = &RunResult{RunID: r.id}
	r.result.Stats.FilesRequested = len(refresh.FilesToIndex)

	ctx, span := telemetry.StartSpan(ctx, "indexer.run",
		attribute.String("run_id", r.id),
		attribute.Int("files_to_index", len(refresh.FilesToIndex)),
		attribute.Int("files_to_remove", len(refresh.FilesToRemove)))
	outcome := "complete"
	defer func() {
		r.result.Duration = time.Since(start)
		if err != nil {
			outcome = "failed"
		}
		telemetry.RecordRun(ctx, r.result.Duration, outcome)
		telemetry.EndSpan(span, err)
	}()

	// Store writes finish even when ctx is cancelled; cancellation is
	// observed through the token at the checkpoints instead.
	storeCtx := context.WithoutCancel(ctx)

	r.logger.Info("indexing run started",
		"files", len(refresh.FilesToIndex),
		"removed", len(refresh.FilesToRemove))

	if err := w.remove(storeCtx, r); err != nil {
		return nil, w.fail(r, err)
	}

	sink.Publish(events.IndexingStarted{FileCount: len(refresh.FilesToIndex)})

	if err := w.index(ctx, storeCtx, r); err != nil {
		return nil, w.fail(r, err)
	}
	if ctx.Err() != nil {
		token.Cancel()
	}
	if token.IsCancelled() {
		outcome = "cancelled"
		return w.cancelled(r), nil
	}

	cancelled, err := w.resolve(storeCtx, r)
	if err != nil {
		return nil, w.fail(r, err)
	}
	if cancelled {
		outcome = "cancelled"
		return w.cancelled(r), nil
	}

	if err := w.cleanup(storeCtx, r); err != nil {
		return nil, w.fail(r, err)
	}

	duration := time.Since(start)
	sink.Publish(events.IndexingComplete{
		DurationMS:   duration.Milliseconds(),
		PhaseTimings: r.result.Timings,
	})
	r.logger.Info("indexing run complete",
		"indexed", r.result.Stats.FilesIndexed,
		"failed", r.result.Stats.FilesFailed,
		"removed", r.result.Stats.FilesRemoved,
		"resolved_calls", r.result.Timings.ResolvedCalls,
		"resolved_imports", r.result.Timings.ResolvedImports,
		"duration_ms", duration.Milliseconds())
	return r.result, nil
}

// remove deletes the projections of removed files before anything is parsed
func (w *WorkspaceIndexer) remove(ctx context.Context, r *run) (err error) {
	if len(r.refresh.FilesToRemove) == 0 {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "indexer.remove")
	defer func() { telemetry.EndSpan(span, err) }()

	summary, err := r.store.DeleteFilesBatch(ctx, r.refresh.FilesToRemove)
	if err != nil {
		return fmt.Errorf("failed to remove files: %w", err)
	}
	r.result.Stats.FilesRemoved = summary.Files
	r.result.Stats.EdgesReset += summary.EdgesReset
	r.scope.addFiles(summary.AffectedFiles...)
	r.logger.Debug("removed files",
		"files", summary.Files,
		"nodes", summary.Nodes,
		"edges_reset", summary.EdgesReset,
		"affected_files", len(summary.AffectedFiles))
	return nil
}

// seed loads into the symbol table the stored kinds of the placeholders a
// parsed file emitted, so a reference to a definition indexed in an earlier
// run does not write an UNKNOWN node. Only ids not seen before in this run
// are looked up. Nodes owned by files about to be re-indexed are left out:
// their definitions may be gone from the new content.
func (w *WorkspaceIndexer) seed(ctx context.Context, r *run, result *types.IndexResult) error {
	if result == nil {
		return nil
	}
	var ids []types.NodeID
	for i := range result.Nodes {
		n := &result.Nodes[i]
		if n.Kind.IsConcrete() {
			continue
		}
		if _, ok := r.seeded[n.ID]; ok {
			continue
		}
		r.seeded[n.ID] = struct{}{}
		if !r.table.IsConcrete(n.ID) {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	nodes, err := r.store.GetNodes(ctx, storage.NodeFilter{IDs: ids})
	if err != nil {
		return fmt.Errorf("failed to seed symbol table: %w", err)
	}
	kept := nodes[:0]
	for _, n := range nodes {
		if n.FileNodeID != nil && r.reindexed[*n.FileNodeID] {
			continue
		}
		kept = append(kept, n)
	}
	r.table.Seed(kept)
	return nil
}

// resolve runs the resolution engine over the scope touched by this run.
// It reports whether the token stopped it.
func (w *WorkspaceIndexer) resolve(ctx context.Context, r *run) (cancelled bool, err error) {
	timings := &r.result.Timings
	if timings.UnresolvedCallsStart, err = r.store.CountUnresolved(ctx, types.EdgeCall); err != nil {
		return false, fmt.Errorf("failed to count unresolved calls: %w", err)
	}
	if timings.UnresolvedImportsStart, err = r.store.CountUnresolved(ctx, types.EdgeImport); err != nil {
		return false, fmt.Errorf("failed to count unresolved imports: %w", err)
	}

	scope := r.scope.build()
	start := time.Now()
	// A run that touched nothing has nothing to resolve. An empty refresh
	// resolves the whole graph.
	if !scope.IsEmpty() || r.refresh.IsEmpty() {
		res, err := w.engine.Resolve(ctx, r.store, scope, r.token)
		if err != nil {
			return false, err
		}
		r.result.Resolution = res
		if res.CacheRefreshed {
			ms := res.CacheRefresh.Milliseconds()
			timings.CacheRefreshMS = &ms
		}
		timings.ResolvedCalls = res.Resolved(types.EdgeCall)
		timings.ResolvedImports = res.Resolved(types.EdgeImport)
		if res.Cancelled {
			timings.EdgeResolutionMS = time.Since(start).Milliseconds()
			return true, nil
		}
	}
	timings.EdgeResolutionMS = time.Since(start).Milliseconds()

	if timings.UnresolvedCallsEnd, err = r.store.CountUnresolved(ctx, types.EdgeCall); err != nil {
		return false, fmt.Errorf("failed to count unresolved calls: %w", err)
	}
	if timings.UnresolvedImportsEnd, err = r.store.CountUnresolved(ctx, types.EdgeImport); err != nil {
		return false, fmt.Errorf("failed to count unresolved imports: %w", err)
	}
	return false, nil
}

// cleanup prunes placeholders nothing refers to any more
func (w *WorkspaceIndexer) cleanup(ctx context.Context, r *run) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "indexer.cleanup")
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	n, err := r.store.PruneOrphanNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune orphan nodes: %w", err)
	}
	r.result.Stats.OrphansPruned = n
	r.result.Timings.CleanupMS = time.Since(start).Milliseconds()
	return nil
}

func (w *WorkspaceIndexer) cancelled(r *run) *RunResult {
	r.result.Cancelled = true
	r.sink.Publish(events.IndexingFailed{Error: cancel.ErrCancelled.Error()})
	r.logger.Info("indexing run cancelled",
		"indexed", r.result.Stats.FilesIndexed,
		"requested", r.result.Stats.FilesRequested)
	return r.result
}

func (w *WorkspaceIndexer) fail(r *run, err error) error {
	r.sink.Publish(events.IndexingFailed{Error: err.Error()})
	r.logger.Error("indexing run failed", "error", err)
	return err
}
