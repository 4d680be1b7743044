package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph/internal/events"
	"github.com/dshills/codegraph/internal/intermediate"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/telemetry"
	"github.com/dshills/codegraph/pkg/types"
)

// parsed is what a parser goroutine hands to the writer for one file
type parsed struct {
	path    string
	skipped bool
	record  *storage.FileRecord
	result  *types.IndexResult
}

// index parses FilesToIndex in parallel and flushes the results through a
// single writer. Parsers stop taking files once the token is cancelled; the
// writer still flushes everything it received.
func (w *WorkspaceIndexer) index(ctx, storeCtx context.Context, r *run) (err error) {
	files := r.refresh.FilesToIndex
	if len(files) == 0 {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "indexer.parse", attribute.Int("files", len(files)))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	results := make(chan parsed, w.cfg.QueueSize)

	// Parsers watch parseCtx so a failed writer releases them
	parseCtx, stopParsers := context.WithCancel(ctx)
	defer stopParsers()

	g, gctx := errgroup.WithContext(parseCtx)
	g.SetLimit(w.cfg.Workers)
	var parseErr error
	go func() {
		defer close(results)
		for _, path := range files {
			if r.token.IsCancelled() || gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				return w.parseFile(gctx, r, path, results)
			})
		}
		parseErr = g.Wait()
	}()

	wr := &writer{w: w, r: r, total: len(files), batch: intermediate.New()}
	writeErr := wr.drain(storeCtx, results, stopParsers)

	r.result.Timings.ParseIndexMS = time.Since(start).Milliseconds()
	if writeErr != nil {
		return writeErr
	}
	if parseErr != nil && ctx.Err() == nil && !errors.Is(parseErr, context.Canceled) {
		return fmt.Errorf("failed to parse files: %w", parseErr)
	}
	return nil
}

// parseFile reads and parses one file. Read and adapter failures become
// ErrorInfo records; only an aborted context stops the worker.
func (w *WorkspaceIndexer) parseFile(ctx context.Context, r *run, path string, out chan<- parsed) error {
	if r.token.IsCancelled() {
		return nil
	}
	p := w.parseOne(ctx, r, path)
	if p == nil {
		return nil
	}
	select {
	case out <- *p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WorkspaceIndexer) parseOne(ctx context.Context, r *run, path string) *parsed {
	lang, ok := parser.LanguageForPath(path)
	if !ok {
		return &parsed{path: path, skipped: true}
	}

	fileID := types.GenerateID(path)
	record := &storage.FileRecord{
		ID:          fileID,
		Path:        path,
		Language:    lang.Name,
		LastIndexed: time.Now(),
	}

	info, err := os.Stat(w.fullPath(path))
	if err == nil && w.cfg.MaxFileSize > 0 && info.Size() > w.cfg.MaxFileSize {
		err = fmt.Errorf("file size %d exceeds limit %d", info.Size(), w.cfg.MaxFileSize)
	}
	var source []byte
	if err == nil {
		source, err = os.ReadFile(w.fullPath(path))
	}
	if err != nil {
		r.logger.Warn("failed to read file", "file", path, "error", err)
		return &parsed{path: path, record: record, result: &types.IndexResult{
			Errors: []types.ErrorInfo{{
				Message:   fmt.Sprintf("failed to read %s: %v", path, err),
				FileID:    types.Ptr(fileID),
				IsFatal:   true,
				IndexStep: types.StepCollection,
			}},
		}}
	}
	record.ModTime = info.ModTime()
	record.SizeBytes = info.Size()
	record.ContentHash = sha256.Sum256(source)

	result, err := w.parser.IndexFile(ctx, path, source, lang, r.table)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("failed to index file", "file", path, "error", err)
		return &parsed{path: path, record: record, result: &types.IndexResult{
			Errors: []types.ErrorInfo{{
				Message:   err.Error(),
				FileID:    types.Ptr(fileID),
				IndexStep: types.StepIndexing,
			}},
		}}
	}

	record.Indexed = true
	record.Complete = len(result.Errors) == 0
	record.LineCount = fileLines(result, fileID)
	return &parsed{path: path, record: record, result: result}
}

func (w *WorkspaceIndexer) fullPath(path string) string {
	if filepath.IsAbs(path) || w.cfg.Root == "" {
		return path
	}
	return filepath.Join(w.cfg.Root, filepath.FromSlash(path))
}

// fileLines reads the line count off the FILE node's span
func fileLines(result *types.IndexResult, fileID types.NodeID) int {
	for i := range result.Nodes {
		if result.Nodes[i].ID == fileID && result.Nodes[i].Span != nil {
			return result.Nodes[i].Span.EndLine
		}
	}
	return 0
}

// writer is the single goroutine that owns every store write of the parse
// phase
type writer struct {
	w       *WorkspaceIndexer
	r       *run
	total   int
	current int
	batch   *intermediate.Storage
	paths   []string
	records []*storage.FileRecord
}

// drain consumes results until the channel closes. On a store failure it
// stops the parsers and keeps draining so none of them blocks.
func (wr *writer) drain(ctx context.Context, results <-chan parsed, stopParsers func()) error {
	var failed error
	for p := range results {
		if failed != nil {
			continue
		}
		wr.current++
		wr.r.sink.Publish(events.IndexingProgress{Current: wr.current, Total: wr.total})
		if p.skipped {
			wr.r.result.Stats.FilesSkipped++
			continue
		}
		if err := wr.add(ctx, p); err != nil {
			failed = err
			stopParsers()
			continue
		}
		if len(wr.paths) >= wr.w.cfg.BatchSize {
			if err := wr.flush(ctx); err != nil {
				failed = err
				stopParsers()
			}
		}
	}
	if failed != nil {
		return failed
	}
	return wr.flush(ctx)
}

func (wr *writer) add(ctx context.Context, p parsed) error {
	if err := wr.w.seed(ctx, wr.r, p.result); err != nil {
		return err
	}
	if p.record.Indexed {
		wr.r.result.Stats.FilesIndexed++
	} else {
		wr.r.result.Stats.FilesFailed++
	}
	wr.batch.MergeResolved(intermediate.FromResult(p.result), wr.r.table)
	wr.paths = append(wr.paths, p.path)
	wr.records = append(wr.records, p.record)
	return nil
}

// flush writes the pending batch in one transaction: the previous
// projection of each file is purged, then nodes, edges, occurrences and
// errors are inserted, then the file records.
func (wr *writer) flush(ctx context.Context) error {
	if len(wr.paths) == 0 {
		return nil
	}
	r := wr.r
	start := time.Now()
	var errorFlush time.Duration
	var reset int

	err := storage.WithTx(ctx, r.store, func(tx storage.Store) error {
		for _, path := range wr.paths {
			summary, err := tx.DeleteFileProjection(ctx, path)
			if err != nil {
				return err
			}
			reset += summary.EdgesReset
			r.scope.addFiles(summary.AffectedFiles...)
		}
		if err := tx.InsertNodesBatch(ctx, wr.batch.Nodes); err != nil {
			return err
		}
		if err := tx.InsertEdgesBatch(ctx, wr.batch.Edges); err != nil {
			return err
		}
		if err := tx.InsertOccurrencesBatch(ctx, wr.batch.Occurrences); err != nil {
			return err
		}
		errStart := time.Now()
		if err := tx.InsertErrorsBatch(ctx, wr.batch.Errors); err != nil {
			return err
		}
		errorFlush = time.Since(errStart)
		for _, rec := range wr.records {
			if err := tx.UpsertFile(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to flush %d files: %w", len(wr.paths), err)
	}

	stats := &r.result.Stats
	stats.Nodes += len(wr.batch.Nodes)
	stats.Edges += len(wr.batch.Edges)
	stats.Occurrences += len(wr.batch.Occurrences)
	stats.Errors += len(wr.batch.Errors)
	stats.EdgesReset += reset
	for _, path := range wr.paths {
		r.scope.addFiles(types.GenerateID(path))
	}
	r.scope.addDefinitions(wr.batch.Nodes)

	timings := &r.result.Timings
	timings.ProjectionFlushMS += (time.Since(start) - errorFlush).Milliseconds()
	timings.ErrorFlushMS += errorFlush.Milliseconds()

	telemetry.RecordFilesIndexed(ctx, len(wr.paths))
	r.logger.Debug("flushed batch",
		"files", len(wr.paths),
		"nodes", len(wr.batch.Nodes),
		"edges", len(wr.batch.Edges),
		"duration_ms", time.Since(start).Milliseconds())

	wr.batch.Clear()
	wr.paths = wr.paths[:0]
	wr.records = wr.records[:0]
	return nil
}
