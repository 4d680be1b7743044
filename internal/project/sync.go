package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/events"
	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/storage"
)

// SyncOptions tunes Sync
type SyncOptions struct {
	// Force re-indexes every discovered file regardless of its record
	Force bool
	// IncludeVendor descends into vendor directories
	IncludeVendor bool
	Sink          events.Sink
	Token         *cancel.Token
	Logger        *slog.Logger
}

// SyncResult reports a Sync
type SyncResult struct {
	Plan *Plan
	Run  *indexer.RunResult
}

// Sync brings the store up to date with the workspace at root: it
// discovers files, plans the refresh against the file table and runs the
// indexer over the plan.
func Sync(ctx context.Context, store storage.Store, cfg *config.Config, root string, opts SyncOptions) (*SyncResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scanner := NewScanner(cfg.Index.Include, cfg.Index.Exclude)
	scanner.IncludeVendor = opts.IncludeVendor
	files, err := scanner.Discover(root)
	if err != nil {
		return nil, err
	}

	var plan *Plan
	if opts.Force {
		refresh, err := FullRefresh(ctx, store, files)
		if err != nil {
			return nil, err
		}
		plan = &Plan{RefreshInfo: refresh, Changed: len(files)}
	} else {
		plan, err = BuildRefreshPlan(ctx, store, root, files)
		if err != nil {
			return nil, err
		}
	}
	logger.Info("refresh planned",
		"root", root,
		"discovered", len(files),
		"index", len(plan.FilesToIndex),
		"remove", len(plan.FilesToRemove),
		"unchanged", plan.Unchanged)

	idx, err := indexer.New(cfg.IndexerConfig(root, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	run, err := idx.RunIncremental(ctx, store, plan.RefreshInfo, opts.Sink, opts.Token)
	if err != nil {
		return nil, err
	}
	return &SyncResult{Plan: plan, Run: run}, nil
}
