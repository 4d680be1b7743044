package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/telemetry"
	"github.com/dshills/codegraph/pkg/types"
)

// Config configures an Engine
type Config struct {
	// Threshold is the confidence at or above which a resolution is certain
	Threshold float64
	// CacheSize bounds the number of cached candidate indexes
	CacheSize int
	// Workers bounds the goroutines scoring edges in one pass
	Workers int
	// Strategies run in order. Defaults to CALL then IMPORT.
	Strategies []Strategy
	Logger     *slog.Logger
}

// Counters break the outcome of a pass down by tier
type Counters struct {
	SameFile   int `json:"same_file"`
	SameModule int `json:"same_module"`
	Global     int `json:"global"`
	Fuzzy      int `json:"fuzzy"`
	Semantic   int `json:"semantic"`
	Ambiguous  int `json:"ambiguous"`
	Unresolved int `json:"unresolved"`
}

func (c *Counters) add(sel Selection) {
	switch sel.Tier {
	case TierSameFile:
		c.SameFile++
	case TierSameModule:
		c.SameModule++
	case TierGlobal:
		c.Global++
	case TierFuzzy:
		c.Fuzzy++
	case TierSemantic:
		c.Semantic++
	default:
		c.Unresolved++
	}
	if sel.Ambiguous {
		c.Ambiguous++
	}
}

// PassResult reports one pass
type PassResult struct {
	Kind       types.EdgeKind `json:"kind"`
	StaleReset int            `json:"stale_reset"`
	Considered int            `json:"considered"`
	Resolved   int            `json:"resolved"`
	Counters   Counters       `json:"counters"`
	Duration   time.Duration  `json:"duration"`
}

// Result reports a Resolve call
type Result struct {
	Passes []PassResult `json:"passes"`
	// CacheRefresh is the time spent building candidate indexes
	CacheRefresh time.Duration `json:"cache_refresh"`
	// CacheRefreshed reports whether any index had to be built
	CacheRefreshed bool `json:"cache_refreshed"`
	// Cancelled is set when the token stopped the run before a pass or
	// before its write. Passes already written stay applied.
	Cancelled bool `json:"cancelled"`
}

// Resolved returns the number of edges of kind resolved in this call
func (r *Result) Resolved(kind types.EdgeKind) int {
	for _, p := range r.Passes {
		if p.Kind == kind {
			return p.Resolved
		}
	}
	return 0
}

// Engine turns provisional edges into resolved edges
type Engine struct {
	strategies []Strategy
	threshold  float64
	workers    int
	cache      *candidateCache
	logger     *slog.Logger
}

// NewEngine creates an Engine with defaults applied to cfg
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = types.DefaultCertaintyThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []Strategy{
			NewCallStrategy(DefaultCallPolicy, nil),
			NewImportStrategy(DefaultImportPolicy),
		}
	}
	cache, err := newCandidateCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		strategies: cfg.Strategies,
		threshold:  cfg.Threshold,
		workers:    cfg.Workers,
		cache:      cache,
		logger:     cfg.Logger,
	}, nil
}

// Resolve runs every strategy's pass over scope. An empty scope covers the
// whole graph. The token is polled before each pass and before each write;
// once cancelled, Resolve returns with Result.Cancelled set and a nil error.
func (e *Engine) Resolve(ctx context.Context, store storage.Store, scope storage.Scope, token *cancel.Token) (*Result, error) {
	result := &Result{}
	for _, strategy := range e.strategies {
		if token.IsCancelled() {
			result.Cancelled = true
			return result, nil
		}
		pass, cancelled, err := e.runPass(ctx, store, scope, strategy, token, result)
		if err != nil {
			return result, err
		}
		if cancelled {
			result.Cancelled = true
			return result, nil
		}
		result.Passes = append(result.Passes, *pass)
	}
	return result, nil
}

func (e *Engine) runPass(ctx context.Context, store storage.Store, scope storage.Scope, strategy Strategy, token *cancel.Token, result *Result) (pass *PassResult, cancelled bool, err error) {
	kind := strategy.EdgeKind()
	ctx, span := telemetry.StartSpan(ctx, "resolution.pass", attribute.String("edge_kind", kind.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	pass = &PassResult{Kind: kind}

	// 1. Retract resolutions that no longer hold
	pass.StaleReset, err = store.ResetStaleResolutions(ctx, storage.StaleQuery{
		Kind:            kind,
		Scope:           scope,
		CandidateKinds:  strategy.CandidateKinds(),
		ConfidenceFloor: strategy.StaleFloor(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to reset stale %s resolutions: %w", kind, err)
	}

	// 2. Discover provisional edges in scope
	rows, err := store.UnresolvedEdges(ctx, kind, scope)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load unresolved %s edges: %w", kind, err)
	}
	pass.Considered = len(rows)

	if len(rows) > 0 {
		// 3. and 4. Candidate lookup and scoring
		refreshStart := time.Now()
		idx, refreshed, err := e.cache.get(ctx, store, strategy.CandidateKinds())
		if err != nil {
			return nil, false, err
		}
		if refreshed {
			result.CacheRefresh += time.Since(refreshStart)
			result.CacheRefreshed = true
		}

		selections, err := e.score(ctx, strategy, idx, rows)
		if err != nil {
			return nil, false, err
		}

		updates := make([]storage.ResolvedEdgeUpdate, 0, len(rows))
		for i, sel := range selections {
			pass.Counters.add(sel)
			if sel.Target == nil {
				continue
			}
			updates = append(updates, e.update(rows[i], sel))
		}

		// 5. One batched write per pass
		if token.IsCancelled() {
			return nil, true, nil
		}
		if len(updates) > 0 {
			if err := store.ApplyResolutionUpdates(ctx, updates); err != nil {
				return nil, false, fmt.Errorf("failed to apply %s resolutions: %w", kind, err)
			}
		}
		pass.Resolved = len(updates)
	}

	pass.Duration = time.Since(start)
	telemetry.RecordResolved(ctx, kind.String(), pass.Resolved)
	span.SetAttributes(
		attribute.Int("considered", pass.Considered),
		attribute.Int("resolved", pass.Resolved),
	)
	e.logger.Debug("resolution pass complete",
		"kind", kind.String(),
		"stale_reset", pass.StaleReset,
		"considered", pass.Considered,
		"resolved", pass.Resolved,
		"ambiguous", pass.Counters.Ambiguous,
		"duration_ms", pass.Duration.Milliseconds())
	return pass, false, nil
}

// score selects a target for every row. Selection is pure, so rows are
// split into chunks scored concurrently.
func (e *Engine) score(ctx context.Context, strategy Strategy, idx *CandidateIndex, rows []storage.UnresolvedEdgeRow) ([]Selection, error) {
	selections := make([]Selection, len(rows))
	workers := e.workers
	if workers > len(rows) {
		workers = len(rows)
	}
	chunk := (len(rows) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(rows); start += chunk {
		lo, hi := start, min(start+chunk, len(rows))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				selections[i] = strategy.Select(idx, rows[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score candidates: %w", err)
	}
	return selections, nil
}

func (e *Engine) update(row storage.UnresolvedEdgeRow, sel Selection) storage.ResolvedEdgeUpdate {
	confidence := sel.Confidence
	certainty := types.CertaintyFromConfidence(&confidence, e.threshold)
	if sel.Ambiguous {
		certainty = types.Ptr(types.CertaintyUncertain)
	}
	return storage.ResolvedEdgeUpdate{
		EdgeID:           row.EdgeID,
		ResolvedSource:   types.Ptr(row.Source),
		ResolvedTarget:   sel.Target,
		Confidence:       &confidence,
		Certainty:        certainty,
		CandidateTargets: sel.Candidates,
	}
}
