package storage

import (
	"context"
	"time"

	"github.com/dshills/codegraph/pkg/types"
)

// Store persists the code graph. Exactly one write transaction is in flight
// at a time; batch methods are atomic on their own and can be grouped with
// BeginTx.
type Store interface {
	// Batch writes (upsert by id)
	InsertNodesBatch(ctx context.Context, nodes []types.Node) error
	InsertEdgesBatch(ctx context.Context, edges []types.Edge) error
	InsertOccurrencesBatch(ctx context.Context, occurrences []types.Occurrence) error
	InsertErrorsBatch(ctx context.Context, errs []types.ErrorInfo) error

	// Reads
	GetNode(ctx context.Context, id types.NodeID) (*types.Node, error)
	GetNodes(ctx context.Context, filter NodeFilter) ([]types.Node, error)
	GetEdges(ctx context.Context, filter EdgeFilter) ([]types.Edge, error)
	GetOccurrences(ctx context.Context, filter OccurrenceFilter) ([]types.Occurrence, error)
	GetErrors(ctx context.Context, filter ErrorFilter) ([]types.ErrorInfo, error)

	// Resolution support
	UnresolvedEdges(ctx context.Context, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error)
	ApplyResolutionUpdates(ctx context.Context, updates []ResolvedEdgeUpdate) error
	ResetStaleResolutions(ctx context.Context, query StaleQuery) (int, error)
	CountUnresolved(ctx context.Context, kind types.EdgeKind) (int, error)

	// File operations
	UpsertFile(ctx context.Context, file *FileRecord) error
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	ListFiles(ctx context.Context) ([]*FileRecord, error)
	DeleteFileProjection(ctx context.Context, path string) (*RemovalSummary, error)
	DeleteFilesBatch(ctx context.Context, paths []string) (*RemovalSummary, error)
	PruneOrphanNodes(ctx context.Context) (int, error)

	// Status operations
	Stats(ctx context.Context) (*Stats, error)
	// Generation increases after every committed write that may change the
	// node set. Edge, occurrence, error, resolution and file record writes
	// leave it unchanged, so indexes built from nodes stay valid across them.
	Generation() uint64
	// Identity is assigned when the store is opened and never repeats, so
	// it tells apart stores whose generations happen to be equal.
	Identity() string

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a write transaction
type Tx interface {
	Commit() error
	Rollback() error
	Store // Embed Store interface for transaction operations
}

// WithTx runs fn inside a transaction, committing on success
func WithTx(ctx context.Context, s Store, fn func(Store) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// NodeFilter narrows GetNodes. Zero values mean "any".
type NodeFilter struct {
	IDs        []types.NodeID
	Kinds      []types.NodeKind
	FileNodeID *types.NodeID
}

// EdgeFilter narrows GetEdges. Zero values mean "any".
type EdgeFilter struct {
	Kinds          []types.EdgeKind
	FileNodeID     *types.NodeID
	Source         *types.NodeID
	UnresolvedOnly bool
}

// OccurrenceFilter narrows GetOccurrences
type OccurrenceFilter struct {
	ElementID  *types.NodeID
	FileNodeID *types.NodeID
}

// ErrorFilter narrows GetErrors
type ErrorFilter struct {
	FileID    *types.NodeID
	FatalOnly bool
	Limit     int
}

// Scope limits resolution to a caller-context window. An edge is in scope
// when its file is listed, or its target node id is listed, or its target's
// serialized name is listed, or the last segment of that name is listed. An
// empty Scope covers the whole graph.
type Scope struct {
	FileIDs        []types.NodeID
	TargetIDs      []types.NodeID
	TargetNames    []string
	TargetSegments []string
}

// IsEmpty reports whether the scope is unrestricted
func (s Scope) IsEmpty() bool {
	return len(s.FileIDs) == 0 && len(s.TargetIDs) == 0 &&
		len(s.TargetNames) == 0 && len(s.TargetSegments) == 0
}

// UnresolvedEdgeRow is the projection of a provisional edge that the
// resolution engine works on
type UnresolvedEdgeRow struct {
	EdgeID     types.EdgeID
	Source     types.NodeID
	Target     types.NodeID
	FileNodeID *types.NodeID
	// FilePath is the workspace-relative path of the owning file, empty
	// when the edge has none
	FilePath            string
	CallerQualifiedName string
	TargetName          string
	CallsiteIdentity    string
}

// ResolvedEdgeUpdate carries the outcome of resolving one edge. A nil
// ResolvedTarget leaves the edge unresolved while recording candidates.
type ResolvedEdgeUpdate struct {
	EdgeID           types.EdgeID
	ResolvedSource   *types.NodeID
	ResolvedTarget   *types.NodeID
	Confidence       *float64
	Certainty        *types.Certainty
	CandidateTargets []types.NodeID
}

// StaleQuery selects resolved edges that must be reconsidered
type StaleQuery struct {
	Kind           types.EdgeKind
	Scope          Scope
	CandidateKinds []types.NodeKind
	// ConfidenceFloor retracts resolutions at or below it when positive
	ConfidenceFloor float64
}

// FileRecord tracks an indexed source file
type FileRecord struct {
	ID          types.NodeID
	Path        string
	Language    string
	ModTime     time.Time
	ContentHash [32]byte
	SizeBytes   int64
	LineCount   int
	Indexed     bool
	Complete    bool
	LastIndexed time.Time
}

// RemovalSummary reports what a file deletion removed
type RemovalSummary struct {
	Files       int
	Nodes       int
	Edges       int
	Occurrences int
	Errors      int
	EdgesReset  int
	// Demoted counts removed definitions that other files still point at.
	// They survive as UNKNOWN placeholders instead of being deleted.
	Demoted       int
	AffectedFiles []types.NodeID
}

// Add accumulates other into s
func (s *RemovalSummary) Add(other *RemovalSummary) {
	if other == nil {
		return
	}
	s.Files += other.Files
	s.Nodes += other.Nodes
	s.Edges += other.Edges
	s.Occurrences += other.Occurrences
	s.Errors += other.Errors
	s.EdgesReset += other.EdgesReset
	s.Demoted += other.Demoted
	s.AffectedFiles = appendUniqueIDs(s.AffectedFiles, other.AffectedFiles...)
}

// Stats contains counts describing the stored graph
type Stats struct {
	Files             int
	Nodes             int
	Edges             int
	Occurrences       int
	Errors            int
	ResolvedEdges     int
	UncertainEdges    int
	UnresolvedCalls   int
	UnresolvedImports int
}

func appendUniqueIDs(dst []types.NodeID, ids ...types.NodeID) []types.NodeID {
	for _, id := range ids {
		found := false
		for _, existing := range dst {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
