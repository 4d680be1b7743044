package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codegraph/pkg/types"
)

// MemoryStorage implements Store over maps. It mirrors SQLiteStorage
// semantics, including ordering, and is meant for tests and benchmarks.
type MemoryStorage struct {
	mu         sync.RWMutex
	txMu       sync.Mutex // held by the open transaction, if any
	state      *memState
	generation atomic.Uint64
	identity   string
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: newMemState(), identity: uuid.NewString()}
}

type memError struct {
	id   int64
	info types.ErrorInfo
}

type memState struct {
	nodes       map[types.NodeID]types.Node
	edges       map[types.EdgeID]types.Edge
	occurrences map[types.Occurrence]struct{}
	errors      []memError
	nextErrorID int64
	files       map[string]FileRecord
}

func newMemState() *memState {
	return &memState{
		nodes:       make(map[types.NodeID]types.Node),
		edges:       make(map[types.EdgeID]types.Edge),
		occurrences: make(map[types.Occurrence]struct{}),
		files:       make(map[string]FileRecord),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		nodes:       make(map[types.NodeID]types.Node, len(st.nodes)),
		edges:       make(map[types.EdgeID]types.Edge, len(st.edges)),
		occurrences: make(map[types.Occurrence]struct{}, len(st.occurrences)),
		errors:      append([]memError(nil), st.errors...),
		nextErrorID: st.nextErrorID,
		files:       make(map[string]FileRecord, len(st.files)),
	}
	for k, v := range st.nodes {
		c.nodes[k] = v
	}
	for k, v := range st.edges {
		c.edges[k] = v
	}
	for k := range st.occurrences {
		c.occurrences[k] = struct{}{}
	}
	for k, v := range st.files {
		c.files[k] = v
	}
	return c
}

func (s *MemoryStorage) read() *memState {
	return s.state
}

// write applies fn to the committed state, serialized with transactions,
// and advances the generation because fn may change the node set
func (s *MemoryStorage) write(op string, fn func(st *memState) error) error {
	if err := s.update(op, fn); err != nil {
		return err
	}
	s.generation.Add(1)
	return nil
}

// update applies fn like write but leaves the generation alone
func (s *MemoryStorage) update(op string, fn func(st *memState) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.state); err != nil {
		return internalErr(op, err)
	}
	return nil
}

func (s *MemoryStorage) InsertNodesBatch(ctx context.Context, nodes []types.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.write("insert nodes", func(st *memState) error { return st.insertNodes(nodes) })
}

func (s *MemoryStorage) InsertEdgesBatch(ctx context.Context, edges []types.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return s.update("insert edges", func(st *memState) error { return st.insertEdges(edges) })
}

func (s *MemoryStorage) InsertOccurrencesBatch(ctx context.Context, occurrences []types.Occurrence) error {
	if len(occurrences) == 0 {
		return nil
	}
	return s.update("insert occurrences", func(st *memState) error {
		st.insertOccurrences(occurrences)
		return nil
	})
}

func (s *MemoryStorage) InsertErrorsBatch(ctx context.Context, errs []types.ErrorInfo) error {
	if len(errs) == 0 {
		return nil
	}
	return s.update("insert errors", func(st *memState) error {
		st.insertErrors(errs)
		return nil
	})
}

func (s *MemoryStorage) GetNode(ctx context.Context, id types.NodeID) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getNode(id)
}

func (s *MemoryStorage) GetNodes(ctx context.Context, filter NodeFilter) ([]types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getNodes(filter), nil
}

func (s *MemoryStorage) GetEdges(ctx context.Context, filter EdgeFilter) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getEdges(filter), nil
}

func (s *MemoryStorage) GetOccurrences(ctx context.Context, filter OccurrenceFilter) ([]types.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getOccurrences(filter), nil
}

func (s *MemoryStorage) GetErrors(ctx context.Context, filter ErrorFilter) ([]types.ErrorInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getErrors(filter), nil
}

func (s *MemoryStorage) UnresolvedEdges(ctx context.Context, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().unresolvedEdges(kind, scope), nil
}

func (s *MemoryStorage) ApplyResolutionUpdates(ctx context.Context, updates []ResolvedEdgeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.update("apply resolution", func(st *memState) error {
		st.applyResolution(updates)
		return nil
	})
}

func (s *MemoryStorage) ResetStaleResolutions(ctx context.Context, query StaleQuery) (int, error) {
	var n int
	err := s.update("reset stale", func(st *memState) error {
		n = st.resetStale(query)
		return nil
	})
	return n, err
}

func (s *MemoryStorage) CountUnresolved(ctx context.Context, kind types.EdgeKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().countUnresolved(kind), nil
}

func (s *MemoryStorage) UpsertFile(ctx context.Context, file *FileRecord) error {
	return s.update("upsert file", func(st *memState) error { return st.upsertFile(file) })
}

func (s *MemoryStorage) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().getFile(path)
}

func (s *MemoryStorage) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().listFiles(), nil
}

func (s *MemoryStorage) DeleteFileProjection(ctx context.Context, path string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := s.write("delete file", func(st *memState) error {
		var err error
		summary, err = st.deleteFileProjection(path)
		return err
	})
	return summary, err
}

func (s *MemoryStorage) DeleteFilesBatch(ctx context.Context, paths []string) (*RemovalSummary, error) {
	if len(paths) == 0 {
		return &RemovalSummary{}, nil
	}
	var summary *RemovalSummary
	err := s.write("delete files", func(st *memState) error {
		var err error
		summary, err = st.deleteFilesBatch(paths)
		return err
	})
	return summary, err
}

func (s *MemoryStorage) PruneOrphanNodes(ctx context.Context) (int, error) {
	var n int
	err := s.write("prune orphans", func(st *memState) error {
		n = st.pruneOrphans()
		return nil
	})
	return n, err
}

func (s *MemoryStorage) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().stats(), nil
}

func (s *MemoryStorage) Generation() uint64 {
	return s.generation.Load()
}

// Identity returns the id assigned by NewMemoryStorage
func (s *MemoryStorage) Identity() string {
	return s.identity
}

func (s *MemoryStorage) Close() error {
	return nil
}

// BeginTx blocks until no other transaction is open, then works on a
// private copy of the state that Commit swaps in.
func (s *MemoryStorage) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, internalErr("begin", err)
	}
	s.txMu.Lock()
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return &memoryTx{storage: s, state: snapshot}, nil
}

// memoryTx is a copy-on-write transaction over MemoryStorage
type memoryTx struct {
	storage *MemoryStorage
	state   *memState
	dirty   bool
	done    bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return invalidArgument("commit", "transaction already finished")
	}
	t.done = true
	t.storage.mu.Lock()
	t.storage.state = t.state
	t.storage.mu.Unlock()
	if t.dirty {
		t.storage.generation.Add(1)
	}
	t.storage.txMu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.storage.txMu.Unlock()
	return nil
}

func (t *memoryTx) write(op string, fn func(st *memState) error) error {
	if err := t.update(op, fn); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *memoryTx) update(op string, fn func(st *memState) error) error {
	if t.done {
		return invalidArgument(op, "transaction already finished")
	}
	return internalErr(op, fn(t.state))
}

func (t *memoryTx) InsertNodesBatch(ctx context.Context, nodes []types.Node) error {
	return t.write("insert nodes", func(st *memState) error { return st.insertNodes(nodes) })
}

func (t *memoryTx) InsertEdgesBatch(ctx context.Context, edges []types.Edge) error {
	return t.update("insert edges", func(st *memState) error { return st.insertEdges(edges) })
}

func (t *memoryTx) InsertOccurrencesBatch(ctx context.Context, occurrences []types.Occurrence) error {
	return t.update("insert occurrences", func(st *memState) error {
		st.insertOccurrences(occurrences)
		return nil
	})
}

func (t *memoryTx) InsertErrorsBatch(ctx context.Context, errs []types.ErrorInfo) error {
	return t.update("insert errors", func(st *memState) error {
		st.insertErrors(errs)
		return nil
	})
}

func (t *memoryTx) GetNode(ctx context.Context, id types.NodeID) (*types.Node, error) {
	return t.state.getNode(id)
}

func (t *memoryTx) GetNodes(ctx context.Context, filter NodeFilter) ([]types.Node, error) {
	return t.state.getNodes(filter), nil
}

func (t *memoryTx) GetEdges(ctx context.Context, filter EdgeFilter) ([]types.Edge, error) {
	return t.state.getEdges(filter), nil
}

func (t *memoryTx) GetOccurrences(ctx context.Context, filter OccurrenceFilter) ([]types.Occurrence, error) {
	return t.state.getOccurrences(filter), nil
}

func (t *memoryTx) GetErrors(ctx context.Context, filter ErrorFilter) ([]types.ErrorInfo, error) {
	return t.state.getErrors(filter), nil
}

func (t *memoryTx) UnresolvedEdges(ctx context.Context, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error) {
	return t.state.unresolvedEdges(kind, scope), nil
}

func (t *memoryTx) ApplyResolutionUpdates(ctx context.Context, updates []ResolvedEdgeUpdate) error {
	return t.update("apply resolution", func(st *memState) error {
		st.applyResolution(updates)
		return nil
	})
}

func (t *memoryTx) ResetStaleResolutions(ctx context.Context, query StaleQuery) (int, error) {
	var n int
	err := t.update("reset stale", func(st *memState) error {
		n = st.resetStale(query)
		return nil
	})
	return n, err
}

func (t *memoryTx) CountUnresolved(ctx context.Context, kind types.EdgeKind) (int, error) {
	return t.state.countUnresolved(kind), nil
}

func (t *memoryTx) UpsertFile(ctx context.Context, file *FileRecord) error {
	return t.update("upsert file", func(st *memState) error { return st.upsertFile(file) })
}

func (t *memoryTx) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	return t.state.getFile(path)
}

func (t *memoryTx) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return t.state.listFiles(), nil
}

func (t *memoryTx) DeleteFileProjection(ctx context.Context, path string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := t.write("delete file", func(st *memState) error {
		var err error
		summary, err = st.deleteFileProjection(path)
		return err
	})
	return summary, err
}

func (t *memoryTx) DeleteFilesBatch(ctx context.Context, paths []string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := t.write("delete files", func(st *memState) error {
		var err error
		summary, err = st.deleteFilesBatch(paths)
		return err
	})
	return summary, err
}

func (t *memoryTx) PruneOrphanNodes(ctx context.Context) (int, error) {
	var n int
	err := t.write("prune orphans", func(st *memState) error {
		n = st.pruneOrphans()
		return nil
	})
	return n, err
}

func (t *memoryTx) Stats(ctx context.Context) (*Stats, error) {
	return t.state.stats(), nil
}

func (t *memoryTx) Generation() uint64 {
	return t.storage.Generation()
}

func (t *memoryTx) Identity() string {
	return t.storage.Identity()
}

func (t *memoryTx) Close() error {
	return nil
}

func (t *memoryTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, invalidArgument("begin", "nested transactions not supported")
}

// State operations shared by the store and its transactions. Validation
// happens before any mutation so a failed call leaves the state unchanged.

func (st *memState) insertNodes(nodes []types.Node) error {
	for i := range nodes {
		if !nodes[i].Kind.IsValid() {
			return invalidArgument("insert nodes", "node %d has invalid kind %d", nodes[i].ID, nodes[i].Kind)
		}
	}
	for _, n := range nodes {
		if existing, ok := st.nodes[n.ID]; ok && existing.Kind.IsConcrete() && !n.Kind.IsConcrete() {
			continue
		}
		st.nodes[n.ID] = copyNode(n)
	}
	return nil
}

func (st *memState) insertEdges(edges []types.Edge) error {
	for i := range edges {
		if !edges[i].Kind.IsValid() {
			return invalidArgument("insert edges", "edge %d has invalid kind %d", edges[i].ID, edges[i].Kind)
		}
	}
	for _, e := range edges {
		st.edges[e.ID] = copyEdge(e)
	}
	return nil
}

func (st *memState) insertOccurrences(occurrences []types.Occurrence) {
	for _, o := range occurrences {
		st.occurrences[o] = struct{}{}
	}
}

func (st *memState) insertErrors(errs []types.ErrorInfo) {
	for _, e := range errs {
		st.nextErrorID++
		st.errors = append(st.errors, memError{id: st.nextErrorID, info: copyError(e)})
	}
}

func (st *memState) getNode(id types.NodeID) (*types.Node, error) {
	n, ok := st.nodes[id]
	if !ok {
		return nil, notFound("get node", "node %d", id)
	}
	c := copyNode(n)
	return &c, nil
}

func (st *memState) getNodes(filter NodeFilter) []types.Node {
	ids := idSet(filter.IDs)
	kinds := make(map[types.NodeKind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds[k] = true
	}

	nodes := make([]types.Node, 0)
	for _, n := range st.nodes {
		if len(ids) > 0 && !ids[n.ID] {
			continue
		}
		if len(kinds) > 0 && !kinds[n.Kind] {
			continue
		}
		if filter.FileNodeID != nil && (n.FileNodeID == nil || *n.FileNodeID != *filter.FileNodeID) {
			continue
		}
		nodes = append(nodes, copyNode(n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func (st *memState) getEdges(filter EdgeFilter) []types.Edge {
	kinds := make(map[types.EdgeKind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds[k] = true
	}

	edges := make([]types.Edge, 0)
	for _, e := range st.edges {
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		if filter.FileNodeID != nil && (e.FileNodeID == nil || *e.FileNodeID != *filter.FileNodeID) {
			continue
		}
		if filter.Source != nil && e.Source != *filter.Source {
			continue
		}
		if filter.UnresolvedOnly && e.ResolvedTarget != nil {
			continue
		}
		edges = append(edges, copyEdge(e))
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}

func (st *memState) getOccurrences(filter OccurrenceFilter) []types.Occurrence {
	occurrences := make([]types.Occurrence, 0)
	for o := range st.occurrences {
		if filter.ElementID != nil && o.ElementID != *filter.ElementID {
			continue
		}
		if filter.FileNodeID != nil && o.Location.FileNodeID != *filter.FileNodeID {
			continue
		}
		occurrences = append(occurrences, o)
	}
	sort.Slice(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if a.Location.FileNodeID != b.Location.FileNodeID {
			return a.Location.FileNodeID < b.Location.FileNodeID
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		if a.Location.StartCol != b.Location.StartCol {
			return a.Location.StartCol < b.Location.StartCol
		}
		if a.ElementID != b.ElementID {
			return a.ElementID < b.ElementID
		}
		return a.Kind < b.Kind
	})
	return occurrences
}

func (st *memState) getErrors(filter ErrorFilter) []types.ErrorInfo {
	errs := make([]types.ErrorInfo, 0)
	for _, e := range st.errors {
		if filter.FileID != nil && (e.info.FileID == nil || *e.info.FileID != *filter.FileID) {
			continue
		}
		if filter.FatalOnly && !e.info.IsFatal {
			continue
		}
		errs = append(errs, copyError(e.info))
		if filter.Limit > 0 && len(errs) == filter.Limit {
			break
		}
	}
	return errs
}

func (st *memState) targetName(e types.Edge) (string, bool) {
	n, ok := st.nodes[e.Target]
	if !ok {
		return "", false
	}
	return n.SerializedName, true
}

func (st *memState) inScope(e types.Edge, scope Scope) bool {
	if scope.IsEmpty() {
		return true
	}
	if e.FileNodeID != nil {
		for _, id := range scope.FileIDs {
			if id == *e.FileNodeID {
				return true
			}
		}
	}
	for _, id := range scope.TargetIDs {
		if id == e.Target {
			return true
		}
	}
	if name, ok := st.targetName(e); ok {
		for _, n := range scope.TargetNames {
			if n == name {
				return true
			}
		}
		if len(scope.TargetSegments) > 0 {
			seg := types.NameSegment(name)
			for _, s := range scope.TargetSegments {
				if s == seg {
					return true
				}
			}
		}
	}
	return false
}

func (st *memState) unresolvedEdges(kind types.EdgeKind, scope Scope) []UnresolvedEdgeRow {
	rows := make([]UnresolvedEdgeRow, 0)
	for _, e := range st.edges {
		if e.Kind != kind || e.ResolvedTarget != nil || !st.inScope(e, scope) {
			continue
		}
		row := UnresolvedEdgeRow{
			EdgeID:           e.ID,
			Source:           e.Source,
			Target:           e.Target,
			FileNodeID:       copyID(e.FileNodeID),
			CallsiteIdentity: e.CallsiteIdentity,
		}
		if e.FileNodeID != nil {
			if file, ok := st.nodes[*e.FileNodeID]; ok {
				row.FilePath = file.SerializedName
			}
		}
		if src, ok := st.nodes[e.Source]; ok {
			row.CallerQualifiedName = src.DisplayName()
		}
		row.TargetName, _ = st.targetName(e)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].EdgeID < rows[j].EdgeID })
	return rows
}

func (st *memState) applyResolution(updates []ResolvedEdgeUpdate) {
	for _, u := range updates {
		e, ok := st.edges[u.EdgeID]
		if !ok {
			continue
		}
		e.ResolvedSource = copyID(u.ResolvedSource)
		e.ResolvedTarget = copyID(u.ResolvedTarget)
		e.Confidence = copyFloat(u.Confidence)
		if u.Certainty != nil {
			c := *u.Certainty
			e.Certainty = &c
		} else {
			e.Certainty = nil
		}
		e.CandidateTargets = copyIDs(u.CandidateTargets)
		st.edges[u.EdgeID] = e
	}
}

func (st *memState) isStale(e types.Edge, query StaleQuery, kinds map[types.NodeKind]bool) bool {
	target, ok := st.nodes[*e.ResolvedTarget]
	if !ok {
		return true
	}
	if e.ResolvedSource == nil || *e.ResolvedSource != e.Source {
		return true
	}
	if len(kinds) > 0 && !kinds[target.Kind] {
		return true
	}
	if query.ConfidenceFloor > 0 {
		confidence := 0.0
		if e.Confidence != nil {
			confidence = *e.Confidence
		}
		if confidence <= query.ConfidenceFloor {
			return true
		}
	}
	return false
}

func (st *memState) resetStale(query StaleQuery) int {
	kinds := make(map[types.NodeKind]bool, len(query.CandidateKinds))
	for _, k := range query.CandidateKinds {
		kinds[k] = true
	}
	n := 0
	for id, e := range st.edges {
		if e.Kind != query.Kind || e.ResolvedTarget == nil || !st.inScope(e, query.Scope) {
			continue
		}
		if st.isStale(e, query, kinds) {
			clearEdge(&e)
			st.edges[id] = e
			n++
		}
	}
	return n
}

func (st *memState) countUnresolved(kind types.EdgeKind) int {
	n := 0
	for _, e := range st.edges {
		if e.Kind == kind && e.ResolvedTarget == nil {
			n++
		}
	}
	return n
}

func (st *memState) upsertFile(file *FileRecord) error {
	if file.Path == "" {
		return invalidArgument("upsert file", "file path is empty")
	}
	if file.ID == 0 {
		file.ID = types.GenerateID(file.Path)
	}
	if file.LastIndexed.IsZero() {
		file.LastIndexed = time.Now()
	}
	st.files[file.Path] = *file
	return nil
}

func (st *memState) getFile(path string) (*FileRecord, error) {
	f, ok := st.files[path]
	if !ok {
		return nil, notFound("get file", "file %s", path)
	}
	return &f, nil
}

func (st *memState) listFiles() []*FileRecord {
	files := make([]*FileRecord, 0, len(st.files))
	for _, f := range st.files {
		f := f
		files = append(files, &f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func (st *memState) deleteFileProjection(path string) (*RemovalSummary, error) {
	if path == "" {
		return nil, invalidArgument("delete file", "file path is empty")
	}
	fileID := types.GenerateID(path)
	summary := &RemovalSummary{}

	removed := make(map[types.NodeID]bool)
	for id, n := range st.nodes {
		if id == fileID || (n.FileNodeID != nil && *n.FileNodeID == fileID) {
			removed[id] = true
		}
	}

	// Reset resolutions elsewhere that point into this file
	affected := make(map[types.NodeID]bool)
	for id, e := range st.edges {
		if e.FileNodeID != nil && *e.FileNodeID == fileID {
			continue
		}
		if !pointsInto(e, removed) {
			continue
		}
		if e.FileNodeID != nil {
			affected[*e.FileNodeID] = true
		}
		clearEdge(&e)
		st.edges[id] = e
		summary.EdgesReset++
	}
	for id := range affected {
		summary.AffectedFiles = append(summary.AffectedFiles, id)
	}
	sort.Slice(summary.AffectedFiles, func(i, j int) bool {
		return summary.AffectedFiles[i] < summary.AffectedFiles[j]
	})

	for id, e := range st.edges {
		owned := e.FileNodeID != nil && *e.FileNodeID == fileID
		dangling := e.FileNodeID == nil && (removed[e.Source] || removed[e.Target])
		if owned || dangling {
			delete(st.edges, id)
			summary.Edges++
		}
	}

	for o := range st.occurrences {
		if o.Location.FileNodeID == fileID {
			delete(st.occurrences, o)
			summary.Occurrences++
		}
	}

	targeted := make(map[types.NodeID]bool)
	for _, e := range st.edges {
		if removed[e.Target] {
			targeted[e.Target] = true
		}
	}
	for id := range removed {
		summary.Nodes++
		if id != fileID && targeted[id] {
			n := st.nodes[id]
			st.nodes[id] = types.Node{ID: id, Kind: types.NodeUnknown, SerializedName: n.SerializedName}
			summary.Demoted++
			continue
		}
		delete(st.nodes, id)
	}

	kept := st.errors[:0]
	for _, e := range st.errors {
		if e.info.FileID != nil && *e.info.FileID == fileID {
			summary.Errors++
			continue
		}
		kept = append(kept, e)
	}
	st.errors = kept

	if _, ok := st.files[path]; ok {
		delete(st.files, path)
		summary.Files++
	}

	return summary, nil
}

func (st *memState) deleteFilesBatch(paths []string) (*RemovalSummary, error) {
	for _, path := range paths {
		if path == "" {
			return nil, invalidArgument("delete files", "file path is empty")
		}
	}
	total := &RemovalSummary{}
	for _, path := range paths {
		summary, err := st.deleteFileProjection(path)
		if err != nil {
			return nil, err
		}
		total.Add(summary)
	}
	return total, nil
}

func (st *memState) pruneOrphans() int {
	referenced := make(map[types.NodeID]bool)
	for _, e := range st.edges {
		referenced[e.Source] = true
		referenced[e.Target] = true
		if e.ResolvedTarget != nil {
			referenced[*e.ResolvedTarget] = true
		}
	}
	for o := range st.occurrences {
		referenced[o.ElementID] = true
	}

	n := 0
	for id, node := range st.nodes {
		if node.FileNodeID != nil || node.Kind == types.NodeFile || referenced[id] {
			continue
		}
		delete(st.nodes, id)
		n++
	}
	return n
}

func (st *memState) stats() *Stats {
	s := &Stats{
		Files:       len(st.files),
		Nodes:       len(st.nodes),
		Edges:       len(st.edges),
		Occurrences: len(st.occurrences),
		Errors:      len(st.errors),
	}
	for _, e := range st.edges {
		if e.ResolvedTarget != nil {
			s.ResolvedEdges++
		}
		if e.Certainty != nil && *e.Certainty == types.CertaintyUncertain {
			s.UncertainEdges++
		}
		if e.ResolvedTarget == nil {
			switch e.Kind {
			case types.EdgeCall:
				s.UnresolvedCalls++
			case types.EdgeImport:
				s.UnresolvedImports++
			}
		}
	}
	return s
}

func pointsInto(e types.Edge, removed map[types.NodeID]bool) bool {
	if e.ResolvedTarget != nil && removed[*e.ResolvedTarget] {
		return true
	}
	for _, c := range e.CandidateTargets {
		if removed[c] {
			return true
		}
	}
	return false
}

func clearEdge(e *types.Edge) {
	e.ResolvedSource = nil
	e.ClearResolution()
}

func idSet(ids []types.NodeID) map[types.NodeID]bool {
	set := make(map[types.NodeID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func copyID(id *types.NodeID) *types.NodeID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyIDs(ids []types.NodeID) []types.NodeID {
	if len(ids) == 0 {
		return nil
	}
	return append([]types.NodeID(nil), ids...)
}

func copyNode(n types.Node) types.Node {
	n.CanonicalID = copyID(n.CanonicalID)
	n.FileNodeID = copyID(n.FileNodeID)
	if n.Span != nil {
		span := *n.Span
		n.Span = &span
	}
	return n
}

func copyEdge(e types.Edge) types.Edge {
	e.FileNodeID = copyID(e.FileNodeID)
	e.Line = copyInt(e.Line)
	e.ResolvedSource = copyID(e.ResolvedSource)
	e.ResolvedTarget = copyID(e.ResolvedTarget)
	e.Confidence = copyFloat(e.Confidence)
	if e.Certainty != nil {
		c := *e.Certainty
		e.Certainty = &c
	}
	e.CandidateTargets = copyIDs(e.CandidateTargets)
	return e
}

func copyError(e types.ErrorInfo) types.ErrorInfo {
	e.FileID = copyID(e.FileID)
	e.Line = copyInt(e.Line)
	e.Column = copyInt(e.Column)
	return e
}

var (
	_ Store = (*MemoryStorage)(nil)
	_ Tx    = (*memoryTx)(nil)
)
