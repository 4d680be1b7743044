package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codegraph/pkg/types"
)

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	generation atomic.Uint64
	identity   string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer. Never read through db while a transaction is open.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, identity: uuid.NewString()}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Generation returns the number of committed writes
func (s *SQLiteStorage) Generation() uint64 {
	return s.generation.Load()
}

// Identity returns the id assigned when this handle was opened
func (s *SQLiteStorage) Identity() string {
	return s.identity
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internalErr("begin", err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// write runs fn in its own transaction so every batch is atomic, then
// advances the generation because fn may change the node set
func (s *SQLiteStorage) write(ctx context.Context, op string, fn func(q querier) error) error {
	if err := s.update(ctx, op, fn); err != nil {
		return err
	}
	s.generation.Add(1)
	return nil
}

// update runs fn in its own transaction without touching the generation
func (s *SQLiteStorage) update(ctx context.Context, op string, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internalErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return internalErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return internalErr(op, err)
	}
	return nil
}

// Node operations

const upsertNodeSQL = `
	INSERT INTO node (id, kind, serialized_name, name_segment, qualified_name, canonical_id, file_node_id,
	                  start_line, start_col, end_line, end_col)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		serialized_name = excluded.serialized_name,
		name_segment = excluded.name_segment,
		qualified_name = excluded.qualified_name,
		canonical_id = excluded.canonical_id,
		file_node_id = excluded.file_node_id,
		start_line = excluded.start_line,
		start_col = excluded.start_col,
		end_line = excluded.end_line,
		end_col = excluded.end_col
	WHERE excluded.kind <> %[1]d OR node.kind = %[1]d
`

func (s *SQLiteStorage) insertNodesWithQuerier(ctx context.Context, q querier, nodes []types.Node) error {
	for i := range nodes {
		if !nodes[i].Kind.IsValid() {
			return invalidArgument("insert nodes", "node %d has invalid kind %d", nodes[i].ID, nodes[i].Kind)
		}
	}

	// A placeholder never overwrites a concrete definition
	stmt, err := q.PrepareContext(ctx, fmt.Sprintf(upsertNodeSQL, int(types.NodeUnknown)))
	if err != nil {
		return fmt.Errorf("failed to prepare node upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, n := range nodes {
		var startLine, startCol, endLine, endCol any
		if n.Span != nil {
			startLine, startCol, endLine, endCol = n.Span.StartLine, n.Span.StartCol, n.Span.EndLine, n.Span.EndCol
		}
		if _, err := stmt.ExecContext(ctx,
			int64(n.ID), int(n.Kind), n.SerializedName, types.NameSegment(n.SerializedName), nullString(n.QualifiedName),
			nullID(n.CanonicalID), nullID(n.FileNodeID),
			startLine, startCol, endLine, endCol,
		); err != nil {
			return fmt.Errorf("failed to upsert node %d: %w", n.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertNodesBatch(ctx context.Context, nodes []types.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.write(ctx, "insert nodes", func(q querier) error {
		return s.insertNodesWithQuerier(ctx, q, nodes)
	})
}

const nodeColumns = `id, kind, serialized_name, qualified_name, canonical_id, file_node_id,
	start_line, start_col, end_line, end_col`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(r rowScanner) (*types.Node, error) {
	var (
		n                   types.Node
		id, kind            int64
		qualified           sql.NullString
		canonical, fileNode sql.NullInt64
		startLine, startCol sql.NullInt64
		endLine, endCol     sql.NullInt64
	)
	if err := r.Scan(&id, &kind, &n.SerializedName, &qualified, &canonical, &fileNode,
		&startLine, &startCol, &endLine, &endCol); err != nil {
		return nil, err
	}
	n.ID = types.NodeID(id)
	n.Kind = types.NodeKind(kind)
	n.QualifiedName = qualified.String
	n.CanonicalID = scanID(canonical)
	n.FileNodeID = scanID(fileNode)
	if startLine.Valid {
		n.Span = &types.Span{
			StartLine: int(startLine.Int64),
			StartCol:  int(startCol.Int64),
			EndLine:   int(endLine.Int64),
			EndCol:    int(endCol.Int64),
		}
	}
	return &n, nil
}

func (s *SQLiteStorage) getNodeWithQuerier(ctx context.Context, q querier, id types.NodeID) (*types.Node, error) {
	row := q.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM node WHERE id = ?", int64(id))
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, notFound("get node", "node %d", id)
	}
	if err != nil {
		return nil, internalErr("get node", err)
	}
	return n, nil
}

func (s *SQLiteStorage) GetNode(ctx context.Context, id types.NodeID) (*types.Node, error) {
	return s.getNodeWithQuerier(ctx, s.querier(), id)
}

func (s *SQLiteStorage) getNodesWithQuerier(ctx context.Context, q querier, filter NodeFilter) ([]types.Node, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.IDs) > 0 {
		where = append(where, "id IN (SELECT value FROM json_each(?))")
		args = append(args, idsJSON(filter.IDs))
	}
	if len(filter.Kinds) > 0 {
		where = append(where, "kind IN (SELECT value FROM json_each(?))")
		args = append(args, kindsJSON(filter.Kinds))
	}
	if filter.FileNodeID != nil {
		where = append(where, "file_node_id = ?")
		args = append(args, int64(*filter.FileNodeID))
	}

	query := "SELECT " + nodeColumns + " FROM node"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("get nodes", err)
	}
	defer func() { _ = rows.Close() }()

	nodes := make([]types.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, internalErr("get nodes", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, internalErr("get nodes", rows.Err())
}

func (s *SQLiteStorage) GetNodes(ctx context.Context, filter NodeFilter) ([]types.Node, error) {
	return s.getNodesWithQuerier(ctx, s.querier(), filter)
}

// Edge operations

const upsertEdgeSQL = `
	INSERT INTO edge (id, source_node_id, target_node_id, kind, file_node_id, line,
	                  resolved_source_node_id, resolved_target_node_id, confidence,
	                  callsite_identity, certainty, candidate_target_node_ids)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_node_id = excluded.source_node_id,
		target_node_id = excluded.target_node_id,
		kind = excluded.kind,
		file_node_id = excluded.file_node_id,
		line = excluded.line,
		resolved_source_node_id = excluded.resolved_source_node_id,
		resolved_target_node_id = excluded.resolved_target_node_id,
		confidence = excluded.confidence,
		callsite_identity = excluded.callsite_identity,
		certainty = excluded.certainty,
		candidate_target_node_ids = excluded.candidate_target_node_ids
`

func (s *SQLiteStorage) insertEdgesWithQuerier(ctx context.Context, q querier, edges []types.Edge) error {
	for i := range edges {
		if !edges[i].Kind.IsValid() {
			return invalidArgument("insert edges", "edge %d has invalid kind %d", edges[i].ID, edges[i].Kind)
		}
	}

	stmt, err := q.PrepareContext(ctx, upsertEdgeSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range edges {
		candidates, err := encodeIDs(e.CandidateTargets)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			int64(e.ID), int64(e.Source), int64(e.Target), int(e.Kind),
			nullID(e.FileNodeID), nullInt(e.Line),
			nullID(e.ResolvedSource), nullID(e.ResolvedTarget), nullFloat(e.Confidence),
			nullString(e.CallsiteIdentity), nullCertainty(e.Certainty), candidates,
		); err != nil {
			return fmt.Errorf("failed to upsert edge %d: %w", e.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertEdgesBatch(ctx context.Context, edges []types.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return s.update(ctx, "insert edges", func(q querier) error {
		return s.insertEdgesWithQuerier(ctx, q, edges)
	})
}

const edgeColumns = `id, source_node_id, target_node_id, kind, file_node_id, line,
	resolved_source_node_id, resolved_target_node_id, confidence,
	callsite_identity, certainty, candidate_target_node_ids`

func scanEdge(r rowScanner) (*types.Edge, error) {
	var (
		e                              types.Edge
		id, source, target, kind       int64
		fileNode, line                 sql.NullInt64
		resolvedSource, resolvedTarget sql.NullInt64
		confidence                     sql.NullFloat64
		callsite, certainty            sql.NullString
		candidates                     sql.NullString
	)
	if err := r.Scan(&id, &source, &target, &kind, &fileNode, &line,
		&resolvedSource, &resolvedTarget, &confidence,
		&callsite, &certainty, &candidates); err != nil {
		return nil, err
	}
	e.ID = types.EdgeID(id)
	e.Source = types.NodeID(source)
	e.Target = types.NodeID(target)
	e.Kind = types.EdgeKind(kind)
	e.FileNodeID = scanID(fileNode)
	if line.Valid {
		e.Line = types.Ptr(int(line.Int64))
	}
	e.ResolvedSource = scanID(resolvedSource)
	e.ResolvedTarget = scanID(resolvedTarget)
	if confidence.Valid {
		e.Confidence = types.Ptr(confidence.Float64)
	}
	e.CallsiteIdentity = callsite.String
	if certainty.Valid {
		c, err := types.ParseCertainty(certainty.String)
		if err != nil {
			return nil, err
		}
		e.Certainty = &c
	}
	if candidates.Valid && candidates.String != "" {
		if err := json.Unmarshal([]byte(candidates.String), &e.CandidateTargets); err != nil {
			return nil, fmt.Errorf("failed to decode candidates of edge %d: %w", id, err)
		}
	}
	return &e, nil
}

func (s *SQLiteStorage) getEdgesWithQuerier(ctx context.Context, q querier, filter EdgeFilter) ([]types.Edge, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Kinds) > 0 {
		kinds := make([]int, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = int(k)
		}
		b, _ := json.Marshal(kinds)
		where = append(where, "kind IN (SELECT value FROM json_each(?))")
		args = append(args, string(b))
	}
	if filter.FileNodeID != nil {
		where = append(where, "file_node_id = ?")
		args = append(args, int64(*filter.FileNodeID))
	}
	if filter.Source != nil {
		where = append(where, "source_node_id = ?")
		args = append(args, int64(*filter.Source))
	}
	if filter.UnresolvedOnly {
		where = append(where, "resolved_target_node_id IS NULL")
	}

	query := "SELECT " + edgeColumns + " FROM edge"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("get edges", err)
	}
	defer func() { _ = rows.Close() }()

	edges := make([]types.Edge, 0)
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, internalErr("get edges", err)
		}
		edges = append(edges, *e)
	}
	return edges, internalErr("get edges", rows.Err())
}

func (s *SQLiteStorage) GetEdges(ctx context.Context, filter EdgeFilter) ([]types.Edge, error) {
	return s.getEdgesWithQuerier(ctx, s.querier(), filter)
}

// Occurrence operations

func (s *SQLiteStorage) insertOccurrencesWithQuerier(ctx context.Context, q querier, occurrences []types.Occurrence) error {
	// Duplicates collapse on the unique index
	stmt, err := q.PrepareContext(ctx, `
		INSERT OR IGNORE INTO occurrence (element_id, kind, file_node_id, start_line, start_col, end_line, end_col)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare occurrence insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range occurrences {
		loc := o.Location
		if _, err := stmt.ExecContext(ctx,
			int64(o.ElementID), int(o.Kind), int64(loc.FileNodeID),
			loc.StartLine, loc.StartCol, loc.EndLine, loc.EndCol,
		); err != nil {
			return fmt.Errorf("failed to insert occurrence of %d: %w", o.ElementID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertOccurrencesBatch(ctx context.Context, occurrences []types.Occurrence) error {
	if len(occurrences) == 0 {
		return nil
	}
	return s.update(ctx, "insert occurrences", func(q querier) error {
		return s.insertOccurrencesWithQuerier(ctx, q, occurrences)
	})
}

func (s *SQLiteStorage) getOccurrencesWithQuerier(ctx context.Context, q querier, filter OccurrenceFilter) ([]types.Occurrence, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ElementID != nil {
		where = append(where, "element_id = ?")
		args = append(args, int64(*filter.ElementID))
	}
	if filter.FileNodeID != nil {
		where = append(where, "file_node_id = ?")
		args = append(args, int64(*filter.FileNodeID))
	}

	query := `SELECT element_id, kind, file_node_id, start_line, start_col, end_line, end_col FROM occurrence`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY file_node_id, start_line, start_col, element_id, kind"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("get occurrences", err)
	}
	defer func() { _ = rows.Close() }()

	occurrences := make([]types.Occurrence, 0)
	for rows.Next() {
		var o types.Occurrence
		var element, kind, file int64
		if err := rows.Scan(&element, &kind, &file,
			&o.Location.StartLine, &o.Location.StartCol, &o.Location.EndLine, &o.Location.EndCol); err != nil {
			return nil, internalErr("get occurrences", err)
		}
		o.ElementID = types.NodeID(element)
		o.Kind = types.OccurrenceKind(kind)
		o.Location.FileNodeID = types.NodeID(file)
		occurrences = append(occurrences, o)
	}
	return occurrences, internalErr("get occurrences", rows.Err())
}

func (s *SQLiteStorage) GetOccurrences(ctx context.Context, filter OccurrenceFilter) ([]types.Occurrence, error) {
	return s.getOccurrencesWithQuerier(ctx, s.querier(), filter)
}

// Error operations

func (s *SQLiteStorage) insertErrorsWithQuerier(ctx context.Context, q querier, errs []types.ErrorInfo) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO error (message, file_id, line, col, fatal, index_step)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare error insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx,
			e.Message, nullID(e.FileID), nullInt(e.Line), nullInt(e.Column), e.IsFatal, string(e.IndexStep),
		); err != nil {
			return fmt.Errorf("failed to insert error: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertErrorsBatch(ctx context.Context, errs []types.ErrorInfo) error {
	if len(errs) == 0 {
		return nil
	}
	return s.update(ctx, "insert errors", func(q querier) error {
		return s.insertErrorsWithQuerier(ctx, q, errs)
	})
}

func (s *SQLiteStorage) getErrorsWithQuerier(ctx context.Context, q querier, filter ErrorFilter) ([]types.ErrorInfo, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.FileID != nil {
		where = append(where, "file_id = ?")
		args = append(args, int64(*filter.FileID))
	}
	if filter.FatalOnly {
		where = append(where, "fatal = 1")
	}

	query := "SELECT message, file_id, line, col, fatal, index_step FROM error"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("get errors", err)
	}
	defer func() { _ = rows.Close() }()

	errs := make([]types.ErrorInfo, 0)
	for rows.Next() {
		var (
			e            types.ErrorInfo
			fileID       sql.NullInt64
			line, column sql.NullInt64
			step         string
		)
		if err := rows.Scan(&e.Message, &fileID, &line, &column, &e.IsFatal, &step); err != nil {
			return nil, internalErr("get errors", err)
		}
		e.FileID = scanID(fileID)
		if line.Valid {
			e.Line = types.Ptr(int(line.Int64))
		}
		if column.Valid {
			e.Column = types.Ptr(int(column.Int64))
		}
		e.IndexStep = types.IndexStep(step)
		errs = append(errs, e)
	}
	return errs, internalErr("get errors", rows.Err())
}

func (s *SQLiteStorage) GetErrors(ctx context.Context, filter ErrorFilter) ([]types.ErrorInfo, error) {
	return s.getErrorsWithQuerier(ctx, s.querier(), filter)
}

// Resolution operations

// scopeClause renders scope as a predicate over the edge table. targetName
// and targetSegment must evaluate to the serialized name and name segment of
// the edge target.
func scopeClause(scope Scope, targetName, targetSegment string) (string, []interface{}) {
	if scope.IsEmpty() {
		return "1", nil
	}
	var (
		parts []string
		args  []interface{}
	)
	if len(scope.FileIDs) > 0 {
		parts = append(parts, "edge.file_node_id IN (SELECT value FROM json_each(?))")
		args = append(args, idsJSON(scope.FileIDs))
	}
	if len(scope.TargetIDs) > 0 {
		parts = append(parts, "edge.target_node_id IN (SELECT value FROM json_each(?))")
		args = append(args, idsJSON(scope.TargetIDs))
	}
	if len(scope.TargetNames) > 0 {
		b, _ := json.Marshal(scope.TargetNames)
		parts = append(parts, targetName+" IN (SELECT value FROM json_each(?))")
		args = append(args, string(b))
	}
	if len(scope.TargetSegments) > 0 {
		b, _ := json.Marshal(scope.TargetSegments)
		parts = append(parts, targetSegment+" IN (SELECT value FROM json_each(?))")
		args = append(args, string(b))
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func (s *SQLiteStorage) unresolvedEdgesWithQuerier(ctx context.Context, q querier, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error) {
	clause, scopeArgs := scopeClause(scope, "tgt.serialized_name", "tgt.name_segment")
	query := `
		SELECT edge.id, edge.source_node_id, edge.target_node_id, edge.file_node_id,
		       COALESCE(fnode.serialized_name, ''),
		       COALESCE(src.qualified_name, src.serialized_name, ''),
		       COALESCE(tgt.serialized_name, ''),
		       COALESCE(edge.callsite_identity, '')
		FROM edge
		LEFT JOIN node src ON src.id = edge.source_node_id
		LEFT JOIN node tgt ON tgt.id = edge.target_node_id
		LEFT JOIN node fnode ON fnode.id = edge.file_node_id
		WHERE edge.kind = ? AND edge.resolved_target_node_id IS NULL AND ` + clause + `
		ORDER BY edge.id
	`
	args := append([]interface{}{int(kind)}, scopeArgs...)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("unresolved edges", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]UnresolvedEdgeRow, 0)
	for rows.Next() {
		var (
			r                  UnresolvedEdgeRow
			id, source, target int64
			fileNode           sql.NullInt64
		)
		if err := rows.Scan(&id, &source, &target, &fileNode, &r.FilePath,
			&r.CallerQualifiedName, &r.TargetName, &r.CallsiteIdentity); err != nil {
			return nil, internalErr("unresolved edges", err)
		}
		r.EdgeID = types.EdgeID(id)
		r.Source = types.NodeID(source)
		r.Target = types.NodeID(target)
		r.FileNodeID = scanID(fileNode)
		result = append(result, r)
	}
	return result, internalErr("unresolved edges", rows.Err())
}

func (s *SQLiteStorage) UnresolvedEdges(ctx context.Context, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error) {
	return s.unresolvedEdgesWithQuerier(ctx, s.querier(), kind, scope)
}

func (s *SQLiteStorage) applyResolutionWithQuerier(ctx context.Context, q querier, updates []ResolvedEdgeUpdate) error {
	stmt, err := q.PrepareContext(ctx, `
		UPDATE edge SET
			resolved_source_node_id = ?,
			resolved_target_node_id = ?,
			confidence = ?,
			certainty = ?,
			candidate_target_node_ids = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare resolution update: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range updates {
		candidates, err := encodeIDs(u.CandidateTargets)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			nullID(u.ResolvedSource), nullID(u.ResolvedTarget), nullFloat(u.Confidence),
			nullCertainty(u.Certainty), candidates, int64(u.EdgeID),
		); err != nil {
			return fmt.Errorf("failed to update edge %d: %w", u.EdgeID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) ApplyResolutionUpdates(ctx context.Context, updates []ResolvedEdgeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.update(ctx, "apply resolution", func(q querier) error {
		return s.applyResolutionWithQuerier(ctx, q, updates)
	})
}

const clearResolutionSQL = `
	resolved_source_node_id = NULL,
	resolved_target_node_id = NULL,
	confidence = NULL,
	certainty = NULL,
	candidate_target_node_ids = NULL
`

func (s *SQLiteStorage) resetStaleWithQuerier(ctx context.Context, q querier, query StaleQuery) (int, error) {
	clause, scopeArgs := scopeClause(query.Scope,
		"(SELECT serialized_name FROM node WHERE node.id = edge.target_node_id)",
		"(SELECT name_segment FROM node WHERE node.id = edge.target_node_id)")

	stale := []string{
		"NOT EXISTS (SELECT 1 FROM node WHERE node.id = edge.resolved_target_node_id)",
		"edge.resolved_source_node_id IS NULL",
		"edge.resolved_source_node_id <> edge.source_node_id",
	}
	var staleArgs []interface{}
	if len(query.CandidateKinds) > 0 {
		stale = append(stale, `(SELECT kind FROM node WHERE node.id = edge.resolved_target_node_id)
			NOT IN (SELECT value FROM json_each(?))`)
		staleArgs = append(staleArgs, kindsJSON(query.CandidateKinds))
	}
	if query.ConfidenceFloor > 0 {
		stale = append(stale, "COALESCE(edge.confidence, 0) <= ?")
		staleArgs = append(staleArgs, query.ConfidenceFloor)
	}

	stmt := `UPDATE edge SET ` + clearResolutionSQL + `
		WHERE edge.kind = ? AND edge.resolved_target_node_id IS NOT NULL
		  AND ` + clause + `
		  AND (` + strings.Join(stale, " OR ") + `)`

	args := []interface{}{int(query.Kind)}
	args = append(args, scopeArgs...)
	args = append(args, staleArgs...)

	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale resolutions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) ResetStaleResolutions(ctx context.Context, query StaleQuery) (int, error) {
	var n int
	err := s.update(ctx, "reset stale", func(q querier) error {
		var err error
		n, err = s.resetStaleWithQuerier(ctx, q, query)
		return err
	})
	return n, err
}

func (s *SQLiteStorage) countUnresolvedWithQuerier(ctx context.Context, q querier, kind types.EdgeKind) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM edge WHERE kind = ? AND resolved_target_node_id IS NULL", int(kind)).Scan(&n)
	if err != nil {
		return 0, internalErr("count unresolved", err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountUnresolved(ctx context.Context, kind types.EdgeKind) (int, error) {
	return s.countUnresolvedWithQuerier(ctx, s.querier(), kind)
}

// File operations

func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *FileRecord) error {
	if file.Path == "" {
		return invalidArgument("upsert file", "file path is empty")
	}
	if file.ID == 0 {
		file.ID = types.GenerateID(file.Path)
	}
	if file.LastIndexed.IsZero() {
		file.LastIndexed = time.Now()
	}
	query := `
		INSERT INTO file (id, path, language, modification_time, content_hash, size_bytes,
		                  line_count, indexed, complete, last_indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id = excluded.id,
			language = excluded.language,
			modification_time = excluded.modification_time,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			line_count = excluded.line_count,
			indexed = excluded.indexed,
			complete = excluded.complete,
			last_indexed_at = excluded.last_indexed_at
	`
	_, err := q.ExecContext(ctx, query,
		int64(file.ID), file.Path, nullString(file.Language), file.ModTime.UTC(), file.ContentHash[:],
		file.SizeBytes, file.LineCount, file.Indexed, file.Complete, file.LastIndexed.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *FileRecord) error {
	return s.update(ctx, "upsert file", func(q querier) error {
		return s.upsertFileWithQuerier(ctx, q, file)
	})
}

const fileColumns = `id, path, language, modification_time, content_hash, size_bytes,
	line_count, indexed, complete, last_indexed_at`

func scanFile(r rowScanner) (*FileRecord, error) {
	var (
		f        FileRecord
		id       int64
		language sql.NullString
		hash     []byte
		modTime  sql.NullTime
		indexed  sql.NullTime
	)
	if err := r.Scan(&id, &f.Path, &language, &modTime, &hash, &f.SizeBytes,
		&f.LineCount, &f.Indexed, &f.Complete, &indexed); err != nil {
		return nil, err
	}
	f.ID = types.NodeID(id)
	f.Language = language.String
	copy(f.ContentHash[:], hash)
	if modTime.Valid {
		f.ModTime = modTime.Time
	}
	if indexed.Valid {
		f.LastIndexed = indexed.Time
	}
	return &f, nil
}

func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, path string) (*FileRecord, error) {
	f, err := scanFile(q.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM file WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, notFound("get file", "file %s", path)
	}
	if err != nil {
		return nil, internalErr("get file", err)
	}
	return f, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	return s.getFileWithQuerier(ctx, s.querier(), path)
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier) ([]*FileRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+fileColumns+" FROM file ORDER BY path")
	if err != nil {
		return nil, internalErr("list files", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, internalErr("list files", err)
		}
		files = append(files, f)
	}
	return files, internalErr("list files", rows.Err())
}

func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return s.listFilesWithQuerier(ctx, s.querier())
}

// deleteFileProjectionWithQuerier removes everything a file contributed.
// Edges elsewhere that resolved to one of its nodes are reset to
// provisional rather than deleted, and their files are reported as affected.
func (s *SQLiteStorage) deleteFileProjectionWithQuerier(ctx context.Context, q querier, path string) (*RemovalSummary, error) {
	if path == "" {
		return nil, invalidArgument("delete file", "file path is empty")
	}
	fileID := int64(types.GenerateID(path))
	summary := &RemovalSummary{}

	rows, err := q.QueryContext(ctx, "SELECT id FROM node WHERE id = ? OR file_node_id = ?", fileID, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect nodes of %s: %w", path, err)
	}
	removed := make([]types.NodeID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		removed = append(removed, types.NodeID(id))
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	removedJSON := idsJSON(removed)

	// Step 1: reset resolutions elsewhere that point into this file
	dependent := `
		(edge.file_node_id IS NULL OR edge.file_node_id <> ?)
		AND (edge.resolved_target_node_id IN (SELECT value FROM json_each(?))
		     OR EXISTS (SELECT 1 FROM json_each(edge.candidate_target_node_ids) c
		                WHERE c.value IN (SELECT value FROM json_each(?))))`
	affected, err := q.QueryContext(ctx,
		"SELECT DISTINCT edge.file_node_id FROM edge WHERE edge.file_node_id IS NOT NULL AND "+dependent+" ORDER BY edge.file_node_id",
		fileID, removedJSON, removedJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to collect affected files: %w", err)
	}
	for affected.Next() {
		var id int64
		if err := affected.Scan(&id); err != nil {
			_ = affected.Close()
			return nil, err
		}
		summary.AffectedFiles = append(summary.AffectedFiles, types.NodeID(id))
	}
	_ = affected.Close()
	if err := affected.Err(); err != nil {
		return nil, err
	}

	res, err := q.ExecContext(ctx, "UPDATE edge SET "+clearResolutionSQL+" WHERE "+dependent,
		fileID, removedJSON, removedJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to reset dependent edges: %w", err)
	}
	summary.EdgesReset = rowsAffected(res)

	// Step 2: edges owned by the file, plus unowned edges touching its nodes
	res, err = q.ExecContext(ctx, `
		DELETE FROM edge WHERE file_node_id = ?
		   OR (file_node_id IS NULL AND (source_node_id IN (SELECT value FROM json_each(?))
		                                 OR target_node_id IN (SELECT value FROM json_each(?))))`,
		fileID, removedJSON, removedJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to delete edges: %w", err)
	}
	summary.Edges = rowsAffected(res)

	res, err = q.ExecContext(ctx, "DELETE FROM occurrence WHERE file_node_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete occurrences: %w", err)
	}
	summary.Occurrences = rowsAffected(res)

	// Definitions still targeted from other files fall back to placeholders
	res, err = q.ExecContext(ctx, `
		UPDATE node SET kind = ?, qualified_name = NULL, canonical_id = NULL, file_node_id = NULL,
		       start_line = NULL, start_col = NULL, end_line = NULL, end_col = NULL
		WHERE file_node_id = ? AND id <> ?
		  AND EXISTS (SELECT 1 FROM edge WHERE edge.target_node_id = node.id)`,
		int(types.NodeUnknown), fileID, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to demote referenced nodes: %w", err)
	}
	summary.Demoted = rowsAffected(res)

	res, err = q.ExecContext(ctx, "DELETE FROM node WHERE id = ? OR file_node_id = ?", fileID, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete nodes: %w", err)
	}
	summary.Nodes = rowsAffected(res) + summary.Demoted

	res, err = q.ExecContext(ctx, "DELETE FROM error WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete errors: %w", err)
	}
	summary.Errors = rowsAffected(res)

	res, err = q.ExecContext(ctx, "DELETE FROM file WHERE path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	summary.Files = rowsAffected(res)

	return summary, nil
}

func (s *SQLiteStorage) DeleteFileProjection(ctx context.Context, path string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := s.write(ctx, "delete file", func(q querier) error {
		var err error
		summary, err = s.deleteFileProjectionWithQuerier(ctx, q, path)
		return err
	})
	return summary, err
}

func (s *SQLiteStorage) deleteFilesBatchWithQuerier(ctx context.Context, q querier, paths []string) (*RemovalSummary, error) {
	total := &RemovalSummary{}
	for _, path := range paths {
		summary, err := s.deleteFileProjectionWithQuerier(ctx, q, path)
		if err != nil {
			return nil, err
		}
		total.Add(summary)
	}
	return total, nil
}

func (s *SQLiteStorage) DeleteFilesBatch(ctx context.Context, paths []string) (*RemovalSummary, error) {
	if len(paths) == 0 {
		return &RemovalSummary{}, nil
	}
	var summary *RemovalSummary
	err := s.write(ctx, "delete files", func(q querier) error {
		var err error
		summary, err = s.deleteFilesBatchWithQuerier(ctx, q, paths)
		return err
	})
	return summary, err
}

func (s *SQLiteStorage) pruneOrphansWithQuerier(ctx context.Context, q querier) (int, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM node
		WHERE file_node_id IS NULL AND kind <> ?
		  AND NOT EXISTS (SELECT 1 FROM edge WHERE edge.source_node_id = node.id)
		  AND NOT EXISTS (SELECT 1 FROM edge WHERE edge.target_node_id = node.id)
		  AND NOT EXISTS (SELECT 1 FROM edge WHERE edge.resolved_target_node_id = node.id)
		  AND NOT EXISTS (SELECT 1 FROM occurrence WHERE occurrence.element_id = node.id)
	`, int(types.NodeFile))
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan nodes: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLiteStorage) PruneOrphanNodes(ctx context.Context) (int, error) {
	var n int
	err := s.write(ctx, "prune orphans", func(q querier) error {
		var err error
		n, err = s.pruneOrphansWithQuerier(ctx, q)
		return err
	})
	return n, err
}

// Status operations

func (s *SQLiteStorage) statsWithQuerier(ctx context.Context, q querier) (*Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM file),
			(SELECT COUNT(*) FROM node),
			(SELECT COUNT(*) FROM edge),
			(SELECT COUNT(*) FROM occurrence),
			(SELECT COUNT(*) FROM error),
			(SELECT COUNT(*) FROM edge WHERE resolved_target_node_id IS NOT NULL),
			(SELECT COUNT(*) FROM edge WHERE certainty = ?),
			(SELECT COUNT(*) FROM edge WHERE kind = ? AND resolved_target_node_id IS NULL),
			(SELECT COUNT(*) FROM edge WHERE kind = ? AND resolved_target_node_id IS NULL)
	`
	var st Stats
	err := q.QueryRowContext(ctx, query,
		string(types.CertaintyUncertain), int(types.EdgeCall), int(types.EdgeImport),
	).Scan(&st.Files, &st.Nodes, &st.Edges, &st.Occurrences, &st.Errors,
		&st.ResolvedEdges, &st.UncertainEdges, &st.UnresolvedCalls, &st.UnresolvedImports)
	if err != nil {
		return nil, internalErr("stats", err)
	}
	return &st, nil
}

func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	return s.statsWithQuerier(ctx, s.querier())
}

// sqliteTx wraps a SQL transaction. Every read goes through the transaction
// because the pool holds a single connection.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
	dirty   bool
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return internalErr("commit", err)
	}
	if t.dirty {
		t.storage.generation.Add(1)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

func (t *sqliteTx) write(op string, fn func(q querier) error) error {
	t.dirty = true
	return t.update(op, fn)
}

func (t *sqliteTx) update(op string, fn func(q querier) error) error {
	return internalErr(op, fn(t.tx))
}

func (t *sqliteTx) InsertNodesBatch(ctx context.Context, nodes []types.Node) error {
	return t.write("insert nodes", func(q querier) error {
		return t.storage.insertNodesWithQuerier(ctx, q, nodes)
	})
}

func (t *sqliteTx) InsertEdgesBatch(ctx context.Context, edges []types.Edge) error {
	return t.update("insert edges", func(q querier) error {
		return t.storage.insertEdgesWithQuerier(ctx, q, edges)
	})
}

func (t *sqliteTx) InsertOccurrencesBatch(ctx context.Context, occurrences []types.Occurrence) error {
	return t.update("insert occurrences", func(q querier) error {
		return t.storage.insertOccurrencesWithQuerier(ctx, q, occurrences)
	})
}

func (t *sqliteTx) InsertErrorsBatch(ctx context.Context, errs []types.ErrorInfo) error {
	return t.update("insert errors", func(q querier) error {
		return t.storage.insertErrorsWithQuerier(ctx, q, errs)
	})
}

func (t *sqliteTx) GetNode(ctx context.Context, id types.NodeID) (*types.Node, error) {
	return t.storage.getNodeWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) GetNodes(ctx context.Context, filter NodeFilter) ([]types.Node, error) {
	return t.storage.getNodesWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) GetEdges(ctx context.Context, filter EdgeFilter) ([]types.Edge, error) {
	return t.storage.getEdgesWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) GetOccurrences(ctx context.Context, filter OccurrenceFilter) ([]types.Occurrence, error) {
	return t.storage.getOccurrencesWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) GetErrors(ctx context.Context, filter ErrorFilter) ([]types.ErrorInfo, error) {
	return t.storage.getErrorsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) UnresolvedEdges(ctx context.Context, kind types.EdgeKind, scope Scope) ([]UnresolvedEdgeRow, error) {
	return t.storage.unresolvedEdgesWithQuerier(ctx, t.querier(), kind, scope)
}

func (t *sqliteTx) ApplyResolutionUpdates(ctx context.Context, updates []ResolvedEdgeUpdate) error {
	return t.update("apply resolution", func(q querier) error {
		return t.storage.applyResolutionWithQuerier(ctx, q, updates)
	})
}

func (t *sqliteTx) ResetStaleResolutions(ctx context.Context, query StaleQuery) (int, error) {
	var n int
	err := t.update("reset stale", func(q querier) error {
		var err error
		n, err = t.storage.resetStaleWithQuerier(ctx, q, query)
		return err
	})
	return n, err
}

func (t *sqliteTx) CountUnresolved(ctx context.Context, kind types.EdgeKind) (int, error) {
	return t.storage.countUnresolvedWithQuerier(ctx, t.querier(), kind)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *FileRecord) error {
	return t.update("upsert file", func(q querier) error {
		return t.storage.upsertFileWithQuerier(ctx, q, file)
	})
}

func (t *sqliteTx) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteFileProjection(ctx context.Context, path string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := t.write("delete file", func(q querier) error {
		var err error
		summary, err = t.storage.deleteFileProjectionWithQuerier(ctx, q, path)
		return err
	})
	return summary, err
}

func (t *sqliteTx) DeleteFilesBatch(ctx context.Context, paths []string) (*RemovalSummary, error) {
	var summary *RemovalSummary
	err := t.write("delete files", func(q querier) error {
		var err error
		summary, err = t.storage.deleteFilesBatchWithQuerier(ctx, q, paths)
		return err
	})
	return summary, err
}

func (t *sqliteTx) PruneOrphanNodes(ctx context.Context) (int, error) {
	var n int
	err := t.write("prune orphans", func(q querier) error {
		var err error
		n, err = t.storage.pruneOrphansWithQuerier(ctx, q)
		return err
	})
	return n, err
}

func (t *sqliteTx) Stats(ctx context.Context) (*Stats, error) {
	return t.storage.statsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Generation() uint64 {
	return t.storage.Generation()
}

func (t *sqliteTx) Identity() string {
	return t.storage.Identity()
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, invalidArgument("begin", "nested transactions not supported")
}

// Value helpers

func nullID(id *types.NodeID) interface{} {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullCertainty(c *types.Certainty) interface{} {
	if c == nil {
		return nil
	}
	return string(*c)
}

func scanID(v sql.NullInt64) *types.NodeID {
	if !v.Valid {
		return nil
	}
	id := types.NodeID(v.Int64)
	return &id
}

// encodeIDs stores a candidate list as a JSON array, NULL when empty
func encodeIDs(ids []types.NodeID) (interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}
	return string(b), nil
}

// idsJSON renders ids for a json_each() parameter
func idsJSON(ids []types.NodeID) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func kindsJSON(kinds []types.NodeKind) string {
	ints := make([]int, len(kinds))
	for i, k := range kinds {
		ints[i] = int(k)
	}
	b, _ := json.Marshal(ints)
	return string(b)
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// Compile-time interface checks
var (
	_ Store = (*SQLiteStorage)(nil)
	_ Tx    = (*sqliteTx)(nil)
)
