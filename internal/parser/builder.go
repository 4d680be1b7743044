package parser

import (
	"fmt"
	"strings"

	"github.com/dshills/codegraph/internal/symboltable"
	"github.com/dshills/codegraph/pkg/types"
)

// fragment accumulates the graph elements of one file. Every adapter goes
// through it so node, edge and occurrence rules stay identical across
// languages.
type fragment struct {
	path   string
	fileID types.NodeID
	table  *symboltable.Table

	result  types.IndexResult
	nodeIdx map[types.NodeID]int
	edgeIdx map[types.EdgeID]struct{}
	occIdx  map[types.Occurrence]struct{}
}

func newFragment(path string, lineCount int, table *symboltable.Table) *fragment {
	f := &fragment{
		path:    path,
		fileID:  types.GenerateID(path),
		table:   table,
		nodeIdx: make(map[types.NodeID]int),
		edgeIdx: make(map[types.EdgeID]struct{}),
		occIdx:  make(map[types.Occurrence]struct{}),
	}
	f.addNode(types.Node{
		ID:             f.fileID,
		Kind:           types.NodeFile,
		SerializedName: path,
		QualifiedName:  path,
		FileNodeID:     types.Ptr(f.fileID),
		Span:           &types.Span{StartLine: 1, StartCol: 1, EndLine: max(lineCount, 1), EndCol: 1},
	})
	return f
}

func (f *fragment) addNode(n types.Node) {
	if i, ok := f.nodeIdx[n.ID]; ok {
		// A definition replaces a placeholder recorded earlier in this file
		if !f.result.Nodes[i].Kind.IsConcrete() && n.Kind.IsConcrete() {
			f.result.Nodes[i] = n
		}
		return
	}
	f.nodeIdx[n.ID] = len(f.result.Nodes)
	f.result.Nodes = append(f.result.Nodes, n)
}

// define records a concrete definition owned by this file and returns its id
func (f *fragment) define(name, qualified string, kind types.NodeKind, span, nameSpan types.Span) types.NodeID {
	id := types.GenerateID(qualified)
	f.addNode(types.Node{
		ID:             id,
		Kind:           kind,
		SerializedName: name,
		QualifiedName:  qualified,
		FileNodeID:     types.Ptr(f.fileID),
		Span:           &span,
	})
	if f.table != nil {
		f.table.Insert(id, kind)
	}
	occKind := types.OccurrenceDefinition
	if kind == types.NodeMacro {
		occKind = types.OccurrenceMacroDefinition
	}
	f.occurrence(id, occKind, nameSpan)
	return id
}

// unowned records a concrete node that no single file owns, such as a Go
// package shared by every file of its directory
func (f *fragment) unowned(name, qualified string, kind types.NodeKind) types.NodeID {
	id := types.GenerateID(qualified)
	f.addNode(types.Node{ID: id, Kind: kind, SerializedName: name, QualifiedName: qualified})
	if f.table != nil {
		f.table.Insert(id, kind)
	}
	return id
}

// reference returns the id a written name refers to. Unless the name is
// already known concretely, an UNKNOWN placeholder is emitted so the edge
// has a target until resolution finds the real one.
func (f *fragment) reference(written string) types.NodeID {
	id := types.GenerateID(written)
	if i, ok := f.nodeIdx[id]; ok && f.result.Nodes[i].Kind.IsConcrete() {
		return id
	}
	if f.table != nil && f.table.IsConcrete(id) {
		return id
	}
	f.addNode(types.Node{ID: id, Kind: types.NodeUnknown, SerializedName: written})
	if f.table != nil {
		f.table.Insert(id, types.NodeUnknown)
	}
	return id
}

// edge records a relationship owned by this file. The first site of a
// repeated (source, target, kind) triple is kept.
func (f *fragment) edge(source, target types.NodeID, kind types.EdgeKind, at *types.Span) {
	id := types.GenerateEdgeID(source, target, kind)
	if _, ok := f.edgeIdx[id]; ok {
		return
	}
	f.edgeIdx[id] = struct{}{}
	e := types.Edge{
		ID:         id,
		Source:     source,
		Target:     target,
		Kind:       kind,
		FileNodeID: types.Ptr(f.fileID),
	}
	if at != nil {
		e.Line = types.Ptr(at.StartLine)
		if kind == types.EdgeCall {
			e.CallsiteIdentity = fmt.Sprintf("%s:%d:%d", f.path, at.StartLine, at.StartCol)
		}
	}
	f.result.Edges = append(f.result.Edges, e)
}

func (f *fragment) occurrence(id types.NodeID, kind types.OccurrenceKind, at types.Span) {
	o := types.Occurrence{
		ElementID: id,
		Kind:      kind,
		Location: types.SourceLocation{
			FileNodeID: f.fileID,
			StartLine:  at.StartLine,
			StartCol:   at.StartCol,
			EndLine:    at.EndLine,
			EndCol:     at.EndCol,
		},
	}
	if _, ok := f.occIdx[o]; ok {
		return
	}
	f.occIdx[o] = struct{}{}
	f.result.Occurrences = append(f.result.Occurrences, o)
}

func (f *fragment) syntaxError(msg string, line, col int) {
	f.result.Errors = append(f.result.Errors, types.ErrorInfo{
		Message:   msg,
		FileID:    types.Ptr(f.fileID),
		Line:      types.Ptr(line),
		Column:    types.Ptr(col),
		IsFatal:   false,
		IndexStep: types.StepIndexing,
	})
}

func (f *fragment) finish() *types.IndexResult {
	return &f.result
}

// joinQualified joins name onto prefix with the language delimiter
func joinQualified(prefix, delim, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + delim + name
}

// lastSegment returns the part of a qualified name after its last "::", "."
// or "/" separator
func lastSegment(name string) string {
	i := strings.LastIndexAny(name, "./:")
	if i < 0 {
		return name
	}
	return name[i+1:]
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := strings.Count(string(src), "\n")
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}
