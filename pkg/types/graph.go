package types

import (
	"fmt"
	"strings"
)

// NodeID identifies a node in the code graph
type NodeID int64

// EdgeID identifies an edge in the code graph
type EdgeID int64

// NodeKind classifies a node. Values are persisted and must not be renumbered.
type NodeKind int

const (
	NodeModule NodeKind = iota
	NodeNamespace
	NodePackage
	NodeFile
	NodeStruct
	NodeClass
	NodeInterface
	NodeAnnotation
	NodeUnion
	NodeEnum
	NodeTypedef
	NodeTypeParameter
	NodeBuiltinType
	NodeFunction
	NodeMethod
	NodeMacro
	NodeGlobalVariable
	NodeField
	NodeVariable
	NodeConstant
	NodeEnumConstant
	NodeUnknown
)

var nodeKindNames = [...]string{
	"MODULE", "NAMESPACE", "PACKAGE", "FILE", "STRUCT", "CLASS", "INTERFACE",
	"ANNOTATION", "UNION", "ENUM", "TYPEDEF", "TYPE_PARAMETER", "BUILTIN_TYPE",
	"FUNCTION", "METHOD", "MACRO", "GLOBAL_VARIABLE", "FIELD", "VARIABLE",
	"CONSTANT", "ENUM_CONSTANT", "UNKNOWN",
}

func (k NodeKind) String() string {
	if k >= 0 && int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// IsConcrete reports whether k is a real definition kind rather than the
// UNKNOWN placeholder used for forward references.
func (k NodeKind) IsConcrete() bool {
	return k != NodeUnknown
}

// IsValid reports whether k belongs to the closed taxonomy
func (k NodeKind) IsValid() bool {
	return k >= NodeModule && k <= NodeUnknown
}

// ParseNodeKind returns the kind with the given upper-case name
func ParseNodeKind(name string) (NodeKind, bool) {
	for i, n := range nodeKindNames {
		if n == name {
			return NodeKind(i), true
		}
	}
	return NodeUnknown, false
}

// EdgeKind classifies an edge. Values are persisted and must not be renumbered.
type EdgeKind int

const (
	EdgeMember EdgeKind = iota
	EdgeTypeUsage
	EdgeUsage
	EdgeCall
	EdgeInheritance
	EdgeOverride
	EdgeTypeArgument
	EdgeTemplateSpecialization
	EdgeInclude
	EdgeImport
	EdgeMacroUsage
	EdgeAnnotationUsage
	EdgeUnknown
)

var edgeKindNames = [...]string{
	"MEMBER", "TYPE_USAGE", "USAGE", "CALL", "INHERITANCE", "OVERRIDE",
	"TYPE_ARGUMENT", "TEMPLATE_SPECIALIZATION", "INCLUDE", "IMPORT",
	"MACRO_USAGE", "ANNOTATION_USAGE", "UNKNOWN",
}

func (k EdgeKind) String() string {
	if k >= 0 && int(k) < len(edgeKindNames) {
		return edgeKindNames[k]
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// IsValid reports whether k belongs to the closed taxonomy
func (k EdgeKind) IsValid() bool {
	return k >= EdgeMember && k <= EdgeUnknown
}

// OccurrenceKind classifies a source reference
type OccurrenceKind int

const (
	OccurrenceDefinition OccurrenceKind = iota
	OccurrenceReference
	OccurrenceDeclaration
	OccurrenceMacroDefinition
	OccurrenceMacroReference
	OccurrenceUnknown
)

var occurrenceKindNames = [...]string{
	"DEFINITION", "REFERENCE", "DECLARATION", "MACRO_DEFINITION", "MACRO_REFERENCE", "UNKNOWN",
}

func (k OccurrenceKind) String() string {
	if k >= 0 && int(k) < len(occurrenceKindNames) {
		return occurrenceKindNames[k]
	}
	return fmt.Sprintf("OccurrenceKind(%d)", int(k))
}

// Span is a 1-based source range
type Span struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// Node is a symbol in the code graph
type Node struct {
	ID             NodeID   `json:"id"`
	Kind           NodeKind `json:"kind"`
	SerializedName string   `json:"serialized_name"`
	QualifiedName  string   `json:"qualified_name,omitempty"`
	CanonicalID    *NodeID  `json:"canonical_id,omitempty"`
	FileNodeID     *NodeID  `json:"file_node_id,omitempty"`
	Span           *Span    `json:"span,omitempty"`
}

// DisplayName returns the qualified name when known, otherwise the serialized name
func (n *Node) DisplayName() string {
	if n.QualifiedName != "" {
		return n.QualifiedName
	}
	return n.SerializedName
}

// NameSegment returns the part of a name after its last "::", "." or "/".
// A written reference and the definition it means share this segment.
func NameSegment(name string) string {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndexAny(name, "./:"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Edge is a directed relationship between two nodes. An edge is provisional
// until resolution assigns ResolvedTarget.
type Edge struct {
	ID               EdgeID     `json:"id"`
	Source           NodeID     `json:"source"`
	Target           NodeID     `json:"target"`
	Kind             EdgeKind   `json:"kind"`
	FileNodeID       *NodeID    `json:"file_node_id,omitempty"`
	Line             *int       `json:"line,omitempty"`
	ResolvedSource   *NodeID    `json:"resolved_source,omitempty"`
	ResolvedTarget   *NodeID    `json:"resolved_target,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty"`
	CallsiteIdentity string     `json:"callsite_identity,omitempty"`
	Certainty        *Certainty `json:"certainty,omitempty"`
	CandidateTargets []NodeID   `json:"candidate_targets,omitempty"`
}

// IsResolved reports whether resolution assigned a target
func (e Edge) IsResolved() bool {
	return e.ResolvedTarget != nil
}

// ClearResolution resets the edge to its provisional state
func (e *Edge) ClearResolution() {
	e.ResolvedTarget = nil
	e.Confidence = nil
	e.Certainty = nil
	e.CandidateTargets = nil
}

// SourceLocation places an occurrence inside a file
type SourceLocation struct {
	FileNodeID NodeID `json:"file_node_id"`
	StartLine  int    `json:"start_line"`
	StartCol   int    `json:"start_col"`
	EndLine    int    `json:"end_line"`
	EndCol     int    `json:"end_col"`
}

// Occurrence is a reference to a symbol at a concrete source position
type Occurrence struct {
	ElementID NodeID         `json:"element_id"`
	Kind      OccurrenceKind `json:"kind"`
	Location  SourceLocation `json:"location"`
}

// IndexStep names the stage that produced an ErrorInfo
type IndexStep string

const (
	StepCollection IndexStep = "collection"
	StepIndexing   IndexStep = "indexing"
)

// ErrorInfo is a diagnostic collected alongside the graph
type ErrorInfo struct {
	Message   string    `json:"message"`
	FileID    *NodeID   `json:"file_id,omitempty"`
	Line      *int      `json:"line,omitempty"`
	Column    *int      `json:"column,omitempty"`
	IsFatal   bool      `json:"is_fatal"`
	IndexStep IndexStep `json:"index_step"`
}

// IndexResult is the graph fragment produced for one source file
type IndexResult struct {
	Nodes       []Node
	Edges       []Edge
	Occurrences []Occurrence
	Errors      []ErrorInfo
}

// HasErrors returns true if any diagnostics were recorded
func (r *IndexResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Ptr returns a pointer to v. Used for the optional fields above.
func Ptr[T any](v T) *T {
	return &v
}
