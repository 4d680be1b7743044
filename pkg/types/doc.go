// Package types defines the code graph data model shared by every codegraph
// package.
//
// # Graph Elements
//
//   - Node: a symbol (function, class, file, ...) with a stable NodeID
//   - Edge: a directed relationship (call, import, member, ...) that starts
//     provisional and is later resolved with a confidence score
//   - Occurrence: a concrete source position referring to a node
//   - ErrorInfo: a diagnostic collected while indexing
//
// # Identity
//
// Node ids are derived by hashing the qualified symbol name, and file node ids
// by hashing the file path:
//
//	fileID := types.GenerateID("src/app.py")
//	fnID := types.GenerateID("Service.handle")
//	edgeID := types.GenerateEdgeID(fnID, types.GenerateID("helper"), types.EdgeCall)
//
// Re-indexing one file therefore never changes the ids owned by another.
//
// # Kinds
//
// NodeKind, EdgeKind and OccurrenceKind are closed taxonomies with fixed
// integer values that are persisted by the storage layer. NodeUnknown marks a
// forward reference whose definition has not been seen yet; it is upgraded to
// a concrete kind once the definition is indexed and never downgraded after.
//
// # Certainty
//
// Certainty is derived from confidence by CertaintyFromConfidence:
//
//	c := types.CertaintyFromConfidence(types.Ptr(0.8), types.DefaultCertaintyThreshold)
//	// *c == types.CertaintyCertain
package types
