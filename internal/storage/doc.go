// Package storage persists the code graph.
//
// The storage layer manages:
//   - Nodes (symbols, files, UNKNOWN placeholders for forward references)
//   - Edges, including their nullable resolution triple
//   - Occurrences (token level references, deduplicated)
//   - Indexing errors
//   - The file table used for refresh planning
//
// # Database Schema
//
// Tables:
//   - node: id, kind, names, owning file, span
//   - edge: endpoints, kind, owning file, resolved source/target, confidence,
//     certainty and a JSON array of candidate targets
//   - occurrence: element, kind, file and 1-based range
//   - error: message, file, position, fatal flag, index step
//   - file: path, language, content hash, mod time, indexed/complete flags
//   - schema_version: applied migrations (semver)
//
// Nodes whose file_node_id is NULL are unowned. PruneOrphanNodes deletes the
// unowned ones that no edge or occurrence references any more.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(".codegraph/graph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.InsertNodesBatch(ctx, nodes)
//
// # Transactions
//
// Every batch method is atomic on its own. Group several with WithTx:
//
//	err := storage.WithTx(ctx, store, func(tx storage.Store) error {
//	    if _, err := tx.DeleteFileProjection(ctx, path); err != nil {
//	        return err
//	    }
//	    return tx.InsertNodesBatch(ctx, nodes)
//	})
//
// The SQLite pool holds a single connection, so code running inside a
// transaction must use the transaction handle for reads as well.
//
// # File Removal
//
// DeleteFileProjection removes a file's nodes, edges, occurrences, errors
// and file record in one transaction. Edges owned by other files that had
// resolved to one of the removed nodes are reset to provisional and their
// files are reported in RemovalSummary.AffectedFiles for re-resolution.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Build with
// -tags sqlite_cgo to link mattn/go-sqlite3 instead.
//
// MemoryStorage implements the same contract over maps for tests and
// benchmarks.
package storage
