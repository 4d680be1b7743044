// Package indexer coordinates incremental indexing of a multi-language
// workspace into the code graph.
//
// # Basic Usage
//
//	idx, err := indexer.New(indexer.Config{Root: "/path/to/workspace"})
//	if err != nil {
//	    return err
//	}
//
//	result, err := idx.RunIncremental(ctx, store, types.RefreshInfo{
//	    FilesToIndex:  []string{"pkg/a.go", "lib/util.py"},
//	    FilesToRemove: []string{"old/gone.rs"},
//	}, sink, cancel.New())
//
//	fmt.Printf("Indexed %d files in %v\n", result.Stats.FilesIndexed, result.Duration)
//
// # Pipeline
//
// A run executes these phases in order:
//
//  1. Removal: the projection of every removed file is deleted. Edges in
//     other files that had resolved into it go back to provisional.
//  2. Parse: files are parsed in parallel by an errgroup worker pool and
//     handed to a single writer over a bounded channel.
//  3. Flush: the writer looks up the stored kinds of the names each file
//     references (seeding the symbol table, so a symbol indexed by an
//     earlier run is not duplicated as a placeholder), merges the result
//     and writes batches of Config.BatchSize files, one transaction each.
//  4. Resolution: the resolution engine runs the CALL and IMPORT passes
//     over the files and names the run touched.
//  5. Cleanup: placeholders nothing refers to are pruned.
//
// Progress is reported through an events.Sink: IndexingStarted, one
// IndexingProgress per file, then IndexingComplete or IndexingFailed.
//
// # Errors
//
// Unreadable files are recorded as fatal collection errors and syntax
// errors as non-fatal indexing errors; neither stops the run. A store
// failure stops the run and is returned.
//
// # Cancellation
//
// The token is polled before each file, before each resolution pass and
// before each resolution write. A cancelled run returns a RunResult with
// Cancelled set and a nil error. Batches already flushed stay committed.
//
// # Overlapping Runs
//
// IndexLock is a non-blocking lock callers use to reject a second run while
// one is in progress:
//
//	if !lock.TryAcquire() {
//	    return errors.New("indexing already in progress")
//	}
//	defer lock.Release()
package indexer
