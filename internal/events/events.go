// Package events defines the progress notifications emitted by an indexing
// run and the non-blocking sinks that deliver them.
package events

// Event is one notification payload
type Event interface {
	EventName() string
}

// IndexingStarted is emitted once removals are done and parsing begins
type IndexingStarted struct {
	FileCount int `json:"file_count"`
}

// IndexingProgress is emitted as each file completes. Current increases
// strictly within one run.
type IndexingProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// IndexingComplete is emitted when a run finishes successfully
type IndexingComplete struct {
	DurationMS   int64                `json:"duration_ms"`
	PhaseTimings IndexingPhaseTimings `json:"phase_timings"`
}

// IndexingFailed is emitted when a run aborts or is cancelled
type IndexingFailed struct {
	Error string `json:"error"`
}

// IndexingPhaseTimings breaks a run down by phase and records how many
// call and import edges were unresolved before and after resolution.
type IndexingPhaseTimings struct {
	ParseIndexMS           int64  `json:"parse_index_ms"`
	ProjectionFlushMS      int64  `json:"projection_flush_ms"`
	EdgeResolutionMS       int64  `json:"edge_resolution_ms"`
	ErrorFlushMS           int64  `json:"error_flush_ms"`
	CleanupMS              int64  `json:"cleanup_ms"`
	CacheRefreshMS         *int64 `json:"cache_refresh_ms,omitempty"`
	UnresolvedCallsStart   int    `json:"unresolved_calls_start"`
	UnresolvedImportsStart int    `json:"unresolved_imports_start"`
	ResolvedCalls          int    `json:"resolved_calls"`
	ResolvedImports        int    `json:"resolved_imports"`
	UnresolvedCallsEnd     int    `json:"unresolved_calls_end"`
	UnresolvedImportsEnd   int    `json:"unresolved_imports_end"`
}

func (IndexingStarted) EventName() string  { return "indexing_started" }
func (IndexingProgress) EventName() string { return "indexing_progress" }
func (IndexingComplete) EventName() string { return "indexing_complete" }
func (IndexingFailed) EventName() string   { return "indexing_failed" }
