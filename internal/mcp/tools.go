package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegraph/internal/cancel"
	"github.com/dshills/codegraph/internal/events"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/project"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/telemetry"
	"github.com/dshills/codegraph/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeWorkspaceNotFound  = -32001 // Path holds no supported source files
	ErrorCodeIndexingInProgress = -32002 // Another indexing run is already in progress
	ErrorCodeNotIndexed         = -32003 // Nothing has been indexed yet
)

const (
	defaultErrorLimit = 50
	maxErrorLimit     = 500
)

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrNoSourceFiles) {
			code = ErrorCodeWorkspaceNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	defer s.lock.Release()

	sink := events.NewChannelSink(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sink.Events() {
			if p, ok := e.(events.IndexingProgress); ok {
				s.logger.Debug("indexing progress", "current", p.Current, "total", p.Total)
			}
		}
	}()

	result, err := project.Sync(ctx, s.store, s.cfg, path, project.SyncOptions{
		Force:         getBoolDefault(args, "force", false),
		IncludeVendor: getBoolDefault(args, "include_vendor", false),
		Sink:          sink,
		Token:         cancel.New(),
		Logger:        s.logger,
	})
	sink.Close()
	<-done
	if dropped := sink.Dropped(); dropped > 0 {
		telemetry.RecordDroppedEvents(ctx, dropped)
	}

	if err != nil {
		code := ErrorCodeInternalError
		if errors.Is(err, types.ErrInvalidRefreshInfo) {
			code = ErrorCodeInvalidParams
		}
		return nil, newMCPError(code, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.recordRun(path, result)

	return mcp.NewToolResultText(formatJSON(runSummary(result))), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	root, last := s.snapshot()
	response := map[string]interface{}{
		"indexed":              stats.Files > 0,
		"indexing_in_progress": s.lock.Held(),
		"statistics": map[string]interface{}{
			"files":              stats.Files,
			"nodes":              stats.Nodes,
			"edges":              stats.Edges,
			"occurrences":        stats.Occurrences,
			"errors":             stats.Errors,
			"resolved_edges":     stats.ResolvedEdges,
			"uncertain_edges":    stats.UncertainEdges,
			"unresolved_calls":   stats.UnresolvedCalls,
			"unresolved_imports": stats.UnresolvedImports,
		},
		"generation": s.store.Generation(),
	}
	if root != "" {
		response["workspace"] = root
	}
	if last != nil {
		response["last_run"] = runSummary(last)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListErrors handles the list_errors tool invocation
func (s *Server) handleListErrors(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	limit := getIntDefault(args, "limit", defaultErrorLimit)
	if limit < 1 || limit > maxErrorLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxErrorLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list files", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if len(files) == 0 {
		return nil, newMCPError(ErrorCodeNotIndexed, "nothing indexed yet; run index_workspace first", nil)
	}
	paths := make(map[types.NodeID]string, len(files))
	for _, f := range files {
		paths[f.ID] = f.Path
	}

	filter := storage.ErrorFilter{Limit: limit, FatalOnly: getBoolDefault(args, "fatal_only", false)}
	if file := getStringDefault(args, "file", ""); file != "" {
		id := types.GenerateID(filepath.ToSlash(file))
		if _, ok := paths[id]; !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "file is not indexed", map[string]interface{}{
				"param": "file",
				"value": file,
			})
		}
		filter.FileID = &id
	}

	errs, err := s.store.GetErrors(ctx, filter)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list errors", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := make([]map[string]interface{}, 0, len(errs))
	for _, e := range errs {
		item := map[string]interface{}{
			"message":    e.Message,
			"is_fatal":   e.IsFatal,
			"index_step": string(e.IndexStep),
		}
		if e.FileID != nil {
			item["file"] = paths[*e.FileID]
		}
		if e.Line != nil {
			item["line"] = *e.Line
		}
		if e.Column != nil {
			item["column"] = *e.Column
		}
		items = append(items, item)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":  len(items),
		"errors": items,
	})), nil
}

// runSummary flattens a sync result for tool output
func runSummary(result *project.SyncResult) map[string]interface{} {
	run := result.Run
	summary := map[string]interface{}{
		"run_id":      run.RunID,
		"cancelled":   run.Cancelled,
		"duration_ms": run.Duration.Milliseconds(),
		"plan": map[string]interface{}{
			"new":       result.Plan.New,
			"changed":   result.Plan.Changed,
			"unchanged": result.Plan.Unchanged,
			"removed":   len(result.Plan.FilesToRemove),
		},
		"files_indexed":  run.Stats.FilesIndexed,
		"files_failed":   run.Stats.FilesFailed,
		"files_skipped":  run.Stats.FilesSkipped,
		"files_removed":  run.Stats.FilesRemoved,
		"nodes":          run.Stats.Nodes,
		"edges":          run.Stats.Edges,
		"errors":         run.Stats.Errors,
		"edges_reset":    run.Stats.EdgesReset,
		"orphans_pruned": run.Stats.OrphansPruned,
		"phase_timings":  run.Timings,
	}
	if run.Resolution != nil {
		passes := make([]map[string]interface{}, 0, len(run.Resolution.Passes))
		for _, p := range run.Resolution.Passes {
			passes = append(passes, map[string]interface{}{
				"kind":        p.Kind.String(),
				"considered":  p.Considered,
				"resolved":    p.Resolved,
				"stale_reset": p.StaleReset,
				"counters":    p.Counters,
			})
		}
		summary["resolution"] = passes
	}
	return summary
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory holding
// at least one file a parser adapter supports
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	found := false
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if parser.Supported(p) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return ErrPathNotReadable
	}
	if !found {
		return ErrNoSourceFiles
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors
var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrNoSourceFiles   = errors.New("directory does not contain supported source files")
)
