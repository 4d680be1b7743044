package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Workers = 2
	return NewServer(storage.NewMemoryStorage(), cfg, nil)
}

func newWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// decode reads the JSON text payload of a tool result
func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

var workspaceFiles = map[string]string{
	"pkg/a.go":      "package pkg\n\nfunc caller() {\n\thelper()\n}\n",
	"pkg/b.go":      "package pkg\n\nfunc helper() {}\n",
	"bad/broken.go": "package bad\n\nfunc broken( {\n",
}

func TestNewServer(t *testing.T) {
	s := NewServer(storage.NewMemoryStorage(), nil, nil)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.cfg)
	assert.NotNil(t, s.logger)
}

func TestHandleIndexWorkspace(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes and resolves", func(t *testing.T) {
		s := newTestServer(t)
		root := newWorkspace(t, workspaceFiles)

		result, err := s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root}))
		require.NoError(t, err)
		out := decode(t, result)
		assert.Equal(t, float64(3), out["files_indexed"])
		assert.Equal(t, false, out["cancelled"])
		assert.NotEmpty(t, out["run_id"])

		plan := out["plan"].(map[string]interface{})
		assert.Equal(t, float64(3), plan["new"])

		timings := out["phase_timings"].(map[string]interface{})
		assert.Equal(t, float64(1), timings["resolved_calls"])
		assert.False(t, s.lock.Held())

		again, err := s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root}))
		require.NoError(t, err)
		out = decode(t, again)
		assert.Equal(t, float64(0), out["files_indexed"])
		assert.Equal(t, float64(3), out["plan"].(map[string]interface{})["unchanged"])

		forced, err := s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root, "force": true}))
		require.NoError(t, err)
		assert.Equal(t, float64(3), decode(t, forced)["files_indexed"])
	})

	t.Run("rejects overlapping runs", func(t *testing.T) {
		s := newTestServer(t)
		root := newWorkspace(t, workspaceFiles)
		require.True(t, s.lock.TryAcquire())
		defer s.lock.Release()

		_, err := s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root}))
		requireMCPError(t, err, ErrorCodeIndexingInProgress)
	})

	t.Run("invalid params", func(t *testing.T) {
		s := newTestServer(t)
		file := filepath.Join(newWorkspace(t, map[string]string{"a.go": "package a"}), "a.go")
		empty := t.TempDir()

		tests := []struct {
			name string
			args map[string]interface{}
			code int
		}{
			{"missing path", map[string]interface{}{}, ErrorCodeInvalidParams},
			{"relative path", map[string]interface{}{"path": "rel/dir"}, ErrorCodeInvalidParams},
			{"missing directory", map[string]interface{}{"path": filepath.Join(empty, "nope")}, ErrorCodeInvalidParams},
			{"file not directory", map[string]interface{}{"path": file}, ErrorCodeInvalidParams},
			{"no source files", map[string]interface{}{"path": empty}, ErrorCodeWorkspaceNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.handleIndexWorkspace(ctx, callRequest(tt.args))
				requireMCPError(t, err, tt.code)
			})
		}

		var req mcp.CallToolRequest
		req.Params.Arguments = "not a map"
		_, err := s.handleIndexWorkspace(ctx, req)
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

func TestHandleGetStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	result, err := s.handleGetStatus(ctx, callRequest(nil))
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, false, out["indexed"])
	assert.Nil(t, out["last_run"])

	root := newWorkspace(t, workspaceFiles)
	_, err = s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root}))
	require.NoError(t, err)

	result, err = s.handleGetStatus(ctx, callRequest(nil))
	require.NoError(t, err)
	out = decode(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, root, out["workspace"])
	assert.Equal(t, false, out["indexing_in_progress"])

	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["files"])
	assert.Equal(t, float64(0), stats["unresolved_calls"])
	assert.Greater(t, stats["nodes"].(float64), float64(0))

	last := out["last_run"].(map[string]interface{})
	passes := last["resolution"].([]interface{})
	require.NotEmpty(t, passes)
	assert.Equal(t, "CALL", passes[0].(map[string]interface{})["kind"])
}

func TestHandleListErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	_, err := s.handleListErrors(ctx, callRequest(nil))
	requireMCPError(t, err, ErrorCodeNotIndexed)

	root := newWorkspace(t, workspaceFiles)
	_, err = s.handleIndexWorkspace(ctx, callRequest(map[string]interface{}{"path": root}))
	require.NoError(t, err)

	t.Run("all errors", func(t *testing.T) {
		result, err := s.handleListErrors(ctx, callRequest(nil))
		require.NoError(t, err)
		out := decode(t, result)
		require.Greater(t, out["count"].(float64), float64(0))
		first := out["errors"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "bad/broken.go", first["file"])
		assert.Equal(t, false, first["is_fatal"])
		assert.Equal(t, "indexing", first["index_step"])
	})

	t.Run("by file", func(t *testing.T) {
		result, err := s.handleListErrors(ctx, callRequest(map[string]interface{}{"file": "pkg/a.go"}))
		require.NoError(t, err)
		assert.Equal(t, float64(0), decode(t, result)["count"])
	})

	t.Run("fatal only", func(t *testing.T) {
		result, err := s.handleListErrors(ctx, callRequest(map[string]interface{}{"fatal_only": true}))
		require.NoError(t, err)
		assert.Equal(t, float64(0), decode(t, result)["count"])
	})

	t.Run("invalid params", func(t *testing.T) {
		_, err := s.handleListErrors(ctx, callRequest(map[string]interface{}{"limit": float64(0)}))
		requireMCPError(t, err, ErrorCodeInvalidParams)

		_, err = s.handleListErrors(ctx, callRequest(map[string]interface{}{"limit": float64(501)}))
		requireMCPError(t, err, ErrorCodeInvalidParams)

		_, err = s.handleListErrors(ctx, callRequest(map[string]interface{}{"file": "nope.go"}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

func TestValidatePath(t *testing.T) {
	root := newWorkspace(t, map[string]string{
		"deep/nested/lib.rs": "fn main() {}",
		".hidden/x.go":       "package x",
	})
	assert.NoError(t, validatePath(root))
	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("relative"), ErrPathNotAbsolute)

	onlyHidden := newWorkspace(t, map[string]string{".hidden/x.go": "package x", "README.md": "#"})
	assert.ErrorIs(t, validatePath(onlyHidden), ErrNoSourceFiles)
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeInternalError, "boom", nil)
	assert.Equal(t, "MCP error -32603: boom", err.Error())
}
