package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codegraph dev")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestIndexAndStatus(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"pkg/a.go": "package pkg\n\nfunc caller() { helper() }\n",
		"pkg/b.go": "package pkg\n\nfunc helper() {}\n",
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	db := filepath.Join(t.TempDir(), "state", "graph.db")

	out, err := execute(t, "index", root, "--db", db, "-q", "--log-level", "error")
	require.NoError(t, err)
	var indexed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &indexed))
	assert.Equal(t, float64(2), indexed["files_indexed"])
	assert.Equal(t, false, indexed["cancelled"])

	out, err = execute(t, "status", "--db", db, "--log-level", "error")
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, float64(2), status["files"])
	assert.Equal(t, float64(0), status["unresolved_calls"])
	assert.Equal(t, db, status["database"])

	out, err = execute(t, "index", root, "--db", db, "-q", "--log-level", "error")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &indexed))
	assert.Equal(t, float64(0), indexed["files_indexed"])
	assert.Equal(t, float64(2), indexed["files_unchanged"])
}

func TestRootCmd_InvalidFlags(t *testing.T) {
	_, err := execute(t, "status", "--db", filepath.Join(t.TempDir(), "g.db"), "--log-level", "loud")
	assert.Error(t, err)

	_, err = execute(t, "index", "a", "b")
	assert.Error(t, err)
}
