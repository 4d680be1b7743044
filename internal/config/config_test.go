package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/resolution"
	"github.com/dshills/codegraph/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Index.BatchSize)
	assert.Equal(t, DefaultDBPath, cfg.Storage.Path)
	assert.Equal(t, types.DefaultCertaintyThreshold, cfg.Resolution.Threshold)
	assert.Equal(t, 0.95, cfg.Resolution.Call.SameFile)
	assert.Equal(t, 0.30, cfg.Resolution.Import.Fuzzy)
	assert.Equal(t, 0.55, cfg.Resolution.Call.Semantic)
	assert.Equal(t, 0.45, cfg.Resolution.Import.Semantic)
}

func TestLoad(t *testing.T) {
	t.Run("file over defaults", func(t *testing.T) {
		path := writeConfig(t, `
index:
  workers: 3
  exclude: ["**/testdata/**"]
resolution:
  threshold: 0.75
  call:
    global: 0.5
storage:
  path: /tmp/graph.db
log:
  level: debug
  format: text
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Index.Workers)
		assert.Equal(t, 20, cfg.Index.BatchSize)
		assert.Equal(t, []string{"**/testdata/**"}, cfg.Index.Exclude)
		assert.Equal(t, 0.75, cfg.Resolution.Threshold)
		assert.Equal(t, 0.5, cfg.Resolution.Call.Global)
		assert.Equal(t, 0.95, cfg.Resolution.Call.SameFile)
		assert.Equal(t, "/tmp/graph.db", cfg.Storage.Path)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("environment over file", func(t *testing.T) {
		path := writeConfig(t, "index:\n  workers: 3\n")
		t.Setenv(EnvWorkers, "5")
		t.Setenv(EnvDBPath, "/data/env.db")
		t.Setenv(EnvThreshold, "0.9")
		t.Setenv(EnvExclude, "gen/**, *.pb.go")
		t.Setenv(EnvMaxFileSize, "1024")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Index.Workers)
		assert.Equal(t, "/data/env.db", cfg.Storage.Path)
		assert.Equal(t, 0.9, cfg.Resolution.Threshold)
		assert.Equal(t, []string{"gen/**", "*.pb.go"}, cfg.Index.Exclude)
		assert.Equal(t, int64(1024), cfg.Index.MaxFileSize)
	})

	t.Run("config path from environment", func(t *testing.T) {
		t.Setenv(EnvConfigPath, writeConfig(t, "index:\n  batch_size: 7\n"))
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Index.BatchSize)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			env     map[string]string
		}{
			{name: "bad yaml", content: "index: [\n"},
			{name: "zero workers", content: "index:\n  workers: 0\n"},
			{name: "threshold above one", content: "resolution:\n  threshold: 1.5\n"},
			{name: "negative weight", content: "resolution:\n  import:\n    fuzzy: -0.1\n"},
			{name: "bad glob", content: "index:\n  exclude: [\"[\"]\n"},
			{name: "bad level", content: "log:\n  level: loud\n"},
			{name: "bad format", content: "log:\n  format: xml\n"},
			{name: "bad env integer", env: map[string]string{EnvBatchSize: "many"}},
			{name: "bad env float", env: map[string]string{EnvThreshold: "high"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				for k, v := range tt.env {
					t.Setenv(k, v)
				}
				_, err := Load(writeConfig(t, tt.content))
				assert.Error(t, err)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate_ErrInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIndexerConfig(t *testing.T) {
	cfg := Default()
	cfg.Index.Workers = 2
	cfg.Resolution.Call.SameModule = 0.7
	cfg.Resolution.CommonNames = []string{"append"}

	ic := cfg.IndexerConfig("/work", nil)
	assert.Equal(t, "/work", ic.Root)
	assert.Equal(t, 2, ic.Workers)
	assert.Equal(t, 2, ic.Resolution.Workers)
	require.Len(t, ic.Resolution.Strategies, 2)

	call, ok := ic.Resolution.Strategies[0].(*resolution.CallStrategy)
	require.True(t, ok)
	assert.Equal(t, 0.7, call.Policy.SameModule)
	assert.Contains(t, call.CommonNames, "append")
	assert.NotContains(t, call.CommonNames, "push")
	assert.Equal(t, []string{"java", "typescript"}, call.Semantic.Languages())
	assert.Equal(t, types.EdgeImport, ic.Resolution.Strategies[1].EdgeKind())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Level = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "file", "a.go")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"file":"a.go"`)
}
