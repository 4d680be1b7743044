package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestScanner_Discover(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":                 "package main",
		"lib/util.py":             "x = 1",
		"lib/gen/out.py":          "y = 2",
		"web/app.ts":              "let a = 1",
		"src/lib.rs":              "fn main() {}",
		"README.md":               "# readme",
		".git/hooks/pre.py":       "z = 3",
		".hidden.go":              "package hidden",
		"vendor/dep/dep.go":       "package dep",
		"web/node_modules/m/i.js": "module.exports = 1",
	})

	tests := []struct {
		name    string
		scanner *Scanner
		want    []string
	}{
		{
			name:    "defaults",
			scanner: NewScanner(nil, nil),
			want:    []string{"lib/gen/out.py", "lib/util.py", "main.go", "src/lib.rs", "web/app.ts"},
		},
		{
			name:    "exclude directory glob",
			scanner: NewScanner(nil, []string{"**/gen"}),
			want:    []string{"lib/util.py", "main.go", "src/lib.rs", "web/app.ts"},
		},
		{
			name:    "exclude base name",
			scanner: NewScanner(nil, []string{"*.ts", "*.rs"}),
			want:    []string{"lib/gen/out.py", "lib/util.py", "main.go"},
		},
		{
			name:    "include",
			scanner: NewScanner([]string{"lib/**"}, nil),
			want:    []string{"lib/gen/out.py", "lib/util.py"},
		},
		{
			name:    "vendor",
			scanner: &Scanner{IncludeVendor: true, Exclude: []string{"web/**"}},
			want:    []string{"lib/gen/out.py", "lib/util.py", "main.go", "src/lib.rs", "vendor/dep/dep.go"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scanner.Discover(root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing root", func(t *testing.T) {
		_, err := NewScanner(nil, nil).Discover(filepath.Join(root, "nope"))
		assert.Error(t, err)
	})
}

func TestBuildRefreshPlan(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{
		"same.go":    "package a",
		"touched.go": "package a",
		"edited.go":  "package a // edited",
		"failed.go":  "package a",
		"new.go":     "package a",
	})
	store := storage.NewMemoryStorage()

	record := func(path string, indexed bool) *storage.FileRecord {
		hash, mod, size, err := ComputeFileHash(filepath.Join(root, path))
		require.NoError(t, err)
		return &storage.FileRecord{
			ID: types.GenerateID(path), Path: path, Language: "go",
			ContentHash: hash, ModTime: mod, SizeBytes: size, Indexed: indexed, Complete: indexed,
		}
	}

	require.NoError(t, store.UpsertFile(ctx, record("same.go", true)))

	// Same content, new mod time: the hash says unchanged
	touched := record("touched.go", true)
	touched.ModTime = touched.ModTime.Add(-time.Hour)
	require.NoError(t, store.UpsertFile(ctx, touched))

	edited := record("edited.go", true)
	edited.ContentHash = [32]byte{1}
	edited.ModTime = edited.ModTime.Add(-time.Hour)
	require.NoError(t, store.UpsertFile(ctx, edited))

	require.NoError(t, store.UpsertFile(ctx, record("failed.go", false)))
	require.NoError(t, store.UpsertFile(ctx, &storage.FileRecord{
		ID: types.GenerateID("deleted.go"), Path: "deleted.go", Language: "go", Indexed: true,
	}))

	files, err := NewScanner(nil, nil).Discover(root)
	require.NoError(t, err)

	plan, err := BuildRefreshPlan(ctx, store, root, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"edited.go", "failed.go", "new.go"}, plan.FilesToIndex)
	assert.Equal(t, []string{"deleted.go"}, plan.FilesToRemove)
	assert.Equal(t, 1, plan.New)
	assert.Equal(t, 2, plan.Changed)
	assert.Equal(t, 2, plan.Unchanged)
	require.NoError(t, plan.Validate())

	t.Run("full refresh", func(t *testing.T) {
		refresh, err := FullRefresh(ctx, store, files)
		require.NoError(t, err)
		assert.Equal(t, files, refresh.FilesToIndex)
		assert.Equal(t, []string{"deleted.go"}, refresh.FilesToRemove)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := BuildRefreshPlan(cctx, store, root, files)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestComputeFileHash(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "package a"})
	hash, _, size, err := ComputeFileHash(filepath.Join(root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
	assert.NotEqual(t, [32]byte{}, hash)

	_, _, _, err = ComputeFileHash(filepath.Join(root, "missing.go"))
	assert.Error(t, err)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{
		"pkg/a.go":  "package pkg\n\nfunc caller() { helper() }\n",
		"pkg/b.go":  "package pkg\n\nfunc helper() {}\n",
		"notes.txt": "ignored",
	})
	store := storage.NewMemoryStorage()
	cfg := config.Default()
	cfg.Index.Workers = 2

	first, err := Sync(ctx, store, cfg, root, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Plan.New)
	assert.Equal(t, 2, first.Run.Stats.FilesIndexed)
	assert.Equal(t, 1, first.Run.Timings.ResolvedCalls)

	t.Run("unchanged workspace indexes nothing", func(t *testing.T) {
		again, err := Sync(ctx, store, cfg, root, SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, again.Plan.Unchanged)
		assert.Empty(t, again.Plan.FilesToIndex)
		assert.Equal(t, 0, again.Run.Stats.FilesIndexed)
	})

	t.Run("force re-indexes everything", func(t *testing.T) {
		forced, err := Sync(ctx, store, cfg, root, SyncOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 2, forced.Run.Stats.FilesIndexed)
	})

	t.Run("deleted file is removed", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "pkg", "b.go")))
		after, err := Sync(ctx, store, cfg, root, SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"pkg/b.go"}, after.Plan.FilesToRemove)
		assert.Equal(t, 1, after.Run.Stats.FilesRemoved)

		files, err := store.ListFiles(ctx)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "pkg/a.go", files[0].Path)
	})
}
