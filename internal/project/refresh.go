package project

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Plan is a refresh plus the bookkeeping that produced it
type Plan struct {
	types.RefreshInfo
	// New counts discovered files the store has never seen
	New int `json:"new"`
	// Changed counts stored files whose content differs
	Changed int `json:"changed"`
	// Unchanged counts files left alone
	Unchanged int `json:"unchanged"`
}

// BuildRefreshPlan compares files, as discovered under root, with the
// store's file table. New, changed and previously failed files are
// scheduled for indexing; stored files absent from files are scheduled for
// removal. A file whose size and modification time match its record is
// unchanged without hashing; otherwise its content hash decides.
func BuildRefreshPlan(ctx context.Context, store storage.Store, root string, files []string) (*Plan, error) {
	records, err := store.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored files: %w", err)
	}
	stored := make(map[string]*storage.FileRecord, len(records))
	for _, rec := range records {
		stored[rec.Path] = rec
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[path] = true
		rec, ok := stored[path]
		if !ok {
			plan.New++
			plan.FilesToIndex = append(plan.FilesToIndex, path)
			continue
		}
		if fileChanged(filepath.Join(root, filepath.FromSlash(path)), rec) {
			plan.Changed++
			plan.FilesToIndex = append(plan.FilesToIndex, path)
			continue
		}
		plan.Unchanged++
	}
	for path := range stored {
		if !seen[path] {
			plan.FilesToRemove = append(plan.FilesToRemove, path)
		}
	}
	sort.Strings(plan.FilesToIndex)
	sort.Strings(plan.FilesToRemove)
	return plan, nil
}

// FullRefresh schedules every discovered file for indexing and removes
// stored files that were not discovered
func FullRefresh(ctx context.Context, store storage.Store, files []string) (types.RefreshInfo, error) {
	records, err := store.ListFiles(ctx)
	if err != nil {
		return types.RefreshInfo{}, fmt.Errorf("failed to list stored files: %w", err)
	}
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[f] = true
	}
	refresh := types.RefreshInfo{FilesToIndex: append([]string(nil), files...)}
	for _, rec := range records {
		if !keep[rec.Path] {
			refresh.FilesToRemove = append(refresh.FilesToRemove, rec.Path)
		}
	}
	sort.Strings(refresh.FilesToIndex)
	sort.Strings(refresh.FilesToRemove)
	return refresh, nil
}

// fileChanged treats unreadable files as changed so the indexer records
// the failure
func fileChanged(path string, rec *storage.FileRecord) bool {
	if !rec.Indexed {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if info.Size() == rec.SizeBytes && info.ModTime().Equal(rec.ModTime) {
		return false
	}
	hash, _, _, err := ComputeFileHash(path)
	if err != nil {
		return true
	}
	return hash != rec.ContentHash
}

// ComputeFileHash returns the SHA-256 of a file with its modification time
// and size
func ComputeFileHash(path string) ([32]byte, time.Time, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, info.ModTime(), info.Size(), nil
}
