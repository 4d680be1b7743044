// Package project discovers source files in a workspace and compares them
// with the store's file table to plan incremental runs.
package project

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/dshills/codegraph/internal/parser"
)

// Scanner walks a workspace for files a parser adapter understands
type Scanner struct {
	// Include, when set, keeps only files matching one of the globs
	Include []string
	// Exclude drops files and whole directories matching any glob
	Exclude []string
	// IncludeVendor descends into vendor and node_modules directories
	IncludeVendor bool
}

// NewScanner creates a Scanner with the given globs. Globs are matched
// against slash-separated paths relative to the root and support "**".
func NewScanner(include, exclude []string) *Scanner {
	return &Scanner{Include: include, Exclude: exclude}
}

var vendorDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	"target":       true,
	"__pycache__":  true,
}

// Discover returns the supported files under root as sorted, relative,
// slash-separated paths. Hidden directories are skipped.
func (s *Scanner) Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if !s.IncludeVendor && vendorDirs[name] {
				return filepath.SkipDir
			}
			if s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !parser.Supported(rel) {
			return nil
		}
		if s.excluded(rel) || !s.included(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files in %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Scanner) excluded(rel string) bool {
	return matchAny(s.Exclude, rel)
}

func (s *Scanner) included(rel string) bool {
	return len(s.Include) == 0 || matchAny(s.Include, rel)
}

// matchAny matches rel and, for patterns without a separator, its base name
func matchAny(patterns []string, rel string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}
