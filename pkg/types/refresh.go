package types

import "fmt"

// RefreshInfo is the unit of incremental work handed to the indexer
type RefreshInfo struct {
	FilesToIndex  []string `json:"files_to_index"`
	FilesToRemove []string `json:"files_to_remove"`
}

// IsEmpty reports whether there is nothing to do
func (r *RefreshInfo) IsEmpty() bool {
	return len(r.FilesToIndex) == 0 && len(r.FilesToRemove) == 0
}

// Validate checks the contract: no empty paths and no path that is both
// indexed and removed in the same run.
func (r *RefreshInfo) Validate() error {
	remove := make(map[string]struct{}, len(r.FilesToRemove))
	for _, p := range r.FilesToRemove {
		if p == "" {
			return fmt.Errorf("%w: empty path in files_to_remove", ErrInvalidRefreshInfo)
		}
		remove[p] = struct{}{}
	}
	for _, p := range r.FilesToIndex {
		if p == "" {
			return fmt.Errorf("%w: empty path in files_to_index", ErrInvalidRefreshInfo)
		}
		if _, ok := remove[p]; ok {
			return fmt.Errorf("%w: %s is both indexed and removed", ErrInvalidRefreshInfo, p)
		}
	}
	return nil
}
