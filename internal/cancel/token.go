// Package cancel provides the cooperative cancellation flag polled by the
// indexer and resolution engine at their checkpoints.
package cancel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCancelled describes an observed cancellation. It marks a terminal
// outcome, not a failure.
var ErrCancelled = errors.New("indexing cancelled")

// Token is a lock-free cancellation flag shared by pointer. A nil *Token is
// valid and never cancelled.
type Token struct {
	cancelled atomic.Bool
}

// New creates an uncancelled token
func New() *Token {
	return &Token{}
}

// Cancel sets the flag. Safe to call more than once.
func (t *Token) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// IsCancelled reports whether Cancel has been called
func (t *Token) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Check returns ErrCancelled once the token is cancelled
func (t *Token) Check() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// WatchContext cancels t when ctx is done. The returned stop function
// releases the watcher goroutine.
func (t *Token) WatchContext(ctx context.Context) (stop func()) {
	if t == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.Cancel()
		case <-done:
		}
	}()
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
