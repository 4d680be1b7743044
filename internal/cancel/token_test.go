package cancel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	tok := New()
	assert.False(t, tok.IsCancelled())
	assert.NoError(t, tok.Check())

	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.IsCancelled())
	assert.ErrorIs(t, tok.Check(), ErrCancelled)
}

func TestNilToken(t *testing.T) {
	var tok *Token
	assert.False(t, tok.IsCancelled())
	assert.NoError(t, tok.Check())
	tok.Cancel()
	tok.WatchContext(context.Background())()
}

func TestTokenSharedAcrossGoroutines(t *testing.T) {
	tok := New()
	var wg sync.WaitGroup
	seen := make(chan bool, 8)

	tok.Cancel()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- tok.IsCancelled()
		}()
	}
	wg.Wait()
	close(seen)

	for v := range seen {
		assert.True(t, v)
	}
}

func TestWatchContext(t *testing.T) {
	t.Run("context cancellation cancels token", func(t *testing.T) {
		tok := New()
		ctx, cancel := context.WithCancel(context.Background())
		stop := tok.WatchContext(ctx)
		defer stop()

		cancel()
		assert.Eventually(t, tok.IsCancelled, time.Second, time.Millisecond)
	})

	t.Run("stop detaches watcher", func(t *testing.T) {
		tok := New()
		ctx, cancel := context.WithCancel(context.Background())
		stop := tok.WatchContext(ctx)
		stop()
		stop()

		cancel()
		time.Sleep(10 * time.Millisecond)
		assert.False(t, tok.IsCancelled())
	})
}
