package events

import (
	"sync"
	"sync/atomic"
)

// Sink receives events. Publish must never block the caller.
type Sink interface {
	Publish(e Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(Event) {}

// Func adapts a function to Sink. The function must not block.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

// ChannelSink delivers events on a buffered channel and drops them when the
// subscriber falls behind.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Publish enqueues e, or drops it if the buffer is full or the sink closed
func (s *ChannelSink) Publish(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the sink
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel. Later publishes are counted as dropped.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Recorder keeps every event in memory in publish order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends e
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
