// Package channel implements the bounded FIFO fabric that every edge in a
// simulflow graph is wired through.
//
// A Channel wraps a Go channel of frame.Frame with a capacity, an overflow
// policy, and idempotent Close semantics. Data and control edges block
// producers on a full channel for backpressure; observability edges
// (report/error) use the drop-oldest policy instead.
package channel

import (
	"sync"
	"sync/atomic"

	"github.com/shipclojure/simulflow-go/pkg/frame"
)

// Default capacities for data and system channels.
const (
	DefaultDataCapacity   = 1024
	DefaultSystemCapacity = 10
)

// Policy selects the behavior of Put when the channel is full.
type Policy int

const (
	// PolicyBlock makes Put block until space is available or the
	// channel is closed. This is the default for data and system
	// edges.
	PolicyBlock Policy = iota

	// PolicyDropOldest makes Put evict the oldest queued frame to make
	// room for the new one, never blocking. Used only for the graph
	// engine's report/error observability channels.
	PolicyDropOldest
)

// Channel is a bounded FIFO of frame.Frame values.
type Channel struct {
	ch     chan frame.Frame
	policy Policy
	closed atomic.Bool

	// mu serializes Put under PolicyDropOldest, where evicting the
	// oldest element and enqueuing the new one must appear atomic to
	// concurrent producers.
	mu sync.Mutex
}

// New creates a Channel with the given capacity and overflow policy.
func New(capacity int, policy Policy) *Channel {
	return &Channel{
		ch:     make(chan frame.Frame, capacity),
		policy: policy,
	}
}

// NewData creates a Channel at the default data/control capacity with the
// blocking policy.
func NewData() *Channel {
	return New(DefaultDataCapacity, PolicyBlock)
}

// NewSystem creates a Channel at the default system capacity with the
// blocking policy.
func NewSystem() *Channel {
	return New(DefaultSystemCapacity, PolicyBlock)
}

// NewObservability creates a Channel at the default system capacity with
// the drop-oldest policy, suitable for report/error channels.
func NewObservability() *Channel {
	return New(DefaultSystemCapacity, PolicyDropOldest)
}

// Put enqueues f. Under PolicyBlock it blocks until space is available or
// the channel is closed, in which case it returns false. Under
// PolicyDropOldest it never blocks: if the channel is full it discards the
// oldest queued frame to make room.
//
// Put on a closed channel is a no-op that returns false.
func (c *Channel) Put(f frame.Frame) (sent bool) {
	if c.closed.Load() {
		return false
	}

	if c.policy == PolicyDropOldest {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed.Load() {
			return false
		}
		for {
			select {
			case c.ch <- f:
				return true
			default:
				select {
				case <-c.ch:
				default:
				}
			}
		}
	}

	defer func() {
		// Putting on a channel that was closed concurrently panics;
		// treat that race as a no-op failure rather than crashing the
		// processor loop.
		if recover() != nil {
			sent = false
		}
	}()
	c.ch <- f
	return true
}

// Take removes and returns the next frame. ok is false if the channel is
// closed and drained.
func (c *Channel) Take() (frame.Frame, bool) {
	f, ok := <-c.ch
	return f, ok
}

// Raw exposes the underlying receive-only channel for use with Select or
// a bare `for range`.
func (c *Channel) Raw() <-chan frame.Frame {
	return c.ch
}

// Close closes the channel. Close is idempotent: calling it more than once
// is a safe no-op. After Close, Put always returns false and Take drains
// any buffered frames before reporting ok=false, matching Go's native
// channel semantics.
func (c *Channel) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.ch)
	}
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}
