// Package universe provides the shared in-memory directory of named frames
// a pipeline run coordinates through. Each cell holds the latest published
// Frame under a readers-writer lock and fans update notifications out to
// subscribed stages.
package universe

import (
	"sync"

	"github.com/capport/capport/frame"
	"github.com/capport/capport/log"
)

// DefaultBufferSize is the per-subscriber notification buffer used when the
// universe is built without an explicit size.
const DefaultBufferSize = 16

// Update notifies a subscriber that a cell holds a new generation. The
// frame itself is not carried; subscribers read the cell, which guarantees
// they observe the latest generation even when intermediate notifications
// were coalesced away.
type Update struct {
	Cell       string
	Generation uint64
	Producer   string
}

// Subscription is one listener's handle on a cell's update channel. C is
// closed when the cell shuts down; receivers must treat that as a
// cancellation point.
type Subscription struct {
	C <-chan Update

	name    string
	ch      chan Update
	dropped uint64
	cell    *Cell
}

// Dropped returns how many notifications were discarded on this
// subscription because the receiver lagged behind the buffer.
func (s *Subscription) Dropped() uint64 {
	s.cell.submu.Lock()
	defer s.cell.submu.Unlock()
	return s.dropped
}

// Cell is a single slot in the universe: the current frame, a monotonic
// generation counter and the subscriber fan-out. The zero generation means
// nothing has been published yet.
type Cell struct {
	name    string
	bufsize int

	mu         sync.RWMutex
	frame      *frame.Frame
	generation uint64
	dirty      bool

	submu  sync.Mutex
	subs   []*Subscription
	closed bool
}

func newCell(name string, bufsize int) *Cell {
	return &Cell{name: name, bufsize: bufsize, frame: frame.Empty()}
}

// Name returns the cell's label in the universe.
func (c *Cell) Name() string {
	return c.name
}

// Read returns a snapshot of the current frame and its generation. The
// returned frame is immutable and safe to hold past the call.
func (c *Cell) Read() (*frame.Frame, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.generation
}

// Generation returns the current publication generation.
func (c *Cell) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Publish atomically replaces the cell's frame, advances the generation
// and wakes every subscriber. Overflowing subscriber buffers drop their
// oldest notification; the dirty flag guarantees a lagging listener still
// observes the newest generation when it reads.
func (c *Cell) Publish(f *frame.Frame, producer string) uint64 {
	c.mu.Lock()
	c.frame = f
	c.generation++
	c.dirty = true
	gen := c.generation
	c.mu.Unlock()

	u := Update{Cell: c.name, Generation: gen, Producer: producer}
	c.submu.Lock()
	defer c.submu.Unlock()
	if c.closed {
		return gen
	}
	for _, sub := range c.subs {
		select {
		case sub.ch <- u:
		default:
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- u:
			default:
			}
		}
	}
	log.With("cell", c.name).With("generation", gen).With("producer", producer).Debugln("frame published")
	return gen
}

// MarkClean clears the dirty flag, returning whether it was set. Sinks use
// this to skip re-emitting an unchanged frame on spurious wakes.
func (c *Cell) MarkClean() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.dirty
	c.dirty = false
	return was
}

// Subscribe registers a listener. A late subscriber immediately observes
// the current generation by calling Read; the channel only carries
// generations published after the subscription.
func (c *Cell) Subscribe(name string) *Subscription {
	ch := make(chan Update, c.bufsize)
	sub := &Subscription{C: ch, name: name, ch: ch, cell: c}
	c.submu.Lock()
	defer c.submu.Unlock()
	if c.closed {
		close(ch)
		return sub
	}
	c.subs = append(c.subs, sub)
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (c *Cell) Unsubscribe(sub *Subscription) {
	c.submu.Lock()
	defer c.submu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close closes every subscriber channel. Subsequent publishes still update
// the frame but notify no one; subsequent subscriptions receive an already
// closed channel.
func (c *Cell) Close() {
	c.submu.Lock()
	defer c.submu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, sub := range c.subs {
		close(sub.ch)
	}
	c.subs = nil
}
