// Package hub is a single bounded broadcast conduit: many publishers write
// opaque payloads into a ring, every subscriber reads through its own cursor.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"streamex.com/pkg/metrics"
	"streamex.com/pkg/xerr"
)

const DefaultCapacity = 500

var ErrClosed = errors.New("hub: closed")

// LagError reports that a cursor fell behind the ring and was moved forward.
// The cursor stays usable.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string { return fmt.Sprintf("hub: lagged, skipped %d events", e.Skipped) }

// Is lets errors.Is(err, xerr.NewErrCode(xerr.SubscriberLagged)) match.
func (e *LagError) Is(target error) bool {
	return xerr.CodeOf(target) == xerr.SubscriberLagged
}

type Hub struct {
	mu     sync.RWMutex
	ring   [][]byte
	size   uint64
	head   uint64        // sequence of the next publish; ring[seq%size]
	wake   chan struct{} // closed and replaced on every publish
	closed bool
}

func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring: make([][]byte, capacity),
		size: uint64(capacity),
		wake: make(chan struct{}),
	}
}

// Publish stores payload and wakes waiting cursors. It never blocks on
// subscribers; when the ring is full the oldest entry is overwritten.
// The hub keeps the slice, callers must not modify it afterwards.
func (h *Hub) Publish(payload []byte) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.ring[h.head%h.size] = payload
	h.head++
	close(h.wake)
	h.wake = make(chan struct{})
	h.mu.Unlock()

	metrics.HubPublishedTotal.Inc()
}

// Subscribe returns a cursor positioned after everything already published.
func (h *Hub) Subscribe() *Cursor {
	h.mu.RLock()
	next := h.head
	h.mu.RUnlock()

	metrics.HubSubscribers.Inc()
	return &Cursor{h: h, next: next}
}

// Close wakes every cursor; subsequent Recv calls drain what is left and then
// return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.wake)
}

// Capacity returns the ring size.
func (h *Hub) Capacity() int { return int(h.size) }

// Cursor is owned by one goroutine.
type Cursor struct {
	h        *Hub
	next     uint64
	released bool
}

// Recv returns the next payload. A cursor that fell more than Capacity events
// behind jumps to the oldest retained event and returns *LagError once.
func (c *Cursor) Recv(ctx context.Context) ([]byte, error) {
	h := c.h
	for {
		h.mu.RLock()
		head, wake, closed := h.head, h.wake, h.closed
		if c.next < head {
			if oldest := oldestSeq(head, h.size); c.next < oldest {
				skipped := oldest - c.next
				c.next = oldest
				h.mu.RUnlock()
				metrics.HubLaggedTotal.Add(float64(skipped))
				return nil, &LagError{Skipped: skipped}
			}
			b := h.ring[c.next%h.size]
			c.next++
			h.mu.RUnlock()
			return b, nil
		}
		h.mu.RUnlock()

		if closed {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Pending is how many published events this cursor has not read yet.
func (c *Cursor) Pending() uint64 {
	c.h.mu.RLock()
	defer c.h.mu.RUnlock()
	return c.h.head - c.next
}

// Close releases the subscription. Safe to call more than once.
func (c *Cursor) Close() {
	if c.released {
		return
	}
	c.released = true
	metrics.HubSubscribers.Dec()
}

func oldestSeq(head, size uint64) uint64 {
	if head <= size {
		return 0
	}
	return head - size
}
