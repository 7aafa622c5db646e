// ABOUTME: ConnectionHandle, the live exclusively-owned view of one connection
// ABOUTME: Owns the outbound buffer; delivery and teardown never race

package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/frame-gateway/internal/stream"
)

// outboundBufferSize is the per-handle event buffer. A subscriber that
// falls this far behind is torn down rather than allowed to stall the
// publish path.
const outboundBufferSize = 64

// Handle represents one live duplex connection. It is created on
// successful authorization and mutated only by its owning session
// (activity refresh) and the publish path (outbound buffer). Destruction
// is exactly-once and visible to delivery atomically: no event lands in
// the buffer after teardown begins.
type Handle struct {
	ID        string
	identity  string
	topic     stream.Topic
	createdAt time.Time

	lastActive atomic.Int64 // unix nanos

	mu     sync.RWMutex
	closed bool
	out    chan *stream.Event
	done   chan struct{}
}

// NewHandle creates a handle for an authorized connection.
func NewHandle(identity string, topic stream.Topic) *Handle {
	h := &Handle{
		ID:        uuid.New().String(),
		identity:  identity,
		topic:     topic,
		createdAt: time.Now(),
		out:       make(chan *stream.Event, outboundBufferSize),
		done:      make(chan struct{}),
	}
	h.lastActive.Store(h.createdAt.UnixNano())
	return h
}

// Identity returns the owning identity. Immutable for the handle's lifetime.
func (h *Handle) Identity() string { return h.identity }

// Topic returns the single topic this handle subscribes to.
func (h *Handle) Topic() stream.Topic { return h.topic }

// CreatedAt returns the connection establishment time.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// LastActive returns the last inbound-activity timestamp.
func (h *Handle) LastActive() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

// Touch refreshes the activity timestamp. Called by the owning session on
// accepted inbound heartbeats.
func (h *Handle) Touch() {
	h.lastActive.Store(time.Now().UnixNano())
}

// Deliver enqueues an event on the handle's exclusive write path without
// blocking. Returns false if the handle is closed or its buffer is full;
// a full buffer also begins teardown so the owning session disconnects
// the slow peer.
func (h *Handle) Deliver(event *stream.Event) bool {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return false
	}
	// Hold the read lock while sending so Close cannot close the channel
	// mid-send.
	select {
	case h.out <- event:
		h.mu.RUnlock()
		return true
	default:
		h.mu.RUnlock()
		h.Close()
		return false
	}
}

// Outbound is the event stream drained by the owning session's write loop.
// It is closed when teardown begins.
func (h *Handle) Outbound() <-chan *stream.Event { return h.out }

// Done is closed when teardown begins, regardless of who initiated it
// (session, sweep, or a failed delivery).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close begins teardown. Idempotent; safe from any goroutine.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	close(h.out)
}

// Closed reports whether teardown has begun.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
