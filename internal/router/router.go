// ABOUTME: Channel Router mapping topics to subscribed connection handles
// ABOUTME: Publish fans out over each handle's exclusive write path

package router

import (
	"log/slog"
	"sync"

	"github.com/2389/frame-gateway/internal/registry"
	"github.com/2389/frame-gateway/internal/stream"
)

// Router is the outbound fan-out table. Subscribers register a handle
// under exactly one topic for the handle's lifetime; the publish path
// resolves the topic and delivers to every current subscriber.
type Router struct {
	mu     sync.RWMutex
	topics map[string]map[string]*registry.Handle // topic key -> handle ID -> handle
	logger *slog.Logger
}

// New creates a router. Pass nil logger for the default.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		topics: make(map[string]map[string]*registry.Handle),
		logger: logger.With("component", "router"),
	}
}

// Subscribe adds the handle to the topic's subscriber set.
func (r *Router) Subscribe(topic stream.Topic, h *registry.Handle) {
	key := topic.String()

	r.mu.Lock()
	if _, ok := r.topics[key]; !ok {
		r.topics[key] = make(map[string]*registry.Handle)
	}
	r.topics[key][h.ID] = h
	r.mu.Unlock()

	r.logger.Debug("subscriber added", "topic", key, "handle_id", h.ID)
}

// Unsubscribe removes the handle. Idempotent.
func (r *Router) Unsubscribe(topic stream.Topic, h *registry.Handle) {
	key := topic.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[key]
	if !ok {
		return
	}
	if _, exists := subs[h.ID]; !exists {
		return
	}
	delete(subs, h.ID)
	if len(subs) == 0 {
		delete(r.topics, key)
	}

	r.logger.Debug("subscriber removed", "topic", key, "handle_id", h.ID)
}

// Publish delivers the event to every handle currently subscribed to the
// topic and returns the delivered count. Zero subscribers is not an
// error; the event is dropped. A slow or closed subscriber never blocks
// delivery to the others: each handle's Deliver is non-blocking and a
// failure is local to that handle.
func (r *Router) Publish(topic stream.Topic, event *stream.Event) int {
	key := topic.String()

	// Snapshot under read lock so a concurrent unsubscribe cannot stall
	// or corrupt the iteration.
	r.mu.RLock()
	subs := r.topics[key]
	targets := make([]*registry.Handle, 0, len(subs))
	for _, h := range subs {
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range targets {
		if h.Deliver(event) {
			delivered++
			continue
		}
		r.logger.Warn("delivery failed, dropping subscriber",
			"topic", key,
			"handle_id", h.ID)
	}
	return delivered
}

// Subscribers returns the current subscriber count for a topic.
func (r *Router) Subscribers(topic stream.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic.String()])
}
