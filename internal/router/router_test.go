// ABOUTME: Tests for topic fan-out, ordering, isolation, and churn tolerance
// ABOUTME: Mirrors the spec scenarios for multi-tab delivery and zero subscribers

package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/frame-gateway/internal/registry"
	"github.com/2389/frame-gateway/internal/stream"
)

func topic(identity, conv string) stream.Topic {
	return stream.Topic{Identity: identity, ConversationID: conv}
}

func TestRouter_PublishWithNoSubscribers(t *testing.T) {
	r := New(nil)

	delivered := r.Publish(topic("u1", "c1"), stream.NewStatusEvent(topic("u1", "c1"), stream.StatusStarted, ""))
	assert.Equal(t, 0, delivered)
}

func TestRouter_SingleSubscriberReceivesInPublishOrder(t *testing.T) {
	r := New(nil)
	tp := topic("u1", "c1")
	h := registry.NewHandle("u1", tp)
	r.Subscribe(tp, h)

	const n = 20
	for i := range n {
		e := stream.NewStatusEvent(tp, stream.StatusStreaming, fmt.Sprintf("frame-%d", i))
		require.Equal(t, 1, r.Publish(tp, e))
	}

	for i := range n {
		e := <-h.Outbound()
		assert.Equal(t, fmt.Sprintf("frame-%d", i), e.Message, "events must arrive in publish order")
	}
}

func TestRouter_MultipleTabsReceiveIdenticalEvent(t *testing.T) {
	r := New(nil)
	tp := topic("u1", "c1")
	other := topic("u1", "c2")

	h1 := registry.NewHandle("u1", tp)
	h2 := registry.NewHandle("u1", tp)
	h3 := registry.NewHandle("u1", other)
	r.Subscribe(tp, h1)
	r.Subscribe(tp, h2)
	r.Subscribe(other, h3)

	event := stream.NewEvent(stream.KindResponse, tp, []byte(`{"text":"done"}`))
	assert.Equal(t, 2, r.Publish(tp, event))

	for _, h := range []*registry.Handle{h1, h2} {
		got := <-h.Outbound()
		assert.Same(t, event, got)
	}

	select {
	case e := <-h3.Outbound():
		t.Fatalf("subscriber on (u1,c2) received event for (u1,c1): %v", e)
	default:
	}
}

func TestRouter_UnsubscribeIsIdempotent(t *testing.T) {
	r := New(nil)
	tp := topic("u1", "c1")
	h := registry.NewHandle("u1", tp)

	r.Subscribe(tp, h)
	r.Unsubscribe(tp, h)
	r.Unsubscribe(tp, h)

	assert.Equal(t, 0, r.Subscribers(tp))
	assert.Equal(t, 0, r.Publish(tp, stream.NewStatusEvent(tp, stream.StatusStarted, "")))
}

func TestRouter_ClosedSubscriberDoesNotBlockOthers(t *testing.T) {
	r := New(nil)
	tp := topic("u1", "c1")

	dead := registry.NewHandle("u1", tp)
	live := registry.NewHandle("u1", tp)
	r.Subscribe(tp, dead)
	r.Subscribe(tp, live)

	dead.Close()

	event := stream.NewStatusEvent(tp, stream.StatusCompleted, "done")
	assert.Equal(t, 1, r.Publish(tp, event))
	assert.Same(t, event, <-live.Outbound())
}

func TestRouter_PublishToleratesConcurrentUnsubscribe(t *testing.T) {
	r := New(nil)
	tp := topic("u1", "c1")

	handles := make([]*registry.Handle, 20)
	for i := range handles {
		handles[i] = registry.NewHandle("u1", tp)
		r.Subscribe(tp, handles[i])
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 200 {
			r.Publish(tp, stream.NewStatusEvent(tp, stream.StatusStreaming, ""))
		}
	})
	for _, h := range handles {
		wg.Go(func() {
			// Drain a little, then leave mid-publish.
			for range 3 {
				select {
				case <-h.Outbound():
				default:
				}
			}
			r.Unsubscribe(tp, h)
			h.Close()
		})
	}
	wg.Wait()

	assert.Equal(t, 0, r.Subscribers(tp))
}
