// ABOUTME: The narrow API the external task executor uses to emit events
// ABOUTME: Knows topics, never connections; an absent listener is not an error

package publisher

import (
	"encoding/json"
	"log/slog"

	"github.com/2389/frame-gateway/internal/router"
	"github.com/2389/frame-gateway/internal/stream"
)

// Mirror forwards locally published events to an external relay (e.g.
// NATS) for cross-node delivery. Implementations must never block the
// publishing task on relay failure.
type Mirror interface {
	Mirror(event *stream.Event)
}

// Publisher constructs immutable events and fans them out via the
// Channel Router. It is safe for concurrent use from any number of task
// executor goroutines.
type Publisher struct {
	router *router.Router
	mirror Mirror // nil when cross-node relay is disabled
	logger *slog.Logger
}

// New creates a publisher over the given router. mirror may be nil.
func New(r *router.Router, mirror Mirror, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		router: r,
		mirror: mirror,
		logger: logger.With("component", "publisher"),
	}
}

// Publish builds an event and delivers it to every subscriber of the
// topic, returning the delivered count. A count of zero means the client
// has no open tab for this stream, which is expected after a disconnect;
// the calling task must not treat it as failure.
func (p *Publisher) Publish(identity, conversationID string, kind stream.EventKind, payload json.RawMessage) int {
	topic := stream.Topic{Identity: identity, ConversationID: conversationID}
	return p.deliver(topic, stream.NewEvent(kind, topic, payload))
}

func (p *Publisher) publishStatus(identity, conversationID string, status stream.Status, message string) int {
	topic := stream.Topic{Identity: identity, ConversationID: conversationID}
	return p.deliver(topic, stream.NewStatusEvent(topic, status, message))
}

func (p *Publisher) deliver(topic stream.Topic, event *stream.Event) int {
	delivered := p.router.Publish(topic, event)
	if p.mirror != nil {
		p.mirror.Mirror(event)
	}
	if delivered == 0 {
		p.logger.Debug("no active listeners",
			"topic", topic.String(),
			"kind", event.Type)
	}
	return delivered
}

// NotifyStarted reports that the task began processing the prompt.
func (p *Publisher) NotifyStarted(identity, conversationID, prompt string) int {
	if len(prompt) > 50 {
		prompt = prompt[:50] + "..."
	}
	return p.publishStatus(identity, conversationID, stream.StatusStarted, "Processing prompt: "+prompt)
}

// NotifyThinking reports that the model is generating a response.
func (p *Publisher) NotifyThinking(identity, conversationID string) int {
	return p.publishStatus(identity, conversationID, stream.StatusThinking, "LLM is generating response...")
}

// NotifyStreamingStarted reports that incremental output is about to flow.
func (p *Publisher) NotifyStreamingStarted(identity, conversationID string) int {
	return p.publishStatus(identity, conversationID, stream.StatusStreaming, "Response is being streamed...")
}

// NotifyProgress delivers one incremental progress frame.
func (p *Publisher) NotifyProgress(identity, conversationID string, frame json.RawMessage) int {
	return p.Publish(identity, conversationID, stream.KindFrame, frame)
}

// NotifyCompleted delivers the terminal successful result.
func (p *Publisher) NotifyCompleted(identity, conversationID string, result json.RawMessage) int {
	return p.Publish(identity, conversationID, stream.KindResponse, result)
}

// NotifyFailed delivers a human-readable failure description. Internal
// diagnostic detail stays out of the payload.
func (p *Publisher) NotifyFailed(identity, conversationID, reason string) int {
	topic := stream.Topic{Identity: identity, ConversationID: conversationID}
	event := stream.NewEvent(stream.KindError, topic, nil)
	event.Message = reason
	return p.deliver(topic, event)
}
