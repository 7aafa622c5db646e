// ABOUTME: Optional NATS relay delegating cross-node fan-out to external pub/sub
// ABOUTME: Mirrors local events out and ingests remote events into the local router

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/2389/frame-gateway/internal/router"
	"github.com/2389/frame-gateway/internal/stream"
)

// nodeHeader tags mirrored messages with the originating gateway node so
// ingest can skip events this node already delivered locally.
const nodeHeader = "Frame-Gateway-Node"

// Relay connects a gateway node to a NATS subject space so a worker (or
// another gateway node) can reach subscribers on any node. The subject
// scheme is <prefix>.<identity>.<conversation> carrying the JSON-encoded
// event; the relay defines no further protocol.
type Relay struct {
	nc     *nats.Conn
	prefix string
	nodeID string
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewRelay connects to the NATS server. Reconnection is handled by the
// client; mirrored events during an outage are dropped, consistent with
// the no-durability contract of the streaming leg.
func NewRelay(url, prefix string, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nodeID := uuid.New().String()

	nc, err := nats.Connect(url,
		nats.Name("frame-gateway-"+nodeID[:8]),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &Relay{
		nc:     nc,
		prefix: prefix,
		nodeID: nodeID,
		logger: logger.With("component", "relay"),
	}, nil
}

// Mirror republishes a locally published event to the relay subject.
// Never fails the publishing task: relay errors are logged and dropped.
func (r *Relay) Mirror(event *stream.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshaling event for relay", "error", err)
		return
	}

	msg := &nats.Msg{
		Subject: r.subjectFor(event.Topic()),
		Header:  nats.Header{nodeHeader: []string{r.nodeID}},
		Data:    data,
	}
	if err := r.nc.PublishMsg(msg); err != nil {
		r.logger.Warn("relay publish failed", "subject", msg.Subject, "error", err)
	}
}

// Ingest subscribes to the whole subject space and republishes remote
// events into the local router. Self-originated events are skipped so
// local subscribers never see duplicates.
func (r *Relay) Ingest(ctx context.Context, rt *router.Router) error {
	sub, err := r.nc.Subscribe(r.prefix+".>", func(msg *nats.Msg) {
		r.handleMsg(msg, rt)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.>: %w", r.prefix, err)
	}
	r.sub = sub

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	r.logger.Info("relay ingest started", "prefix", r.prefix)
	return nil
}

// handleMsg routes one ingested message into the local router. Events
// tagged with this node's ID were already delivered locally by the
// publisher and are skipped; malformed payloads are dropped, not fatal.
func (r *Relay) handleMsg(msg *nats.Msg, rt *router.Router) {
	if msg.Header.Get(nodeHeader) == r.nodeID {
		return
	}

	var event stream.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		r.logger.Warn("dropping malformed relay event", "subject", msg.Subject, "error", err)
		return
	}

	delivered := rt.Publish(event.Topic(), &event)
	r.logger.Debug("relayed event delivered",
		"subject", msg.Subject,
		"delivered", delivered)
}

// Close drains and disconnects.
func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	if err := r.nc.Drain(); err != nil {
		r.nc.Close()
	}
}

// subjectFor maps a topic to its relay subject, replacing characters
// that are structural in NATS subjects. Routing correctness relies on
// the event body, not the subject, so the mapping need not be injective.
func (r *Relay) subjectFor(topic stream.Topic) string {
	clean := func(s string) string {
		s = strings.ReplaceAll(s, ".", "_")
		s = strings.ReplaceAll(s, "*", "_")
		s = strings.ReplaceAll(s, ">", "_")
		s = strings.ReplaceAll(s, " ", "_")
		if s == "" {
			return "_"
		}
		return s
	}
	return fmt.Sprintf("%s.%s.%s", r.prefix, clean(topic.Identity), clean(topic.ConversationID))
}
