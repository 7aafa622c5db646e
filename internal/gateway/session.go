// ABOUTME: Per-connection gateway session: handshake, auth, whitelist, delivery
// ABOUTME: Producer-only by design; clients may send nothing but liveness checks

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/frame-gateway/internal/auth"
	"github.com/2389/frame-gateway/internal/registry"
	"github.com/2389/frame-gateway/internal/router"
	"github.com/2389/frame-gateway/internal/store"
	"github.com/2389/frame-gateway/internal/stream"
)

// writeTimeout bounds a single frame write to a slow peer.
const writeTimeout = 10 * time.Second

// wsConn is the subset of *websocket.Conn the session uses. Tests
// substitute a fake so the state machine runs without network I/O.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// sessionParams carries everything extracted from the upgrade request.
type sessionParams struct {
	// ClaimedIdentity is the path-addressed identity claim.
	ClaimedIdentity string

	// Credential is the bearer token from the query or header.
	Credential string

	// ConversationID selects the stream within the identity's channel.
	ConversationID string

	Origin     string
	RemoteAddr string
}

// Session is the per-connection state machine. It owns exactly one
// connection and one handle; no other session ever mutates them.
type Session struct {
	conn   wsConn
	params sessionParams

	verifier       auth.Verifier
	registry       *registry.Registry
	router         *router.Router
	recorder       store.Recorder
	allowedOrigins []string
	logger         *slog.Logger

	// set during setup
	identity string
	topic    stream.Topic
	handle   *registry.Handle

	stateMu sync.Mutex
	state   State

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn wsConn, params sessionParams, verifier auth.Verifier, reg *registry.Registry, rt *router.Router, rec store.Recorder, allowedOrigins []string, logger *slog.Logger) *Session {
	return &Session{
		conn:           conn,
		params:         params,
		verifier:       verifier,
		registry:       reg,
		router:         rt,
		recorder:       rec,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "session", "remote", params.RemoteAddr),
		state:          StateConnecting,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// advance moves the session to the next state, enforcing the transition
// table. Every transition is a diagnostic point.
func (s *Session) advance(to State) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.state, to)
	}
	s.logger.Debug("session transition", "from", s.state.String(), "to", to.String())
	s.state = to
	return nil
}

// run drives the session from handshake to termination. It blocks until
// the connection closes.
func (s *Session) run(ctx context.Context) {
	code, err := s.setup(ctx)
	if err != nil {
		s.logger.Warn("connection rejected",
			"claimed_identity", s.params.ClaimedIdentity,
			"code", closeCodeName(code),
			"error", err)
		s.recorder.Record(ctx, &store.AuditEntry{
			Identity:       s.params.ClaimedIdentity,
			ConversationID: s.params.ConversationID,
			Action:         store.AuditSessionRejected,
			CloseCode:      code,
			Detail:         map[string]any{"remote": s.params.RemoteAddr},
		})
		s.teardown(ctx, code)
		return
	}

	s.logger.Info("connection established",
		"identity", s.identity,
		"conversation_id", s.topic.ConversationID,
		"handle_id", s.handle.ID)

	// Server shutdown must unblock the read loop by closing the
	// connection underneath it.
	go func() {
		select {
		case <-ctx.Done():
			s.teardown(context.Background(), CloseGoingAway)
		case <-s.handle.Done():
		}
	}()

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

// setup walks Connecting -> Authenticating -> Authorized -> Streaming.
// On failure it returns the close code to report; any reservation taken
// along the way is released on every non-success path.
func (s *Session) setup(ctx context.Context) (int, error) {
	if err := s.advance(StateAuthenticating); err != nil {
		return CloseBadRequest, err
	}

	if s.params.ClaimedIdentity == "" {
		return CloseBadRequest, errors.New("no identity in path")
	}
	if s.params.Credential == "" {
		return CloseBadRequest, errors.New("no authentication token")
	}

	identity, err := s.verifier.Verify(s.params.Credential)
	if err != nil {
		return CloseUnauthorized, err
	}

	// Authorization is distinct from authentication: a valid credential
	// for the wrong channel closes forbidden, not unauthorized.
	if identity != s.params.ClaimedIdentity {
		return CloseForbidden, fmt.Errorf("identity %q cannot access channel %q", identity, s.params.ClaimedIdentity)
	}

	if !originAllowed(s.params.Origin, s.allowedOrigins) {
		return CloseForbidden, fmt.Errorf("origin %q not allowed", s.params.Origin)
	}

	if err := s.advance(StateAuthorized); err != nil {
		return CloseBadRequest, err
	}

	res, err := s.registry.TryAdmit(identity)
	if err != nil {
		return CloseRateLimited, err
	}
	// Release fires on every exit path below; it is a no-op once the
	// reservation has been converted by Register.
	defer res.Release()

	s.identity = identity
	s.topic = stream.Topic{Identity: identity, ConversationID: s.params.ConversationID}
	handle := registry.NewHandle(identity, s.topic)

	if err := res.Register(handle); err != nil {
		return CloseBadRequest, err
	}
	s.handle = handle
	s.router.Subscribe(s.topic, handle)

	if err := s.advance(StateStreaming); err != nil {
		return CloseBadRequest, err
	}

	s.recorder.Record(ctx, &store.AuditEntry{
		Identity:       identity,
		ConversationID: s.topic.ConversationID,
		Action:         store.AuditSessionAdmitted,
		Detail:         map[string]any{"remote": s.params.RemoteAddr, "handle_id": handle.ID},
	})

	// Connection confirmation; the only event kind the gateway itself
	// originates.
	handle.Deliver(stream.NewSystemEvent(s.topic, "connected", "WebSocket connection established"))

	return CloseNormal, nil
}

// readLoop enforces the producer-only inbound whitelist: ping and
// heartbeat are answered and refresh activity, anything else terminates
// the session. All application commands travel over the request-intake
// API, never this channel.
func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(stream.MaxInboundBytes)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// The connection enforces SetReadLimit itself: an oversized
			// inbound frame surfaces here as ErrReadLimit, never as data.
			if errors.Is(err, websocket.ErrReadLimit) {
				s.violation(ctx, "oversized", stream.MaxInboundBytes)
				return
			}
			// Remote disconnect or connection already torn down.
			s.teardown(ctx, CloseNormal)
			return
		}

		var frame stream.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed JSON gets an error reply rather than a close;
			// only a recognizable foreign discriminant is a violation.
			_ = s.writeJSON(map[string]string{
				"type":      "error",
				"message":   "Invalid JSON format",
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			})
			continue
		}

		switch frame.Type {
		case stream.InboundPing:
			s.handle.Touch()
			_ = s.writeJSON(stream.PongReply{
				Type:       stream.ReplyPong,
				Timestamp:  frame.Timestamp,
				ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
				Identity:   s.identity,
			})
		case stream.InboundHeartbeat:
			s.handle.Touch()
			_ = s.writeJSON(stream.HeartbeatAck{
				Type:      stream.ReplyHeartbeatAck,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Status:    "connected",
			})
		default:
			s.violation(ctx, frame.Type, len(data))
			return
		}
	}
}

// violation records the diagnostic and closes the session. Never
// silently ignored.
func (s *Session) violation(ctx context.Context, frameType string, size int) {
	s.logger.Warn("protocol violation on producer-only channel",
		"identity", s.identity,
		"frame_type", frameType,
		"size", size)
	s.recorder.Record(ctx, &store.AuditEntry{
		Identity:       s.identity,
		ConversationID: s.topic.ConversationID,
		Action:         store.AuditProtocolViolation,
		CloseCode:      CloseViolation,
		Detail:         map[string]any{"frame_type": frameType, "size": size},
	})
	s.teardown(ctx, CloseViolation)
}

// writeLoop drains the handle's exclusive outbound buffer onto the wire.
// A write failure is local to this session: it tears the session down
// and never propagates to the publisher or other subscribers.
func (s *Session) writeLoop(ctx context.Context) {
	for event := range s.handle.Outbound() {
		if err := s.writeJSON(event); err != nil {
			s.logger.Debug("outbound write failed", "identity", s.identity, "error", err)
			s.teardown(ctx, CloseNormal)
			// Keep draining so teardown's channel close completes.
			continue
		}
	}
	// Outbound closed externally: sweep eviction or shutdown.
	s.teardown(ctx, CloseGoingAway)
}

// writeJSON marshals and writes one frame. The mutex serializes the read
// loop's replies with the write loop's events; gorilla connections allow
// only one concurrent writer.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// teardown is the single exit path: unsubscribe before release so no
// publish targets the handle mid-teardown, then report the close code to
// the peer. Exactly-once; a Closed session accepts no further operations.
func (s *Session) teardown(ctx context.Context, code int) {
	s.closeOnce.Do(func() {
		_ = s.advance(StateClosing)

		if s.handle != nil {
			s.router.Unsubscribe(s.topic, s.handle)
			s.registry.Release(s.handle)

			s.recorder.Record(ctx, &store.AuditEntry{
				Identity:       s.identity,
				ConversationID: s.topic.ConversationID,
				Action:         store.AuditSessionClosed,
				CloseCode:      code,
				Detail:         map[string]any{"handle_id": s.handle.ID},
			})
		}

		deadline := time.Now().Add(writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""), deadline)
		_ = s.conn.Close()

		_ = s.advance(StateClosed)

		s.logger.Info("session closed",
			"identity", s.identity,
			"code", closeCodeName(code))
	})
}

// originAllowed checks the upgrade Origin header against the allowlist.
// An empty allowlist admits everything (same-origin and native clients
// send no Origin at all); an absent header is always allowed.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	return false
}
