// ABOUTME: Inbound frame schema and the producer-only whitelist
// ABOUTME: Only ping and heartbeat are legal once a session is streaming

package stream

// MaxInboundBytes caps inbound frame size. The streaming leg only carries
// liveness checks, so anything larger than a ping is abuse.
const MaxInboundBytes = 512

// Inbound frame discriminants accepted post-handshake.
const (
	InboundPing      = "ping"
	InboundHeartbeat = "heartbeat"
)

// Reply discriminants for accepted inbound frames.
const (
	ReplyPong         = "pong"
	ReplyHeartbeatAck = "heartbeat_ack"
)

// InboundFrame is a client-originated message. The gateway is
// producer-only: every discriminant outside the whitelist is a protocol
// violation that closes the session.
type InboundFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Allowed reports whether the frame's discriminant is on the whitelist.
func (f InboundFrame) Allowed() bool {
	return f.Type == InboundPing || f.Type == InboundHeartbeat
}

// PongReply answers a ping, echoing the client timestamp.
type PongReply struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp,omitempty"`
	ServerTime string `json:"server_time"`
	Identity   string `json:"user_id"`
}

// HeartbeatAck answers a heartbeat.
type HeartbeatAck struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}
