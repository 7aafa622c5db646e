// ABOUTME: WebSocket close codes reported to the remote peer
// ABOUTME: Setup failures carry only a code, never the reason a credential failed

package gateway

import "github.com/gorilla/websocket"

// Close codes in the application range, matching the original wire
// contract. The code is the only failure detail the peer receives; it is
// precise enough to decide whether reconnecting makes sense (rate-limited
// yes, forbidden no).
const (
	// CloseNormal is a graceful close such as a remote-initiated disconnect.
	CloseNormal = websocket.CloseNormalClosure

	// CloseGoingAway is a server-initiated shutdown or lifetime eviction.
	CloseGoingAway = websocket.CloseGoingAway

	// CloseViolation terminates a session that sent a non-whitelisted
	// inbound discriminant on the producer-only channel.
	CloseViolation = websocket.ClosePolicyViolation

	// CloseBadRequest: missing or malformed identity or credential parameter.
	CloseBadRequest = 4000

	// CloseUnauthorized: credential invalid, expired, or unverifiable.
	CloseUnauthorized = 4001

	// CloseForbidden: credential verified but identity mismatch against the
	// path, or disallowed origin.
	CloseForbidden = 4003

	// CloseRateLimited: concurrency cap exceeded for the identity.
	CloseRateLimited = 4429
)

func closeCodeName(code int) string {
	switch code {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going-away"
	case CloseViolation:
		return "policy-violation"
	case CloseBadRequest:
		return "bad-request"
	case CloseUnauthorized:
		return "unauthorized"
	case CloseForbidden:
		return "forbidden"
	case CloseRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}
