// ABOUTME: Session audit entities and the Recorder interface
// ABOUTME: Records connection lifecycle events for compliance and debugging

package store

import (
	"context"
	"time"
)

// AuditAction represents an auditable session lifecycle event.
type AuditAction string

const (
	AuditSessionAdmitted   AuditAction = "session_admitted"
	AuditSessionRejected   AuditAction = "session_rejected"
	AuditSessionClosed     AuditAction = "session_closed"
	AuditProtocolViolation AuditAction = "protocol_violation"
	AuditSweepEvicted      AuditAction = "sweep_evicted"
)

// AuditEntry is a single audit row. Detail is free-form context such as
// the offending inbound discriminant or the remote address.
type AuditEntry struct {
	ID             string
	Identity       string
	ConversationID string
	Action         AuditAction
	CloseCode      int
	Detail         map[string]any
	Timestamp      time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Identity *string
	Action   *AuditAction
	Since    *time.Time
	Limit    int // default 100, max 1000
}

// Recorder receives audit entries. Recording is best-effort diagnostics:
// implementations log failures and never propagate them into the
// connection path.
type Recorder interface {
	Record(ctx context.Context, entry *AuditEntry)
	Close() error
}

// NopRecorder discards entries. Used when no audit database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *AuditEntry) {}

func (NopRecorder) Close() error { return nil }
