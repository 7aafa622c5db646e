// ABOUTME: Outbound event types for the streaming gateway wire protocol
// ABOUTME: Events are immutable once constructed and JSON-framed for delivery

package stream

import (
	"encoding/json"
	"time"
)

// EventKind is the discriminant of an outbound event.
type EventKind string

const (
	KindStatus   EventKind = "llm_status"
	KindFrame    EventKind = "llm_frame"
	KindResponse EventKind = "llm_response"
	KindError    EventKind = "llm_error"
	// KindSystem carries connection-lifecycle notices and is the only kind
	// not originated by the task executor.
	KindSystem EventKind = "system"
)

// Status values carried by a KindStatus event.
type Status string

const (
	StatusStarted    Status = "started"
	StatusProcessing Status = "processing"
	StatusThinking   Status = "thinking"
	StatusStreaming  Status = "streaming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Topic addresses a logical stream: one user's updates for one conversation.
// Multiple connections (tabs) may subscribe to the same topic.
type Topic struct {
	Identity       string
	ConversationID string
}

// String returns the map key form. "|" is safe because identities and
// conversation IDs come from URL path segments and query values that
// exclude it at parse time.
func (t Topic) String() string {
	return t.Identity + "|" + t.ConversationID
}

// Event is one outbound message. Construct via NewEvent; never mutate.
type Event struct {
	Type      EventKind       `json:"type"`
	Identity  string          `json:"user_id"`
	ChatID    string          `json:"chat_id"`
	Status    Status          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent constructs an immutable event for the given topic. The
// generation timestamp is fixed at construction, not at delivery.
func NewEvent(kind EventKind, topic Topic, payload json.RawMessage) *Event {
	return &Event{
		Type:      kind,
		Identity:  topic.Identity,
		ChatID:    topic.ConversationID,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewStatusEvent constructs a status event with an enum value and free text.
func NewStatusEvent(topic Topic, status Status, message string) *Event {
	e := NewEvent(KindStatus, topic, nil)
	e.Status = status
	e.Message = message
	return e
}

// NewSystemEvent constructs a lifecycle notice such as the post-handshake
// "connected" confirmation.
func NewSystemEvent(topic Topic, status, message string) *Event {
	e := NewEvent(KindSystem, topic, nil)
	e.Status = Status(status)
	e.Message = message
	return e
}

// Topic returns the topic the event was published for.
func (e *Event) Topic() Topic {
	return Topic{Identity: e.Identity, ConversationID: e.ChatID}
}
