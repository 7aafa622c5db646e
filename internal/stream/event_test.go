// ABOUTME: Tests for event construction and the inbound whitelist
// ABOUTME: Covers JSON shape, timestamp immutability, and discriminant checks

package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_CarriesTopicAndTimestamp(t *testing.T) {
	topic := Topic{Identity: "u1", ConversationID: "c1"}
	e := NewEvent(KindFrame, topic, json.RawMessage(`{"progress":42}`))

	assert.Equal(t, KindFrame, e.Type)
	assert.Equal(t, "u1", e.Identity)
	assert.Equal(t, "c1", e.ChatID)
	assert.Equal(t, topic, e.Topic())

	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestNewStatusEvent_JSONShape(t *testing.T) {
	e := NewStatusEvent(Topic{Identity: "u1", ConversationID: "c1"}, StatusProcessing, "Processing your request...")

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "llm_status", decoded["type"])
	assert.Equal(t, "u1", decoded["user_id"])
	assert.Equal(t, "c1", decoded["chat_id"])
	assert.Equal(t, "processing", decoded["status"])
	assert.Equal(t, "Processing your request...", decoded["message"])
	assert.NotContains(t, decoded, "data", "status events carry no raw payload")
}

func TestNewSystemEvent(t *testing.T) {
	e := NewSystemEvent(Topic{Identity: "u1", ConversationID: "c1"}, "connected", "WebSocket connection established")

	assert.Equal(t, KindSystem, e.Type)
	assert.Equal(t, "connected", string(e.Status))
	assert.Equal(t, "WebSocket connection established", e.Message)
}

func TestTopicString(t *testing.T) {
	assert.Equal(t, "u1|c2", Topic{Identity: "u1", ConversationID: "c2"}.String())
	assert.NotEqual(t,
		Topic{Identity: "u1", ConversationID: "c1"}.String(),
		Topic{Identity: "u1", ConversationID: "c2"}.String())
}

func TestInboundFrame_Whitelist(t *testing.T) {
	tests := []struct {
		frameType string
		allowed   bool
	}{
		{"ping", true},
		{"heartbeat", true},
		{"subscribe", false},
		{"send_message", false},
		{"pong", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.frameType, func(t *testing.T) {
			f := InboundFrame{Type: tt.frameType}
			assert.Equal(t, tt.allowed, f.Allowed())
		})
	}
}
