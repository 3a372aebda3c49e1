package models

import json "github.com/goccy/go-json"

// Realtime event names delivered to connected clients.
const (
	EventMatchFound    = "match_found"
	EventChatReceived  = "chat_received"
	EventInteraction   = "interaction"
	EventMutualMatch   = "mutual_match"
	EventSessionClosed = "session_closed"
	EventChatMessage   = "chat_message"
	EventPong          = "pong"
	EventError         = "error"
)

// Event is one frame written to a realtime client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ClientFrame is one frame read from a realtime client.
type ClientFrame struct {
	Type      string `json:"type"` // "chat_message", "ping"
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// RelayEnvelope carries an event between instances over Redis.
type RelayEnvelope struct {
	UserID  string          `json:"uid"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin"`
}
