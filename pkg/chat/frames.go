// Package chat implements the WebSocket chat multiplexer: per-org
// connection groups, channel subscriptions, message persistence and
// cross-instance fan-out over the Redis fabric.
package chat

import (
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Close codes sent when the server terminates a connection.
const (
	CloseAuthFailed      websocket.StatusCode = 4001
	CloseConnectionLimit websocket.StatusCode = 4029
)

// Close reasons paired with the codes above.
const (
	ReasonCredentialRevoked = "credential_revoked"
	ReasonConnectionLimit   = "connection_limit_exceeded"
)

// Client frame types.
const (
	FramePing          = "ping"
	FrameSubscribe     = "subscribe"
	FrameUnsubscribe   = "unsubscribe"
	FrameMessage       = "message"
	FrameTyping        = "typing"
	FrameTypingStopped = "typing_stopped"
)

// Server frame types.
const (
	FramePong         = "pong"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameEstablished  = "connection.established"
	FrameError        = "error"

	// FrameSessionRevoked is a control frame on the org chat channel; it
	// closes matching local connections instead of being delivered.
	FrameSessionRevoked = "session.revoked"
)

// ClientFrame is a frame received from a client.
type ClientFrame struct {
	Type string `json:"type"`
	// ChannelIDs carries the subscribe frame's channel set; unsubscribe
	// and the per-channel frames use the singular ChannelID.
	ChannelIDs []string `json:"channel_ids,omitempty"`
	ChannelID  string   `json:"channel_id,omitempty"`
	Content    string   `json:"content,omitempty"`
	// Mentions supplements the ids parsed out of content.
	Mentions []string `json:"mentions,omitempty"`
	// ClientID is an opaque client-chosen id echoed back on the sender's
	// own message frame so it can reconcile optimistic sends.
	ClientID string `json:"client_id,omitempty"`
}

// ServerFrame is a frame sent to a client.
type ServerFrame struct {
	Type       string          `json:"type"`
	ChannelIDs []string        `json:"channel_ids,omitempty"`
	ChannelID  string          `json:"channel_id,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// envelope carries a server frame across instances over the org chat
// channel, tagged with the channel it belongs to for local routing.
type envelope struct {
	ChannelID uuid.UUID       `json:"channel_id"`
	Frame     json.RawMessage `json:"frame"`
}

func errorFrame(code, message string) ServerFrame {
	return ServerFrame{Type: FrameError, Code: code, Message: message}
}
