package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat payload in a channel. Messages are created by users or
// external producers and never edited.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	OrgID     uuid.UUID   `json:"org_id"`
	ChannelID uuid.UUID   `json:"channel_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Content   string      `json:"content"`
	Mentions  []uuid.UUID `json:"mentions"`
	CreatedAt time.Time   `json:"created_at"`
}

// MessageView is a message enriched with sender identity for API responses
// and chat-stream broadcast payloads.
type MessageView struct {
	Message
	SenderDisplayName string `json:"sender_display_name,omitempty"`
	SenderKind        string `json:"sender_kind,omitempty"`
}
