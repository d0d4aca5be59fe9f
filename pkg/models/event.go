package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor kinds for events.
const (
	ActorKindHuman  = "human"
	ActorKindAgent  = "agent"
	ActorKindSystem = "system"
)

// Event is an immutable record in the per-org event log. sequence_id is
// assigned at append time and strictly increases within an org.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	SequenceID int64          `json:"sequence_id"`
	OrgID      uuid.UUID      `json:"org_id"`
	Type       string         `json:"type"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	ActorKind  string         `json:"actor_kind"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Encode returns the canonical JSON encoding used on the fabric, in the
// ring buffer, and on the SSE wire.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// PayloadString returns payload[key] as a string, or "" when absent or not
// a string. The core routes on a handful of well-known payload keys
// (project_id, task_id, channel_id, sender_id); payloads themselves are
// schema-free.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
