package models

import "github.com/google/uuid"

// Topic kinds for subscription filters. An event matches a "project",
// "task" or "channel" entry when the corresponding payload id equals the
// topic id, and an "event_type" entry when the event type starts with the
// topic id (prefix match).
const (
	TopicKindProject   = "project"
	TopicKindTask      = "task"
	TopicKindChannel   = "channel"
	TopicKindEventType = "event_type"
)

// Subscription is one entry of a user's per-org event filter. A user with
// no subscriptions receives all events.
type Subscription struct {
	UserID    uuid.UUID `json:"-"`
	OrgID     uuid.UUID `json:"-"`
	TopicKind string    `json:"topic_type"`
	TopicID   string    `json:"topic_id"`
}

// ValidTopicKind reports whether k is a recognized topic kind.
func ValidTopicKind(k string) bool {
	switch k {
	case TopicKindProject, TopicKindTask, TopicKindChannel, TopicKindEventType:
		return true
	}
	return false
}
