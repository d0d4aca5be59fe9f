// Package events implements the event fan-out path: the broadcaster that
// makes an event durable and visible, the per-user subscription filter,
// and the resumable SSE stream engine.
package events

// Well-known event types emitted by the hub itself. Domain producers may
// publish any dot-separated type; these are the ones the hub's own code
// paths create or treat specially.
const (
	TypeMessageCreated  = "message.created"
	TypeMentionCreated  = "mention.created"
	TypeCommandInvoked  = "command.invoked"
	TypeEventsReset     = "events.reset"
	TypeSessionRevoked  = "session.revoked"
	TypeProjectAssigned = "project.user_assigned"
)
