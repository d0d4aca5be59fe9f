package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// EventLog is the durable side of the broadcast path.
type EventLog interface {
	Append(ctx context.Context, ev models.Event) (*models.Event, error)
	Range(ctx context.Context, orgID uuid.UUID, afterSeq int64, limit int) ([]models.Event, error)
	MinSequenceID(ctx context.Context, orgID uuid.UUID) (int64, error)
}

// RingWriter caches recent events for replay.
type RingWriter interface {
	Push(ctx context.Context, orgID uuid.UUID, payload []byte) error
}

// Publisher fans an event out to live subscribers across instances.
type Publisher interface {
	PublishEvent(ctx context.Context, payload []byte) error
}

// Broadcaster is the single write path for events: append to the durable
// log first, then cache in the ring buffer, then publish. Only the append
// can fail the call. Ring and publish failures are logged and swallowed,
// since replay recovers anything live delivery misses.
type Broadcaster struct {
	log    EventLog
	ring   RingWriter
	pubsub Publisher
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(log EventLog, ring RingWriter, pubsub Publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{log: log, ring: ring, pubsub: pubsub, logger: logger}
}

// Broadcast persists ev and fans it out, returning the stored event with
// its assigned sequence id.
func (b *Broadcaster) Broadcast(ctx context.Context, ev models.Event) (*models.Event, error) {
	stored, err := b.log.Append(ctx, ev)
	if err != nil {
		return nil, err
	}

	payload, err := stored.Encode()
	if err != nil {
		b.logger.Error("Failed to encode event for fan-out",
			"event_id", stored.ID, "error", err)
		return stored, nil
	}

	if err := b.ring.Push(ctx, stored.OrgID, payload); err != nil {
		b.logger.Warn("Failed to cache event in ring buffer",
			"event_id", stored.ID, "org_id", stored.OrgID, "error", err)
	}

	if err := b.pubsub.PublishEvent(ctx, payload); err != nil {
		b.logger.Warn("Failed to publish event",
			"event_id", stored.ID, "org_id", stored.OrgID, "error", err)
	}

	return stored, nil
}
