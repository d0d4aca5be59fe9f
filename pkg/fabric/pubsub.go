package fabric

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventsChannel carries every org's events on one shared pub/sub channel.
// Subscribers discriminate by the org_id inside each payload.
const EventsChannel = "mc:events:pubsub"

// ChatChannel returns the per-org chat fan-out channel name.
func ChatChannel(orgID uuid.UUID) string {
	return fmt.Sprintf("mc:chat:%s", orgID)
}

// PubSub publishes and subscribes raw JSON payloads over Redis channels.
type PubSub struct {
	client *redis.Client
}

// NewPubSub creates a pub/sub handle on client.
func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

// PublishEvent pushes an encoded event to the shared events channel.
// Delivery is best effort: a failure here never rolls back the durable
// append that preceded it.
func (p *PubSub) PublishEvent(ctx context.Context, payload []byte) error {
	if err := p.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishChat pushes an encoded chat frame to the org's chat channel.
func (p *PubSub) PublishChat(ctx context.Context, orgID uuid.UUID, payload []byte) error {
	if err := p.client.Publish(ctx, ChatChannel(orgID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish chat frame: %w", err)
	}
	return nil
}

// SubscribeEvents opens a subscription on the shared events channel.
// The caller owns the returned subscription and must Close it.
func (p *PubSub) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, EventsChannel)
}

// SubscribeChat opens a subscription on the org's chat channel.
func (p *PubSub) SubscribeChat(ctx context.Context, orgID uuid.UUID) *redis.PubSub {
	return p.client.Subscribe(ctx, ChatChannel(orgID))
}
