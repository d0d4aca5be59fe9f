package fabric

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// RingSize is the number of recent events kept per org for replay.
	RingSize = 500

	// ringTTL expires an org's buffer after a day without activity.
	ringTTL = 24 * time.Hour
)

// RingBuffer keeps the most recent events per org in a capped Redis list,
// newest first. It serves reconnect replays without touching the database
// when the gap is small.
type RingBuffer struct {
	client *redis.Client
	size   int64
}

// NewRingBuffer creates a ring buffer of the default size on client.
func NewRingBuffer(client *redis.Client) *RingBuffer {
	return &RingBuffer{client: client, size: RingSize}
}

func ringKey(orgID uuid.UUID) string {
	return fmt.Sprintf("mc:sse:buffer:%s", orgID)
}

// Push prepends an encoded event to the org's buffer, trims to capacity
// and refreshes the TTL, all in one pipeline round trip.
func (r *RingBuffer) Push(ctx context.Context, orgID uuid.UUID, payload []byte) error {
	key := ringKey(orgID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, r.size-1)
	pipe.Expire(ctx, key, ringTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push to ring buffer: %w", err)
	}
	return nil
}

// Snapshot returns the org's buffered events oldest first.
func (r *RingBuffer) Snapshot(ctx context.Context, orgID uuid.UUID) ([][]byte, error) {
	raw, err := r.client.LRange(ctx, ringKey(orgID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ring buffer: %w", err)
	}
	// Stored newest first, reverse into chronological order.
	out := make([][]byte, len(raw))
	for i, entry := range raw {
		out[len(raw)-1-i] = []byte(entry)
	}
	return out, nil
}
