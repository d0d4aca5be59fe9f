package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// connTTL bounds how long a counter can outlive its instance; refreshed
	// on every acquire and release so a crashed instance's leaks age out.
	connTTL = time.Hour

	// revokedTTL keeps a revocation mark long enough to outlive any
	// credential lifetime.
	revokedTTL = 24 * time.Hour
)

// Stream kinds tracked by the registry.
const (
	StreamSSE = "sse"
	StreamWS  = "ws"
)

// ErrConnectionLimit is returned by Acquire when the org is at capacity.
var ErrConnectionLimit = fmt.Errorf("connection limit exceeded")

// Registry tracks live connection counts per org and stream kind across
// all hub instances, plus credential revocation marks.
type Registry struct {
	client *redis.Client
	limit  int64
}

// NewRegistry creates a registry enforcing limit concurrent connections
// per org per stream kind.
func NewRegistry(client *redis.Client, limit int) *Registry {
	return &Registry{client: client, limit: int64(limit)}
}

func countKey(kind string, orgID uuid.UUID) string {
	return fmt.Sprintf("mc:%s:connections:%s", kind, orgID)
}

func membersKey(orgID uuid.UUID) string {
	return fmt.Sprintf("mc:ws:registry:%s", orgID)
}

func revokedKey(credentialID string) string {
	return fmt.Sprintf("jwt:revoked:%s", credentialID)
}

// Acquire reserves a connection slot for org on the given stream kind.
// The increment is atomic; on overflow the slot is released again before
// ErrConnectionLimit is returned, so a burst of rejected connects cannot
// wedge the counter.
func (r *Registry) Acquire(ctx context.Context, kind string, orgID uuid.UUID) error {
	key := countKey(kind, orgID)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire connection slot: %w", err)
	}
	r.client.Expire(ctx, key, connTTL)
	if n > r.limit {
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to roll back connection slot: %w", err)
		}
		return ErrConnectionLimit
	}
	return nil
}

// Release frees a previously acquired slot. The counter is clamped at zero
// in case of double release.
func (r *Registry) Release(ctx context.Context, kind string, orgID uuid.UUID) error {
	key := countKey(kind, orgID)
	n, err := r.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to release connection slot: %w", err)
	}
	if n < 0 {
		r.client.Set(ctx, key, 0, connTTL)
	}
	return nil
}

// Count returns the current connection count for org on kind.
func (r *Registry) Count(ctx context.Context, kind string, orgID uuid.UUID) (int64, error) {
	n, err := r.client.Get(ctx, countKey(kind, orgID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read connection count: %w", err)
	}
	return n, nil
}

// AddMember records a user as present in the org's chat roster.
func (r *Registry) AddMember(ctx context.Context, orgID, userID uuid.UUID) error {
	key := membersKey(orgID)
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, userID.String())
	pipe.Expire(ctx, key, connTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add roster member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from the org's chat roster.
func (r *Registry) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	if err := r.client.SRem(ctx, membersKey(orgID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove roster member: %w", err)
	}
	return nil
}

// Members returns the user ids currently present in the org's chat roster.
func (r *Registry) Members(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	members, err := r.client.SMembers(ctx, membersKey(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return members, nil
}

// Revoke marks a credential as revoked and pushes a control frame on the
// org's chat channel so live sockets close without waiting for a poll.
func (r *Registry) Revoke(ctx context.Context, orgID uuid.UUID, credentialID string) error {
	if err := r.client.Set(ctx, revokedKey(credentialID), "1", revokedTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark credential revoked: %w", err)
	}

	frame, _ := json.Marshal(map[string]any{
		"type": "session.revoked",
		"data": map[string]string{"credential_id": credentialID},
	})
	payload, _ := json.Marshal(map[string]any{
		"channel_id": uuid.Nil,
		"frame":      json.RawMessage(frame),
	})
	// Push is best effort; pollers catch anything the push misses.
	r.client.Publish(ctx, ChatChannel(orgID), payload)
	return nil
}

// IsRevoked reports whether the credential carries a revocation mark.
// Empty credential ids (proxy-authenticated principals) are never revoked.
func (r *Registry) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	if credentialID == "" {
		return false, nil
	}
	err := r.client.Get(ctx, revokedKey(credentialID)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return true, nil
}
