package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/models"
)

const (
	// HeartbeatInterval is how often an idle stream emits a comment frame.
	HeartbeatInterval = 30 * time.Second

	// MaxReplayEvents bounds a single database replay after reconnect.
	MaxReplayEvents = 1000

	// revocationCheckEvery is the number of stream wakeups between
	// credential revocation checks.
	revocationCheckEvery = 10
)

// RingReader serves replay snapshots.
type RingReader interface {
	Snapshot(ctx context.Context, orgID uuid.UUID) ([][]byte, error)
}

// Slots is the connection registry surface the stream engine needs.
type Slots interface {
	Acquire(ctx context.Context, kind string, orgID uuid.UUID) error
	Release(ctx context.Context, kind string, orgID uuid.UUID) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// Subscriber opens live event subscriptions.
type Subscriber interface {
	SubscribeEvents(ctx context.Context) *redis.PubSub
}

// SubscriptionSource loads a user's event filter entries.
type SubscriptionSource interface {
	List(ctx context.Context, userID, orgID uuid.UUID) ([]models.Subscription, error)
}

// StreamWriter is the connection a stream writes frames to. Flush pushes
// buffered bytes to the client after each frame.
type StreamWriter interface {
	Write(p []byte) (int, error)
	Flush()
}

// StreamEngine serves resumable per-connection SSE streams. On reconnect
// it replays missed events from the ring buffer, falling back to the
// durable log, and emits a reset frame when the cursor predates retention.
type StreamEngine struct {
	log       EventLog
	ring      RingReader
	registry  Slots
	pubsub    Subscriber
	subs      SubscriptionSource
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewStreamEngine creates a stream engine.
func NewStreamEngine(log EventLog, ring RingReader, registry Slots, pubsub Subscriber, subs SubscriptionSource, logger *slog.Logger) *StreamEngine {
	return &StreamEngine{
		log:       log,
		ring:      ring,
		registry:  registry,
		pubsub:    pubsub,
		subs:      subs,
		logger:    logger,
		heartbeat: HeartbeatInterval,
	}
}

// Serve runs one stream until ctx is cancelled, the credential is revoked,
// or the connection errors. lastEventID is the raw Last-Event-ID header
// value; empty or malformed values start the stream live with no replay.
// Returns fabric.ErrConnectionLimit without writing when the org is at
// capacity.
func (e *StreamEngine) Serve(ctx context.Context, w StreamWriter, p models.Principal, lastEventID string) error {
	if err := e.registry.Acquire(ctx, fabric.StreamSSE, p.OrgID); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.registry.Release(releaseCtx, fabric.StreamSSE, p.OrgID); err != nil {
			e.logger.Warn("Failed to release stream slot", "org_id", p.OrgID, "error", err)
		}
	}()

	subEntries, err := e.subs.List(ctx, p.UserID, p.OrgID)
	if err != nil {
		return err
	}
	filter := NewFilter(subEntries)

	// Subscribe before replaying so no event can fall between the replay
	// snapshot and the live feed.
	sub := e.pubsub.SubscribeEvents(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	lastSeq, err := e.replay(ctx, w, p, filter, lastEventID)
	if err != nil {
		return err
	}
	w.Flush()

	return e.live(ctx, w, p, filter, sub, lastSeq)
}

// replay catches the client up from its cursor and returns the highest
// sequence id written (or the cursor itself when nothing was replayed).
func (e *StreamEngine) replay(ctx context.Context, w StreamWriter, p models.Principal, filter *Filter, lastEventID string) (int64, error) {
	cursor, err := strconv.ParseInt(lastEventID, 10, 64)
	if err != nil || cursor < 0 {
		return 0, nil
	}

	buffered, err := e.bufferedEvents(ctx, p.OrgID)
	if err != nil {
		e.logger.Warn("Failed to read replay buffer, falling back to log",
			"org_id", p.OrgID, "error", err)
		buffered = nil
	}

	// The buffer serves the replay only when its oldest entry reaches back
	// to the cursor. Otherwise events were already evicted and the durable
	// log is authoritative.
	if len(buffered) > 0 && buffered[0].SequenceID <= cursor+1 {
		return e.writeReplay(w, filter, buffered, cursor)
	}

	minSeq, err := e.log.MinSequenceID(ctx, p.OrgID)
	if err != nil {
		return 0, err
	}
	if minSeq > cursor+1 {
		// The cursor predates the retained log. The client must rebuild
		// from the REST API; the stream continues live.
		if err := writeResetFrame(w); err != nil {
			return 0, err
		}
		return cursor, nil
	}

	missed, err := e.log.Range(ctx, p.OrgID, cursor, MaxReplayEvents)
	if err != nil {
		return 0, err
	}
	return e.writeReplay(w, filter, missed, cursor)
}

func (e *StreamEngine) bufferedEvents(ctx context.Context, orgID uuid.UUID) ([]models.Event, error) {
	snapshot, err := e.ring.Snapshot(ctx, orgID)
	if err != nil {
		return nil, err
	}
	events := make([]models.Event, 0, len(snapshot))
	for _, payload := range snapshot {
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			e.logger.Warn("Dropping malformed buffer entry", "org_id", orgID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	// Concurrent appenders can push out of commit order, so list order is
	// not sequence order.
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceID < events[j].SequenceID
	})
	return events, nil
}

func (e *StreamEngine) writeReplay(w StreamWriter, filter *Filter, events []models.Event, cursor int64) (int64, error) {
	lastSeq := cursor
	for i := range events {
		ev := &events[i]
		if ev.SequenceID <= cursor {
			continue
		}
		if ev.SequenceID > lastSeq {
			lastSeq = ev.SequenceID
		}
		if !filter.Match(ev) {
			continue
		}
		payload, err := ev.Encode()
		if err != nil {
			continue
		}
		if err := writeEventFrame(w, ev, payload); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

// live forwards published events until the context ends or the credential
// is revoked.
func (e *StreamEngine) live(ctx context.Context, w StreamWriter, p models.Principal, filter *Filter, sub *redis.PubSub, lastSeq int64) error {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	wakeups := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				e.logger.Warn("Dropping malformed published event", "error", err)
				continue
			}
			if ev.OrgID != p.OrgID {
				continue
			}
			if ev.SequenceID <= lastSeq {
				continue
			}
			lastSeq = ev.SequenceID
			if !filter.Match(&ev) {
				continue
			}
			if err := writeEventFrame(w, &ev, []byte(msg.Payload)); err != nil {
				return err
			}
			w.Flush()

		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return err
			}
			w.Flush()
		}

		wakeups++
		if wakeups%revocationCheckEvery == 0 {
			revoked, err := e.registry.IsRevoked(ctx, p.CredentialID)
			if err != nil {
				e.logger.Warn("Revocation check failed", "error", err)
				continue
			}
			if revoked {
				if err := writeRevokedFrame(w); err != nil {
					return err
				}
				w.Flush()
				return nil
			}
		}
	}
}
