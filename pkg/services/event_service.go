package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// EventService owns the durable event log. Appends assign a per-org
// sequence id from a counter row locked in the same transaction, so two
// events in one org can never share or skip a sequence number.
type EventService struct {
	db *sql.DB
}

// NewEventService creates an event service backed by db.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// Append persists an event and returns it with its assigned id, sequence id
// and timestamp filled in.
func (s *EventService) Append(ctx context.Context, ev models.Event) (*models.Event, error) {
	if ev.OrgID == uuid.Nil {
		return nil, NewValidationError("org_id", "is required")
	}
	if ev.Type == "" {
		return nil, NewValidationError("event_type", "is required")
	}
	if ev.ActorKind == "" {
		ev.ActorKind = models.ActorKindSystem
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO event_sequences (org_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (org_id)
		DO UPDATE SET last_seq = event_sequences.last_seq + 1
		RETURNING last_seq`,
		ev.OrgID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to advance sequence: %w", err)
	}

	ev.SequenceID = seq
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (id, sequence_id, org_id, event_type, actor_id, actor_kind, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		ev.ID, ev.SequenceID, ev.OrgID, ev.Type, ev.ActorID, ev.ActorKind, payload,
	).Scan(&ev.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}

	return &ev, nil
}

// Range returns up to limit events for org with sequence id strictly greater
// than afterSeq, in ascending sequence order.
func (s *EventService) Range(ctx context.Context, orgID uuid.UUID, afterSeq int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		return nil, NewValidationError("limit", "must be positive")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence_id, org_id, event_type, actor_id, actor_kind, payload, created_at
		FROM events
		WHERE org_id = $1 AND sequence_id > $2
		ORDER BY sequence_id ASC
		LIMIT $3`,
		orgID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// MinSequenceID returns the smallest retained sequence id for org, or 0 when
// the org's log is empty.
func (s *EventService) MinSequenceID(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var min sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(sequence_id) FROM events WHERE org_id = $1`, orgID,
	).Scan(&min)
	if err != nil {
		return 0, fmt.Errorf("failed to query min sequence: %w", err)
	}
	if !min.Valid {
		return 0, nil
	}
	return min.Int64, nil
}

// DeleteOlderThan prunes events created before cutoff. The retention GUC is
// set on the transaction so the append-only trigger lets the delete through.
func (s *EventService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SET LOCAL mc.retention = 'on'`); err != nil {
		return 0, fmt.Errorf("failed to set retention flag: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention delete: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		ev      models.Event
		actorID uuid.NullUUID
		payload []byte
	)
	err := row.Scan(&ev.ID, &ev.SequenceID, &ev.OrgID, &ev.Type, &actorID, &ev.ActorKind, &payload, &ev.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if actorID.Valid {
		ev.ActorID = &actorID.UUID
	}
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &ev, nil
}
