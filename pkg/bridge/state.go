package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ErrNoMapping indicates no session mapping exists for the key.
var ErrNoMapping = errors.New("no session mapping")

// SessionMapping ties an agent session key to the hub channel it talks
// through. Keys follow the mc:{org}:project:{id} and mc:{org}:sub:{id}
// forms so one agent can hold distinct sessions per project or thread.
type SessionMapping struct {
	SessionKey  string
	AgentID     string
	OrgSlug     string
	ChannelID   uuid.UUID
	ChannelType string
	CreatedAt   time.Time
}

// ProjectSessionKey builds the session key for a project conversation.
func ProjectSessionKey(orgSlug, projectID string) string {
	return fmt.Sprintf("mc:%s:project:%s", orgSlug, projectID)
}

// SubSessionKey builds the session key for a side conversation.
func SubSessionKey(orgSlug, threadID string) string {
	return fmt.Sprintf("mc:%s:sub:%s", orgSlug, threadID)
}

// StateStore persists session mappings and the last processed event
// cursor in a local sqlite file, so restarts resume without replaying
// the whole stream.
type StateStore struct {
	db *sql.DB
}

// OpenStateStore opens (and migrates) the sqlite state file at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	// One writer at a time keeps sqlite happy under the bridge's small load.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_mappings (
			session_key  TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			org_slug     TEXT NOT NULL,
			channel_id   TEXT NOT NULL,
			channel_type TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS event_cursors (
			agent_id         TEXT PRIMARY KEY,
			org_slug         TEXT NOT NULL,
			last_sequence_id INTEGER NOT NULL,
			updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// SaveMapping inserts or replaces a session mapping.
func (s *StateStore) SaveMapping(ctx context.Context, m SessionMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_mappings (session_key, agent_id, org_slug, channel_id, channel_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET
			agent_id = excluded.agent_id,
			channel_id = excluded.channel_id,
			channel_type = excluded.channel_type`,
		m.SessionKey, m.AgentID, m.OrgSlug, m.ChannelID.String(), m.ChannelType,
	)
	if err != nil {
		return fmt.Errorf("failed to save session mapping: %w", err)
	}
	return nil
}

// Mapping returns the session mapping for key.
func (s *StateStore) Mapping(ctx context.Context, key string) (*SessionMapping, error) {
	var (
		m         SessionMapping
		channelID string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_key, agent_id, org_slug, channel_id, channel_type, created_at
		FROM session_mappings WHERE session_key = ?`, key,
	).Scan(&m.SessionKey, &m.AgentID, &m.OrgSlug, &channelID, &m.ChannelType, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoMapping
		}
		return nil, fmt.Errorf("failed to load session mapping: %w", err)
	}
	m.ChannelID, err = uuid.Parse(channelID)
	if err != nil {
		return nil, fmt.Errorf("corrupt channel id in state store: %w", err)
	}
	return &m, nil
}

// MappingForChannel returns the first session mapping pointing at channel.
func (s *StateStore) MappingForChannel(ctx context.Context, channelID uuid.UUID) (*SessionMapping, error) {
	var (
		m   SessionMapping
		cid string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_key, agent_id, org_slug, channel_id, channel_type, created_at
		FROM session_mappings WHERE channel_id = ?
		ORDER BY created_at ASC LIMIT 1`, channelID.String(),
	).Scan(&m.SessionKey, &m.AgentID, &m.OrgSlug, &cid, &m.ChannelType, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoMapping
		}
		return nil, fmt.Errorf("failed to load session mapping: %w", err)
	}
	m.ChannelID = channelID
	return &m, nil
}

// DeleteMapping removes a session mapping. Missing keys are not an error.
func (s *StateStore) DeleteMapping(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_mappings WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete session mapping: %w", err)
	}
	return nil
}

// SaveCursor records the last processed sequence id for the agent.
func (s *StateStore) SaveCursor(ctx context.Context, agentID, orgSlug string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_cursors (agent_id, org_slug, last_sequence_id, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (agent_id) DO UPDATE SET
			last_sequence_id = excluded.last_sequence_id,
			updated_at = CURRENT_TIMESTAMP`,
		agentID, orgSlug, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Cursor returns the last processed sequence id for the agent, or 0 when
// none is recorded.
func (s *StateStore) Cursor(ctx context.Context, agentID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence_id FROM event_cursors WHERE agent_id = ?`, agentID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return seq, nil
}

// ResetCursor clears the agent's cursor, used after an events.reset frame.
func (s *StateStore) ResetCursor(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM event_cursors WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}
