package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// MaxMessageLength caps chat message content.
const MaxMessageLength = 16384

// MessageService persists chat messages and serves history pages.
type MessageService struct {
	db *sql.DB
}

// NewMessageService creates a message service backed by db.
func NewMessageService(db *sql.DB) *MessageService {
	return &MessageService{db: db}
}

// Create persists a message and returns it enriched with sender metadata.
func (s *MessageService) Create(ctx context.Context, m models.Message) (*models.MessageView, error) {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return nil, NewValidationError("content", "must not be empty")
	}
	if len(m.Content) > MaxMessageLength {
		return nil, NewValidationError("content", "exceeds maximum length")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Mentions == nil {
		m.Mentions = []uuid.UUID{}
	}

	mentions, err := json.Marshal(m.Mentions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mentions: %w", err)
	}

	var view models.MessageView
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, org_id, channel_id, sender_id, content, mentions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at,
		          (SELECT display_name FROM users WHERE id = $4),
		          (SELECT kind FROM users WHERE id = $4)`,
		m.ID, m.OrgID, m.ChannelID, m.SenderID, m.Content, mentions,
	).Scan(&m.CreatedAt, &view.SenderDisplayName, &view.SenderKind)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	view.Message = m
	return &view, nil
}

// ListBefore returns up to limit messages in channel created before the
// cursor, newest first. A zero cursor means "from the latest".
func (s *MessageService) ListBefore(ctx context.Context, orgID, channelID uuid.UUID, before time.Time, limit int) ([]models.MessageView, error) {
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}
	return s.list(ctx, `
		SELECT m.id, m.org_id, m.channel_id, m.sender_id, m.content, m.mentions, m.created_at,
		       u.display_name, u.kind
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.org_id = $1 AND m.channel_id = $2 AND m.created_at < $3
		ORDER BY m.created_at DESC
		LIMIT $4`,
		orgID, channelID, before, limit)
}

// ListAfter returns up to limit messages in channel created after the
// cursor, oldest first. Used for forward catch-up reads.
func (s *MessageService) ListAfter(ctx context.Context, orgID, channelID uuid.UUID, after time.Time, limit int) ([]models.MessageView, error) {
	return s.list(ctx, `
		SELECT m.id, m.org_id, m.channel_id, m.sender_id, m.content, m.mentions, m.created_at,
		       u.display_name, u.kind
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.org_id = $1 AND m.channel_id = $2 AND m.created_at > $3
		ORDER BY m.created_at ASC
		LIMIT $4`,
		orgID, channelID, after, limit)
}

func (s *MessageService) list(ctx context.Context, query string, args ...any) ([]models.MessageView, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var views []models.MessageView
	for rows.Next() {
		v, err := scanMessageView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

// Get returns a single message by id within org.
func (s *MessageService) Get(ctx context.Context, orgID, messageID uuid.UUID) (*models.MessageView, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.org_id, m.channel_id, m.sender_id, m.content, m.mentions, m.created_at,
		       u.display_name, u.kind
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1 AND m.org_id = $2`,
		messageID, orgID,
	)
	v, err := scanMessageView(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func scanMessageView(row rowScanner) (*models.MessageView, error) {
	var (
		v        models.MessageView
		mentions []byte
	)
	err := row.Scan(&v.ID, &v.OrgID, &v.ChannelID, &v.SenderID, &v.Content,
		&mentions, &v.CreatedAt, &v.SenderDisplayName, &v.SenderKind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if err := json.Unmarshal(mentions, &v.Mentions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mentions: %w", err)
	}
	return &v, nil
}
