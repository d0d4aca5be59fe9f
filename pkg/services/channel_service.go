package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// ChannelService reads channel metadata and enforces channel access rules.
// Org-wide channels are visible to every org member; project channels only
// to users assigned to the project. Agents bypass the project check.
type ChannelService struct {
	db *sql.DB
}

// NewChannelService creates a channel service backed by db.
func NewChannelService(db *sql.DB) *ChannelService {
	return &ChannelService{db: db}
}

// Get returns a channel by id within org.
func (s *ChannelService) Get(ctx context.Context, orgID, channelID uuid.UUID) (*models.Channel, error) {
	var (
		ch        models.Channel
		projectID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, channel_type, project_id, created_at
		FROM channels
		WHERE id = $1 AND org_id = $2`,
		channelID, orgID,
	).Scan(&ch.ID, &ch.OrgID, &ch.Name, &ch.Type, &projectID, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query channel: %w", err)
	}
	if projectID.Valid {
		ch.ProjectID = &projectID.UUID
	}
	return &ch, nil
}

// List returns all channels in org visible to the principal.
func (s *ChannelService) List(ctx context.Context, p models.Principal) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.org_id, c.name, c.channel_type, c.project_id, c.created_at
		FROM channels c
		WHERE c.org_id = $1
		  AND (c.channel_type = 'org_wide'
		       OR $3
		       OR EXISTS (
		           SELECT 1 FROM project_user_assignments a
		           WHERE a.project_id = c.project_id AND a.user_id = $2))
		ORDER BY c.created_at ASC`,
		p.OrgID, p.UserID, p.Kind == models.ActorKindAgent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var (
			ch        models.Channel
			projectID uuid.NullUUID
		)
		if err := rows.Scan(&ch.ID, &ch.OrgID, &ch.Name, &ch.Type, &projectID, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		if projectID.Valid {
			ch.ProjectID = &projectID.UUID
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// VerifyAccess checks that the principal may read and post to the channel.
// Returns the channel on success so callers avoid a second lookup.
func (s *ChannelService) VerifyAccess(ctx context.Context, p models.Principal, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := s.Get(ctx, p.OrgID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Type == models.ChannelTypeOrgWide || p.Kind == models.ActorKindAgent {
		return ch, nil
	}

	var assigned bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_user_assignments
			WHERE project_id = $1 AND user_id = $2)`,
		ch.ProjectID, p.UserID,
	).Scan(&assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to check project assignment: %w", err)
	}
	if !assigned {
		return nil, ErrAccessDenied
	}
	return ch, nil
}
