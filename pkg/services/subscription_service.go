package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// SubscriptionService stores per-user event filters. Replace is a full
// replacement of the user's filter set within one transaction, so readers
// never observe a partially updated filter.
type SubscriptionService struct {
	db *sql.DB
}

// NewSubscriptionService creates a subscription service backed by db.
func NewSubscriptionService(db *sql.DB) *SubscriptionService {
	return &SubscriptionService{db: db}
}

// List returns the user's subscriptions in org. An empty result means the
// user receives all events.
func (s *SubscriptionService) List(ctx context.Context, userID, orgID uuid.UUID) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, org_id, topic_type, topic_id
		FROM subscriptions
		WHERE user_id = $1 AND org_id = $2
		ORDER BY topic_type, topic_id`,
		userID, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.UserID, &sub.OrgID, &sub.TopicKind, &sub.TopicID); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Replace swaps the user's entire filter set for org. Passing an empty
// slice clears the filter, returning the user to receive-everything.
func (s *SubscriptionService) Replace(ctx context.Context, userID, orgID uuid.UUID, subs []models.Subscription) error {
	for _, sub := range subs {
		if !models.ValidTopicKind(sub.TopicKind) {
			return NewValidationError("topic_type", fmt.Sprintf("unknown topic type %q", sub.TopicKind))
		}
		if sub.TopicID == "" {
			return NewValidationError("topic_id", "is required")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = $1 AND org_id = $2`,
		userID, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear subscriptions: %w", err)
	}

	for _, sub := range subs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (user_id, org_id, topic_type, topic_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			userID, orgID, sub.TopicKind, sub.TopicID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscriptions: %w", err)
	}
	return nil
}
