package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openclaw/mission-control/pkg/models"
)

// AuthService resolves org slugs and verifies API key credentials into a
// Principal. Keys are stored as SHA-256 hashes; the raw key never touches
// the database.
type AuthService struct {
	db *sql.DB
}

// NewAuthService creates an auth service backed by db.
func NewAuthService(db *sql.DB) *AuthService {
	return &AuthService{db: db}
}

// ResolveSlug returns the org id for slug.
func (s *AuthService) ResolveSlug(ctx context.Context, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM organizations WHERE slug = $1`, slug,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve org slug: %w", err)
	}
	return id, nil
}

// VerifyAPIKey validates a raw API key against the org identified by slug
// and returns the resulting principal. Revoked keys and keys belonging to
// non-members are rejected with ErrAccessDenied.
func (s *AuthService) VerifyAPIKey(ctx context.Context, slug, rawKey string) (*models.Principal, error) {
	if rawKey == "" {
		return nil, ErrAccessDenied
	}

	sum := sha256.Sum256([]byte(rawKey))
	hash := hex.EncodeToString(sum[:])

	var p models.Principal
	var keyID uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.user_id, k.org_id, o.slug, u.display_name, u.kind
		FROM api_keys k
		JOIN organizations o ON o.id = k.org_id
		JOIN users u ON u.id = k.user_id
		JOIN user_orgs m ON m.user_id = k.user_id AND m.org_id = k.org_id
		WHERE k.key_hash = $1 AND o.slug = $2 AND k.revoked_at IS NULL`,
		hash, slug,
	).Scan(&keyID, &p.UserID, &p.OrgID, &p.OrgSlug, &p.DisplayName, &p.Kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("failed to verify api key: %w", err)
	}

	p.CredentialID = keyID.String()
	return &p, nil
}

// IsMember reports whether user belongs to org.
func (s *AuthService) IsMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_orgs WHERE user_id = $1 AND org_id = $2)`,
		userID, orgID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}
