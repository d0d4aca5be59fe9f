package models

import "github.com/google/uuid"

// Principal is the authenticated identity attached to a request or a live
// connection. CredentialID identifies the presented credential (API key id
// or token jti) and is the revocation key; it may be empty for
// proxy-authenticated requests.
type Principal struct {
	UserID       uuid.UUID
	OrgID        uuid.UUID
	OrgSlug      string
	DisplayName  string
	Kind         string // human | agent | system
	CredentialID string
}
