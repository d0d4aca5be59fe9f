package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel types. Org-wide channels grant access to all org members;
// project channels grant access only to project members.
const (
	ChannelTypeOrgWide = "org_wide"
	ChannelTypeProject = "project"
)

// Channel is an addressable conversation within an org.
type Channel struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
}
