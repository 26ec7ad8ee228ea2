package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceStatus is the lifecycle state of a shared planning workspace.
type WorkspaceStatus string

const (
	WorkspaceActive   WorkspaceStatus = "active"
	WorkspaceArchived WorkspaceStatus = "archived"
)

// Workspace is a shared, kingdom-scoped collaborative planning instance.
// Archived workspaces are read-only.
type Workspace struct {
	ID        uuid.UUID       `json:"id"`
	Kingdom   int             `json:"kingdom"`
	Name      string          `json:"name"`
	CreatorID string          `json:"creator_id"`
	Status    WorkspaceStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Captain grants an identity mutation rights over a workspace independent of
// workspace ownership. An identity holds at most one captain row per
// workspace; re-adding reassigns the target instead of erroring.
type Captain struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	IdentityID  string    `json:"identity_id"`
	Target      *Target   `json:"target,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
