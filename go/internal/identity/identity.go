// Package identity carries the caller identity supplied by the auth and
// entitlement collaborators. The core only reads these values; how they are
// produced is out of scope.
package identity

import "context"

// Identity is the resolved caller: a stable id, a display name, and the
// kingdom scope their workspaces live under.
type Identity struct {
	ID          string
	DisplayName string
	Kingdom     int
}

// AccessGate answers whether an identity may use the rally coordinator at
// all. The coordinator refuses to initialize when access is denied.
type AccessGate interface {
	HasRallyAccess(ctx context.Context, id Identity) (bool, error)
}

// OpenGate grants access to everyone. Used in local-only mode and tests.
type OpenGate struct{}

func (OpenGate) HasRallyAccess(context.Context, Identity) (bool, error) {
	return true, nil
}
