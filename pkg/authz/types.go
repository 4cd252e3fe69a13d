package authz

import (
	"context"
)

// RoleSource is the source of truth for role resolution. Satisfied by the
// account stores.
type RoleSource interface {
	RolesForExternalID(ctx context.Context, externalID int64) ([]string, error)
}

// Cache is the authorization cache contract.
type Cache interface {
	// RolesOf returns the role set currently held by the external identity.
	// A cache hit within the freshness window returns the cached value and
	// slides the window; a miss resolves from the RoleSource. Unlinked
	// identities yield an empty set.
	RolesOf(ctx context.Context, externalID int64) ([]string, error)

	// IsInRole reports whether the identity holds the named role.
	IsInRole(ctx context.Context, externalID int64, role string) (bool, error)

	// Invalidate evicts the entry for the identity; the next read is a
	// guaranteed re-resolution from the source of truth.
	Invalidate(ctx context.Context, externalID int64) error

	// InvalidateAll evicts every entry, best effort. Callers must not
	// depend on immediate global consistency; backends may degrade to
	// letting entries expire on their own window.
	InvalidateAll(ctx context.Context) error
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
