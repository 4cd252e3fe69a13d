package accounts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates no account exists for the given lookup.
	ErrAccountNotFound = errors.New("account not found")

	// ErrLinkConflict indicates the external identity is already bound to a
	// different account. The existing link is left unchanged.
	ErrLinkConflict = errors.New("external identity already linked to a different account")

	// ErrNotLinked indicates the account has no external identity to unlink.
	ErrNotLinked = errors.New("account has no linked external identity")
)

// Account is an internal application account. ExternalID is nil until the
// account is linked to a chat-platform identity; when set it is unique
// across all accounts.
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	ExternalID   *int64     `json:"external_id,omitempty"`
	ExternalName string     `json:"external_name,omitempty"`
	LinkedAt     *time.Time `json:"linked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Linked reports whether the account is bound to an external identity.
func (a *Account) Linked() bool {
	return a.ExternalID != nil
}

// Store is the account persistence contract. Implementations must enforce
// external-ID uniqueness at the storage layer (a unique index, not a
// read-then-write pair) so concurrent links cannot both succeed.
type Store interface {
	CreateAccount(ctx context.Context, account *Account) error

	// AccountByID returns the account or ErrAccountNotFound.
	AccountByID(ctx context.Context, id string) (*Account, error)

	// AccountByExternalID returns the account currently linked to the
	// external identity, or ErrAccountNotFound when none is.
	AccountByExternalID(ctx context.Context, externalID int64) (*Account, error)

	// LinkAccount binds the external identity to the account. Linking the
	// same pair again is a no-op; a different existing binding returns
	// ErrLinkConflict and changes nothing.
	LinkAccount(ctx context.Context, accountID string, externalID int64, displayName string, now time.Time) error

	// UnlinkAccount clears the account's external fields and returns the
	// previously linked external ID, or ErrNotLinked.
	UnlinkAccount(ctx context.Context, accountID string) (int64, error)

	// RolesForExternalID resolves the role names held by the account linked
	// to the external identity. An unlinked identity yields an empty set,
	// not an error.
	RolesForExternalID(ctx context.Context, externalID int64) ([]string, error)

	// RolesForAccount returns the role names granted to the account.
	RolesForAccount(ctx context.Context, accountID string) ([]string, error)

	// AssignRole grants a role to the account. Granting an already-held
	// role is a no-op.
	AssignRole(ctx context.Context, accountID, role string) error

	// RemoveRole revokes a role from the account. Removing a role the
	// account does not hold is a no-op.
	RemoveRole(ctx context.Context, accountID, role string) error
}

// Invalidator evicts cached authorization state for an external identity.
type Invalidator interface {
	Invalidate(ctx context.Context, externalID int64) error
}
