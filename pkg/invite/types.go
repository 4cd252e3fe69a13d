package invite

import (
	"context"
	"errors"
	"time"
)

// Validation and lifecycle outcomes. These form a closed set: callers map
// each to a distinct user-facing message and must never collapse them into
// a single boolean.
var (
	// ErrNotFound indicates no invite exists for the given code.
	ErrNotFound = errors.New("invite code not found")

	// ErrAlreadyConsumed indicates the code was already used to register.
	ErrAlreadyConsumed = errors.New("invite code already consumed")

	// ErrExpired indicates the code's expiry has passed (including revoked codes).
	ErrExpired = errors.New("invite code expired")

	// ErrAlreadyLinked indicates the external identity already has a linked
	// account and cannot be issued a new code.
	ErrAlreadyLinked = errors.New("external identity already linked to an account")

	// ErrNotActive indicates an operation that requires an active code
	// (e.g. revoke) was attempted on a consumed or expired one.
	ErrNotActive = errors.New("invite code is not active")

	// ErrMalformedCode indicates the input cannot be normalized into the
	// canonical XXXX-XXXX-XXXX form.
	ErrMalformedCode = errors.New("malformed invite code")

	// ErrDuplicateCode is returned by stores when inserting a code string
	// that already exists. The registry retries generation on this error.
	ErrDuplicateCode = errors.New("invite code already exists")

	// ErrActiveExists is returned by stores when an insert would create a
	// second active invite for the same external identity. This is the
	// storage-level backstop for concurrent issue calls.
	ErrActiveExists = errors.New("active invite already exists for external identity")

	// ErrGenerationExhausted indicates repeated code collisions during
	// generation. This points at an entropy or storage problem, not user
	// error, and is never retried silently.
	ErrGenerationExhausted = errors.New("exhausted invite code generation attempts")
)

// State describes where an invite sits in its lifecycle.
type State string

const (
	StateActive   State = "active"
	StateConsumed State = "consumed"
	StateExpired  State = "expired"
)

// Token is a single-use registration invite bound to one external identity.
type Token struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	ExternalID   int64      `json:"external_id"`
	ExternalName string     `json:"external_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Consumed     bool       `json:"consumed"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	ConsumedBy   string     `json:"consumed_by,omitempty"`
}

// StateAt reports the token's lifecycle state at the given instant. Expiry
// wins over consumption so that a consumed token past its expiry still
// reads as expired.
func (t *Token) StateAt(now time.Time) State {
	if !t.ExpiresAt.After(now) {
		return StateExpired
	}
	if t.Consumed {
		return StateConsumed
	}
	return StateActive
}

// ActiveAt reports whether the token can still be consumed at the given instant.
func (t *Token) ActiveAt(now time.Time) bool {
	return t.StateAt(now) == StateActive
}

// Store is the persistence contract the registry depends on. Implementations
// must enforce code-string uniqueness, the one-active-invite-per-identity
// backstop, and linearizable consumption (conditional update keyed on the
// unconsumed, unexpired row).
type Store interface {
	// CreateInvite persists a new invite. Returns ErrDuplicateCode when the
	// code string collides with an existing row and ErrActiveExists when an
	// active invite for the same external identity already exists.
	CreateInvite(ctx context.Context, token *Token) error

	// GetInvite retrieves an invite by canonical code. Returns ErrNotFound
	// when no row exists.
	GetInvite(ctx context.Context, code string) (*Token, error)

	// ActiveInviteFor returns the unconsumed, unexpired invite for the
	// external identity, or nil when none exists.
	ActiveInviteFor(ctx context.Context, externalID int64, now time.Time) (*Token, error)

	// ConsumeInvite atomically marks the invite consumed and links its
	// external identity to the given account. Either both happen or neither
	// does. Returns the updated invite on success, or ErrNotFound,
	// ErrAlreadyConsumed, ErrExpired, or accounts.ErrLinkConflict.
	ConsumeInvite(ctx context.Context, code, accountID string, now time.Time) (*Token, error)

	// RevokeInvite forces an active invite's expiry to now. Returns
	// ErrNotFound or ErrNotActive when the invite is missing or terminal.
	RevokeInvite(ctx context.Context, code string, now time.Time) error

	// DeleteExpiredBefore removes invites whose expiry predates the cutoff,
	// regardless of consumption state, and reports how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ListInvitesFor returns every invite ever issued to the external
	// identity, newest first.
	ListInvitesFor(ctx context.Context, externalID int64) ([]*Token, error)
}

// LinkChecker reports whether an external identity already has a linked
// account. Satisfied by accounts.Linker.
type LinkChecker interface {
	IsLinked(ctx context.Context, externalID int64) (bool, error)
}

// Invalidator evicts cached authorization state for an external identity.
// Satisfied by the authz cache backends.
type Invalidator interface {
	Invalidate(ctx context.Context, externalID int64) error
}
