package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cpike5/gatelink/pkg/observability"
)

// Default lifecycle parameters. TTL and retention are overridable via
// Options and per-call TTL overrides.
const (
	DefaultTTL       = 24 * time.Hour
	DefaultMaxTTL    = 7 * 24 * time.Hour
	DefaultRetention = 7 * 24 * time.Hour

	defaultGenerateAttempts = 10
)

// Options configures a Registry.
type Options struct {
	// DefaultTTL is applied when Issue receives a zero TTL.
	DefaultTTL time.Duration

	// MaxTTL caps per-call TTL overrides.
	MaxTTL time.Duration

	// Retention is how long expired invites are kept for audit before the
	// cleanup sweep removes them.
	Retention time.Duration

	// GenerateAttempts bounds the code-collision retry loop.
	GenerateAttempts int
}

// Registry implements the invite code state machine: issue, validate,
// consume, revoke, and garbage collection. It is safe for concurrent use;
// all real serialization happens in the Store.
type Registry struct {
	store  Store
	links  LinkChecker
	cache  Invalidator
	gen    *Generator
	logger *observability.Logger

	defaultTTL       time.Duration
	maxTTL           time.Duration
	retention        time.Duration
	generateAttempts int

	now func() time.Time
}

// NewRegistry creates a registry over the given store. links guards issue
// against already-linked identities; cache (optional) is invalidated when a
// consumption establishes a new link.
func NewRegistry(store Store, links LinkChecker, cache Invalidator, logger *observability.Logger, opts Options) *Registry {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = DefaultMaxTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.GenerateAttempts <= 0 {
		opts.GenerateAttempts = defaultGenerateAttempts
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Registry{
		store:            store,
		links:            links,
		cache:            cache,
		gen:              NewGenerator(),
		logger:           logger.WithField("component", "invite_registry"),
		defaultTTL:       opts.DefaultTTL,
		maxTTL:           opts.MaxTTL,
		retention:        opts.Retention,
		generateAttempts: opts.GenerateAttempts,
		now:              time.Now,
	}
}

// Issue returns an invite for the external identity. If an active invite
// already exists it is returned unchanged, which is what enforces "one
// active invite per identity" without a hard uniqueness constraint on the
// identity column. Returns ErrAlreadyLinked when the identity already has an
// account.
func (r *Registry) Issue(ctx context.Context, externalID int64, displayName string, ttl time.Duration) (*Token, error) {
	linked, err := r.links.IsLinked(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing link: %w", err)
	}
	if linked {
		return nil, ErrAlreadyLinked
	}

	now := r.now()
	existing, err := r.store.ActiveInviteFor(ctx, externalID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active invite: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	ttl = r.clampTTL(ttl)

	for attempt := 1; attempt <= r.generateAttempts; attempt++ {
		code, err := r.gen.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate invite code: %w", err)
		}

		token := &Token{
			ID:           uuid.NewString(),
			Code:         code,
			ExternalID:   externalID,
			ExternalName: displayName,
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		}

		err = r.store.CreateInvite(ctx, token)
		switch {
		case err == nil:
			r.logger.WithFields(map[string]interface{}{
				"external_id": externalID,
				"expires_at":  token.ExpiresAt,
			}).Info("issued invite code")
			return token, nil

		case errors.Is(err, ErrDuplicateCode):
			// Code string collision; try again with a fresh code.
			r.logger.WithField("attempt", attempt).Warn("invite code collision, regenerating")
			continue

		case errors.Is(err, ErrActiveExists):
			// Lost a concurrent issue race for this identity; serve the
			// surviving row instead of creating a duplicate.
			winner, lookupErr := r.store.ActiveInviteFor(ctx, externalID, now)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to fetch surviving invite: %w", lookupErr)
			}
			if winner == nil {
				return nil, fmt.Errorf("active invite vanished after insert conflict: %w", err)
			}
			return winner, nil

		default:
			return nil, fmt.Errorf("failed to persist invite: %w", err)
		}
	}

	r.logger.WithField("external_id", externalID).Error("invite code generation attempts exhausted")
	return nil, ErrGenerationExhausted
}

// Validate looks up a code and classifies it as valid, not found, already
// consumed, or expired. It never mutates state, so it is safe to call
// repeatedly for live form feedback.
func (r *Registry) Validate(ctx context.Context, code string) (*Token, error) {
	canonical, err := Normalize(code)
	if err != nil {
		// A code that cannot exist is indistinguishable from one that
		// was never issued.
		return nil, ErrNotFound
	}

	token, err := r.store.GetInvite(ctx, canonical)
	if err != nil {
		return nil, err
	}

	switch token.StateAt(r.now()) {
	case StateExpired:
		return nil, ErrExpired
	case StateConsumed:
		return nil, ErrAlreadyConsumed
	}
	return token, nil
}

// Consume spends the code and links its external identity to accountID in
// one atomic storage operation, then invalidates any cached authorization
// state for that identity. The store re-checks expiry under its own lock, so
// a consumption racing the expiry instant fails with ErrExpired rather than
// silently succeeding.
func (r *Registry) Consume(ctx context.Context, code, accountID string) (*Token, error) {
	canonical, err := Normalize(code)
	if err != nil {
		return nil, ErrNotFound
	}

	token, err := r.store.ConsumeInvite(ctx, canonical, accountID, r.now())
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, token.ExternalID); err != nil {
			// The link is committed; a failed eviction only extends
			// staleness to the cache window.
			r.logger.WithError(err).WithField("external_id", token.ExternalID).
				Warn("failed to invalidate authorization cache after consume")
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"external_id": token.ExternalID,
		"account_id":  accountID,
	}).Info("consumed invite code")
	return token, nil
}

// Revoke forces immediate expiry of an active code. Consumed or already
// expired codes are left untouched and reported via ErrNotActive.
func (r *Registry) Revoke(ctx context.Context, code string) error {
	canonical, err := Normalize(code)
	if err != nil {
		return ErrNotFound
	}

	if err := r.store.RevokeInvite(ctx, canonical, r.now()); err != nil {
		return err
	}
	r.logger.WithField("code", canonical).Info("revoked invite code")
	return nil
}

// Cleanup deletes invites whose expiry is older than the retention window,
// consumed or not. Safe to run concurrently with all other operations.
func (r *Registry) Cleanup(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	removed, err := r.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sweep failed: %w", err)
	}
	if removed > 0 {
		r.logger.WithFields(map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff,
		}).Info("swept expired invites")
	}
	return removed, nil
}

// ListFor returns the full invite history for an external identity.
func (r *Registry) ListFor(ctx context.Context, externalID int64) ([]*Token, error) {
	return r.store.ListInvitesFor(ctx, externalID)
}

// Retention reports the configured audit retention window.
func (r *Registry) Retention() time.Duration {
	return r.retention
}

func (r *Registry) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return r.defaultTTL
	}
	if ttl > r.maxTTL {
		return r.maxTTL
	}
	return ttl
}
