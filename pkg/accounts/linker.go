package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cpike5/gatelink/pkg/observability"
)

// Linker binds external identities to accounts and keeps the authorization
// cache honest about it. The cache may be nil (entries then age out on
// their own window).
type Linker struct {
	store  Store
	cache  Invalidator
	logger *observability.Logger
	now    func() time.Time
}

// NewLinker creates a linker over the given store.
func NewLinker(store Store, cache Invalidator, logger *observability.Logger) *Linker {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Linker{
		store:  store,
		cache:  cache,
		logger: logger.WithField("component", "account_linker"),
		now:    time.Now,
	}
}

// Link binds externalID to the account. Re-linking the same pair succeeds as
// a no-op; a conflicting existing binding fails with ErrLinkConflict and
// leaves it unchanged.
func (l *Linker) Link(ctx context.Context, accountID string, externalID int64, displayName string) error {
	if err := l.store.LinkAccount(ctx, accountID, externalID, displayName, l.now()); err != nil {
		return err
	}

	l.invalidate(ctx, externalID)
	l.logger.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"external_id": externalID,
	}).Info("linked external identity")
	return nil
}

// Unlink clears the account's external identity. Unlinking an account that
// was never linked is a no-op.
func (l *Linker) Unlink(ctx context.Context, accountID string) error {
	externalID, err := l.store.UnlinkAccount(ctx, accountID)
	if errors.Is(err, ErrNotLinked) {
		return nil
	}
	if err != nil {
		return err
	}

	l.invalidate(ctx, externalID)
	l.logger.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"external_id": externalID,
	}).Info("unlinked external identity")
	return nil
}

// IsLinked reports whether the external identity currently has an account.
func (l *Linker) IsLinked(ctx context.Context, externalID int64) (bool, error) {
	_, err := l.store.AccountByExternalID(ctx, externalID)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up external identity: %w", err)
	}
	return true, nil
}

// AssignRole grants a role to the account and evicts cached authorization
// state for its linked identity, if any.
func (l *Linker) AssignRole(ctx context.Context, accountID, role string) error {
	if err := l.store.AssignRole(ctx, accountID, role); err != nil {
		return err
	}
	return l.invalidateForAccount(ctx, accountID)
}

// RemoveRole revokes a role from the account, with the same invalidation.
func (l *Linker) RemoveRole(ctx context.Context, accountID, role string) error {
	if err := l.store.RemoveRole(ctx, accountID, role); err != nil {
		return err
	}
	return l.invalidateForAccount(ctx, accountID)
}

func (l *Linker) invalidateForAccount(ctx context.Context, accountID string) error {
	account, err := l.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.ExternalID != nil {
		l.invalidate(ctx, *account.ExternalID)
	}
	return nil
}

func (l *Linker) invalidate(ctx context.Context, externalID int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, externalID); err != nil {
		l.logger.WithError(err).WithField("external_id", externalID).
			Warn("failed to invalidate authorization cache")
	}
}
