package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/invite"
)

// Store implements the combined storage.Store contract on PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const inviteColumns = `id, code, external_id, external_name, created_at, expires_at, consumed, consumed_at, consumed_by`

// CreateInvite persists a new invite. The advisory transaction lock on the
// external identity serializes concurrent issue calls so at most one active
// row per identity survives; the unique constraint on code maps to
// invite.ErrDuplicateCode for the registry's regeneration loop.
func (s *Store) CreateInvite(ctx context.Context, token *invite.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, token.ExternalID); err != nil {
		return fmt.Errorf("failed to acquire issue lock: %w", err)
	}

	var activeExists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM invites WHERE external_id = $1 AND NOT consumed AND expires_at > $2)`,
		token.ExternalID, token.CreatedAt,
	).Scan(&activeExists)
	if err != nil {
		return fmt.Errorf("failed to check for active invite: %w", err)
	}
	if activeExists {
		return invite.ErrActiveExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invites (id, code, external_id, external_name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.Code, token.ExternalID, token.ExternalName, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err, "invites_code_key") {
			return invite.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert invite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by canonical code.
func (s *Store) GetInvite(ctx context.Context, code string) (*invite.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE code = $1`, code)
	token, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invite.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	return token, nil
}

// ActiveInviteFor returns the unconsumed, unexpired invite for the identity,
// or nil when none exists.
func (s *Store) ActiveInviteFor(ctx context.Context, externalID int64, now time.Time) (*invite.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM invites
		WHERE external_id = $1 AND NOT consumed AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, externalID, now)
	token, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active invite: %w", err)
	}
	return token, nil
}

// ConsumeInvite spends the invite and links its external identity to the
// account in one transaction. The row lock plus the conditional UPDATE make
// consumption linearizable per code: of two concurrent consumers exactly one
// commits, and a consumption racing the expiry instant fails with
// invite.ErrExpired.
func (s *Store) ConsumeInvite(ctx context.Context, code, accountID string, now time.Time) (*invite.Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE code = $1 FOR UPDATE`, code)
	token, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invite.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read invite for consumption: %w", err)
	}

	switch token.StateAt(now) {
	case invite.StateExpired:
		return nil, invite.ErrExpired
	case invite.StateConsumed:
		return nil, invite.ErrAlreadyConsumed
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE invites
		SET consumed = TRUE, consumed_at = $2, consumed_by = $3
		WHERE code = $1 AND NOT consumed AND expires_at > $2
	`, code, now, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invite consumed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read consumption result: %w", err)
	}
	if affected == 0 {
		// The FOR UPDATE read should make this unreachable; treat it as
		// losing the race rather than trusting the stale read.
		return nil, invite.ErrAlreadyConsumed
	}

	if err := linkInTx(ctx, tx, accountID, token.ExternalID, token.ExternalName, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consumption: %w", err)
	}

	token.Consumed = true
	token.ConsumedAt = &now
	token.ConsumedBy = accountID
	return token, nil
}

// RevokeInvite forces an active invite's expiry to now.
func (s *Store) RevokeInvite(ctx context.Context, code string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invites SET expires_at = $2
		WHERE code = $1 AND NOT consumed AND expires_at > $2
	`, code, now)
	if err != nil {
		return fmt.Errorf("failed to revoke invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revocation result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: distinguish missing from terminal.
	if _, err := s.GetInvite(ctx, code); err != nil {
		return err
	}
	return invite.ErrNotActive
}

// DeleteExpiredBefore removes invites whose expiry predates the cutoff.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invites WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invites: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deletion result: %w", err)
	}
	return affected, nil
}

// ListInvitesFor returns every invite issued to the identity, newest first.
func (s *Store) ListInvitesFor(ctx context.Context, externalID int64) ([]*invite.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inviteColumns+` FROM invites
		WHERE external_id = $1
		ORDER BY created_at DESC
	`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	var tokens []*invite.Token
	for rows.Next() {
		token, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invites: %w", err)
	}
	return tokens, nil
}

// linkInTx binds the external identity to the account inside the caller's
// transaction. Shared between ConsumeInvite and LinkAccount.
func linkInTx(ctx context.Context, tx *sql.Tx, accountID string, externalID int64, displayName string, now time.Time) error {
	var current sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT external_id FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return accounts.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read account for linking: %w", err)
	}

	if current.Valid {
		if current.Int64 == externalID {
			// Already linked to this identity; idempotent no-op.
			return nil
		}
		return accounts.ErrLinkConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET external_id = $2, external_name = $3, linked_at = $4
		WHERE id = $1
	`, accountID, externalID, displayName, now)
	if err != nil {
		if isUniqueViolation(err, "idx_accounts_external_id") {
			return accounts.ErrLinkConflict
		}
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvite(row scanner) (*invite.Token, error) {
	var token invite.Token
	var consumedAt sql.NullTime
	var consumedBy sql.NullString

	err := row.Scan(
		&token.ID,
		&token.Code,
		&token.ExternalID,
		&token.ExternalName,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Consumed,
		&consumedAt,
		&consumedBy,
	)
	if err != nil {
		return nil, err
	}

	if consumedAt.Valid {
		t := consumedAt.Time
		token.ConsumedAt = &t
	}
	if consumedBy.Valid {
		token.ConsumedBy = consumedBy.String
	}
	return &token, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
