package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cpike5/gatelink/pkg/accounts"
)

const accountColumns = `id, username, external_id, external_name, linked_at, created_at`

// CreateAccount persists a new account.
func (s *Store) CreateAccount(ctx context.Context, account *accounts.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, external_id, external_name, linked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account.ID, account.Username, account.ExternalID, account.ExternalName, account.LinkedAt, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// AccountByID retrieves an account by its identifier.
func (s *Store) AccountByID(ctx context.Context, id string) (*accounts.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// AccountByExternalID retrieves the account linked to the external identity.
func (s *Store) AccountByExternalID(ctx context.Context, externalID int64) (*accounts.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_id = $1`, externalID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return account, nil
}

// LinkAccount binds the external identity to the account. The unique index
// on external_id is the concurrency backstop: two racing links for the same
// identity cannot both commit.
func (s *Store) LinkAccount(ctx context.Context, accountID string, externalID int64, displayName string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A different account already holding this identity is a conflict even
	// before we touch the target row.
	var holder string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE external_id = $1`, externalID,
	).Scan(&holder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing link: %w", err)
	}
	if err == nil && holder != accountID {
		return accounts.ErrLinkConflict
	}

	if err := linkInTx(ctx, tx, accountID, externalID, displayName, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit link: %w", err)
	}
	return nil
}

// UnlinkAccount clears the account's external fields and returns the
// previously linked external ID.
func (s *Store) UnlinkAccount(ctx context.Context, accountID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT external_id FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, accounts.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read account for unlinking: %w", err)
	}
	if !current.Valid {
		return 0, accounts.ErrNotLinked
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET external_id = NULL, external_name = '', linked_at = NULL
		WHERE id = $1
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit unlink: %w", err)
	}
	return current.Int64, nil
}

// RolesForExternalID resolves role names through the account link. An
// unlinked identity yields no rows, which callers receive as an empty set.
func (s *Store) RolesForExternalID(ctx context.Context, externalID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.role
		FROM accounts a
		JOIN account_roles r ON r.account_id = a.id
		WHERE a.external_id = $1
		ORDER BY r.role
	`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

// RolesForAccount returns the role names granted to the account.
func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM account_roles WHERE account_id = $1 ORDER BY role
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

// AssignRole grants a role; granting an already-held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, accountID, role string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO account_roles (account_id, role)
		SELECT id, $2 FROM accounts WHERE id = $1
		ON CONFLICT (account_id, role) DO NOTHING
	`, accountID, role)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read role assignment result: %w", err)
	}
	if affected == 0 {
		// Either the account is missing or the role was already held.
		if _, err := s.AccountByID(ctx, accountID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRole revokes a role; removing an unheld role is a no-op.
func (s *Store) RemoveRole(ctx context.Context, accountID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM account_roles WHERE account_id = $1 AND role = $2`, accountID, role)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

func scanAccount(row scanner) (*accounts.Account, error) {
	var account accounts.Account
	var externalID sql.NullInt64
	var linkedAt sql.NullTime

	err := row.Scan(
		&account.ID,
		&account.Username,
		&externalID,
		&account.ExternalName,
		&linkedAt,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		id := externalID.Int64
		account.ExternalID = &id
	}
	if linkedAt.Valid {
		t := linkedAt.Time
		account.LinkedAt = &t
	}
	return &account, nil
}

func collectRoles(rows *sql.Rows) ([]string, error) {
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}
