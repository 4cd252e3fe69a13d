// Package memory implements the gatelink storage contract in process
// memory. It exists for development mode and for tests that need real
// concurrency semantics without a database; a single mutex gives it the
// same linearizable consumption guarantees the postgres backend gets from
// row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/invite"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	invitesByCode map[string]*invite.Token
	accountsByID  map[string]*accounts.Account
	rolesByID     map[string]map[string]struct{}
	externalIndex map[int64]string // external ID -> account ID
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		invitesByCode: make(map[string]*invite.Token),
		accountsByID:  make(map[string]*accounts.Account),
		rolesByID:     make(map[string]map[string]struct{}),
		externalIndex: make(map[int64]string),
	}
}

// CreateInvite implements invite.Store.
func (s *Store) CreateInvite(ctx context.Context, token *invite.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitesByCode[token.Code]; exists {
		return invite.ErrDuplicateCode
	}
	for _, existing := range s.invitesByCode {
		if existing.ExternalID == token.ExternalID && existing.ActiveAt(token.CreatedAt) {
			return invite.ErrActiveExists
		}
	}

	copied := *token
	s.invitesByCode[token.Code] = &copied
	return nil
}

// GetInvite implements invite.Store.
func (s *Store) GetInvite(ctx context.Context, code string) (*invite.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.invitesByCode[code]
	if !ok {
		return nil, invite.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

// ActiveInviteFor implements invite.Store.
func (s *Store) ActiveInviteFor(ctx context.Context, externalID int64, now time.Time) (*invite.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range s.invitesByCode {
		if token.ExternalID == externalID && token.ActiveAt(now) {
			copied := *token
			return &copied, nil
		}
	}
	return nil, nil
}

// ConsumeInvite implements invite.Store. The mutex makes the check-then-set
// sequence atomic, so concurrent consumers of the same code see exactly one
// success.
func (s *Store) ConsumeInvite(ctx context.Context, code, accountID string, now time.Time) (*invite.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.invitesByCode[code]
	if !ok {
		return nil, invite.ErrNotFound
	}
	switch token.StateAt(now) {
	case invite.StateExpired:
		return nil, invite.ErrExpired
	case invite.StateConsumed:
		return nil, invite.ErrAlreadyConsumed
	}

	if err := s.linkLocked(accountID, token.ExternalID, token.ExternalName, now); err != nil {
		return nil, err
	}

	token.Consumed = true
	consumedAt := now
	token.ConsumedAt = &consumedAt
	token.ConsumedBy = accountID

	copied := *token
	return &copied, nil
}

// RevokeInvite implements invite.Store.
func (s *Store) RevokeInvite(ctx context.Context, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.invitesByCode[code]
	if !ok {
		return invite.ErrNotFound
	}
	if !token.ActiveAt(now) {
		return invite.ErrNotActive
	}
	token.ExpiresAt = now
	return nil
}

// DeleteExpiredBefore implements invite.Store.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for code, token := range s.invitesByCode {
		if token.ExpiresAt.Before(cutoff) {
			delete(s.invitesByCode, code)
			removed++
		}
	}
	return removed, nil
}

// ListInvitesFor implements invite.Store.
func (s *Store) ListInvitesFor(ctx context.Context, externalID int64) ([]*invite.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []*invite.Token
	for _, token := range s.invitesByCode {
		if token.ExternalID == externalID {
			copied := *token
			tokens = append(tokens, &copied)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// CreateAccount implements accounts.Store.
func (s *Store) CreateAccount(ctx context.Context, account *accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	copied := *account
	s.accountsByID[account.ID] = &copied
	if account.ExternalID != nil {
		s.externalIndex[*account.ExternalID] = account.ID
	}
	return nil
}

// AccountByID implements accounts.Store.
func (s *Store) AccountByID(ctx context.Context, id string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(id)
}

// AccountByExternalID implements accounts.Store.
func (s *Store) AccountByExternalID(ctx context.Context, externalID int64) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.externalIndex[externalID]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	return s.accountLocked(id)
}

// LinkAccount implements accounts.Store.
func (s *Store) LinkAccount(ctx context.Context, accountID string, externalID int64, displayName string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkLocked(accountID, externalID, displayName, now)
}

// UnlinkAccount implements accounts.Store.
func (s *Store) UnlinkAccount(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByID[accountID]
	if !ok {
		return 0, accounts.ErrAccountNotFound
	}
	if account.ExternalID == nil {
		return 0, accounts.ErrNotLinked
	}

	externalID := *account.ExternalID
	delete(s.externalIndex, externalID)
	account.ExternalID = nil
	account.ExternalName = ""
	account.LinkedAt = nil
	return externalID, nil
}

// RolesForExternalID implements accounts.Store.
func (s *Store) RolesForExternalID(ctx context.Context, externalID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.externalIndex[externalID]
	if !ok {
		return []string{}, nil
	}
	return s.rolesLocked(id), nil
}

// RolesForAccount implements accounts.Store.
func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountsByID[accountID]; !ok {
		return nil, accounts.ErrAccountNotFound
	}
	return s.rolesLocked(accountID), nil
}

// AssignRole implements accounts.Store.
func (s *Store) AssignRole(ctx context.Context, accountID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountsByID[accountID]; !ok {
		return accounts.ErrAccountNotFound
	}
	roles, ok := s.rolesByID[accountID]
	if !ok {
		roles = make(map[string]struct{})
		s.rolesByID[accountID] = roles
	}
	roles[role] = struct{}{}
	return nil
}

// RemoveRole implements accounts.Store.
func (s *Store) RemoveRole(ctx context.Context, accountID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountsByID[accountID]; !ok {
		return accounts.ErrAccountNotFound
	}
	delete(s.rolesByID[accountID], role)
	return nil
}

func (s *Store) accountLocked(id string) (*accounts.Account, error) {
	account, ok := s.accountsByID[id]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	copied := *account
	if account.ExternalID != nil {
		ext := *account.ExternalID
		copied.ExternalID = &ext
	}
	if account.LinkedAt != nil {
		t := *account.LinkedAt
		copied.LinkedAt = &t
	}
	return &copied, nil
}

func (s *Store) linkLocked(accountID string, externalID int64, displayName string, now time.Time) error {
	account, ok := s.accountsByID[accountID]
	if !ok {
		return accounts.ErrAccountNotFound
	}

	if holder, taken := s.externalIndex[externalID]; taken {
		if holder == accountID {
			return nil
		}
		return accounts.ErrLinkConflict
	}
	if account.ExternalID != nil && *account.ExternalID != externalID {
		return accounts.ErrLinkConflict
	}

	ext := externalID
	linkedAt := now
	account.ExternalID = &ext
	account.ExternalName = displayName
	account.LinkedAt = &linkedAt
	s.externalIndex[externalID] = accountID
	return nil
}

func (s *Store) rolesLocked(accountID string) []string {
	roles := []string{}
	for role := range s.rolesByID[accountID] {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
