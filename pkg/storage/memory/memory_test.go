package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/invite"
)

func newToken(code string, externalID int64, ttl time.Duration) *invite.Token {
	now := time.Now()
	return &invite.Token{
		ID:         fmt.Sprintf("id-%s", code),
		Code:       code,
		ExternalID: externalID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func seedAccounts(t *testing.T, store *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.CreateAccount(context.Background(), &accounts.Account{
			ID:       id,
			Username: "user-" + id,
		}))
	}
}

func TestCreateInviteRejectsDuplicateCode(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateInvite(ctx, newToken("AAAA-BBBB-CCCC", 1, time.Hour)))
	err := store.CreateInvite(ctx, newToken("AAAA-BBBB-CCCC", 2, time.Hour))
	assert.ErrorIs(t, err, invite.ErrDuplicateCode)
}

func TestCreateInviteRejectsSecondActivePerIdentity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateInvite(ctx, newToken("AAAA-BBBB-CCCC", 1, time.Hour)))
	err := store.CreateInvite(ctx, newToken("DDDD-EEEE-FFFF", 1, time.Hour))
	assert.ErrorIs(t, err, invite.ErrActiveExists)
}

func TestCreateInviteAllowsNewAfterExpiry(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	expired := newToken("AAAA-BBBB-CCCC", 1, time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateInvite(ctx, expired))

	assert.NoError(t, store.CreateInvite(ctx, newToken("DDDD-EEEE-FFFF", 1, time.Hour)))
}

func TestConcurrentIssueBackstop(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var successes, conflicts int64
	var mu sync.Mutex

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			token := newToken(fmt.Sprintf("CODE-%04d-AAAA", i), 42, time.Hour)
			err := store.CreateInvite(ctx, token)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if err == invite.ErrActiveExists {
				conflicts++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(workers-1), conflicts)
}

func TestConsumeExactlyOnceUnderContention(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-0", "acct-1", "acct-2", "acct-3", "acct-4",
		"acct-5", "acct-6", "acct-7", "acct-8", "acct-9")

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := store.ConsumeInvite(ctx, token.Code, fmt.Sprintf("acct-%d", i), time.Now())
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var successes, alreadyConsumed int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case err == invite.ErrAlreadyConsumed:
			alreadyConsumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, alreadyConsumed)

	// Exactly one account ended up linked to the identity.
	account, err := store.AccountByExternalID(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, account.ExternalID)
	assert.Equal(t, int64(42), *account.ExternalID)
}

func TestConsumeLinksAtomically(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-1", "acct-2")

	// acct-2 already holds the identity; consumption for acct-1 must fail
	// and leave the invite unconsumed.
	now := time.Now()
	require.NoError(t, store.LinkAccount(ctx, "acct-2", 42, "someone", now))

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	_, err := store.ConsumeInvite(ctx, token.Code, "acct-1", now)
	assert.ErrorIs(t, err, accounts.ErrLinkConflict)

	got, err := store.GetInvite(ctx, token.Code)
	require.NoError(t, err)
	assert.False(t, got.Consumed)
}

func TestConsumeUnknownAccountLeavesInviteUnconsumed(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	_, err := store.ConsumeInvite(ctx, token.Code, "ghost", time.Now())
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)

	got, err := store.GetInvite(ctx, token.Code)
	require.NoError(t, err)
	assert.False(t, got.Consumed)
}

func TestConsumeAtExpiryInstantFails(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-1")

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	_, err := store.ConsumeInvite(ctx, token.Code, "acct-1", token.ExpiresAt)
	assert.ErrorIs(t, err, invite.ErrExpired)
}

func TestRevokeInvite(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	now := time.Now()
	require.NoError(t, store.RevokeInvite(ctx, token.Code, now))

	got, err := store.GetInvite(ctx, token.Code)
	require.NoError(t, err)
	assert.Equal(t, invite.StateExpired, got.StateAt(now))

	assert.ErrorIs(t, store.RevokeInvite(ctx, token.Code, now), invite.ErrNotActive)
	assert.ErrorIs(t, store.RevokeInvite(ctx, "ZZZZ-ZZZZ-ZZZZ", now), invite.ErrNotFound)
}

func TestDeleteExpiredBefore(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	old := newToken("AAAA-BBBB-CCCC", 1, time.Hour)
	old.ExpiresAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateInvite(ctx, old))

	recent := newToken("DDDD-EEEE-FFFF", 2, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, recent))

	removed, err := store.DeleteExpiredBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetInvite(ctx, old.Code)
	assert.ErrorIs(t, err, invite.ErrNotFound)
	_, err = store.GetInvite(ctx, recent.Code)
	assert.NoError(t, err)
}

func TestListInvitesForNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	first.CreatedAt = time.Now().Add(-2 * time.Hour)
	first.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateInvite(ctx, first))

	second := newToken("DDDD-EEEE-FFFF", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, second))

	other := newToken("GGGG-HHHH-JJJJ", 7, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, other))

	tokens, err := store.ListInvitesFor(ctx, 42)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, second.Code, tokens[0].Code)
	assert.Equal(t, first.Code, tokens[1].Code)
}

func TestLinkBijectivity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-1", "acct-2")
	now := time.Now()

	require.NoError(t, store.LinkAccount(ctx, "acct-1", 42, "someone", now))

	t.Run("identity cannot link to a second account", func(t *testing.T) {
		err := store.LinkAccount(ctx, "acct-2", 42, "someone", now)
		assert.ErrorIs(t, err, accounts.ErrLinkConflict)
	})

	t.Run("account cannot link to a second identity", func(t *testing.T) {
		err := store.LinkAccount(ctx, "acct-1", 43, "someone", now)
		assert.ErrorIs(t, err, accounts.ErrLinkConflict)
	})

	t.Run("relinking the same pair is a no-op", func(t *testing.T) {
		assert.NoError(t, store.LinkAccount(ctx, "acct-1", 42, "someone", now))
	})
}

func TestUnlinkFreesIdentity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-1", "acct-2")
	now := time.Now()

	require.NoError(t, store.LinkAccount(ctx, "acct-1", 42, "someone", now))

	externalID, err := store.UnlinkAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), externalID)

	_, err = store.UnlinkAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, accounts.ErrNotLinked)

	assert.NoError(t, store.LinkAccount(ctx, "acct-2", 42, "someone", now))
}

func TestRolesForExternalID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedAccounts(t, store, "acct-1")

	roles, err := store.RolesForExternalID(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, store.LinkAccount(ctx, "acct-1", 42, "someone", time.Now()))
	require.NoError(t, store.AssignRole(ctx, "acct-1", "Moderator"))
	require.NoError(t, store.AssignRole(ctx, "acct-1", "Administrator"))
	require.NoError(t, store.AssignRole(ctx, "acct-1", "Administrator"))

	roles, err = store.RolesForExternalID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Administrator", "Moderator"}, roles)

	require.NoError(t, store.RemoveRole(ctx, "acct-1", "Administrator"))
	roles, err = store.RolesForExternalID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Moderator"}, roles)
}

func TestStoreReturnsDefensiveCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	token := newToken("AAAA-BBBB-CCCC", 42, time.Hour)
	require.NoError(t, store.CreateInvite(ctx, token))

	got, err := store.GetInvite(ctx, token.Code)
	require.NoError(t, err)
	got.Consumed = true

	again, err := store.GetInvite(ctx, token.Code)
	require.NoError(t, err)
	assert.False(t, again.Consumed)
}
