// Package storetest holds the behavioral checks every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authhero/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("principal uniqueness", func(t *testing.T) { testPrincipalUniqueness(t, newStore(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("commit error keeps writes", func(t *testing.T) { testCommitError(t, newStore(t)) })
	t.Run("session rotation", func(t *testing.T) { testRotation(t, newStore(t)) })
	t.Run("concurrent rotation", func(t *testing.T) { testConcurrentRotation(t, newStore(t)) })
	t.Run("bulk revoke", func(t *testing.T) { testBulkRevoke(t, newStore(t)) })
	t.Run("one-time tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("mfa secret", func(t *testing.T) { testMFA(t, newStore(t)) })
	t.Run("federated identity", func(t *testing.T) { testFederation(t, newStore(t)) })
}

func seedPrincipal(t *testing.T, s store.Store, email string) store.Principal {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := store.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreatePrincipal(context.Background(), p)
	})
	require.NoError(t, err)
	p.Email = store.NormalizeEmail(email)
	return p
}

func seedSession(t *testing.T, s store.Store, principalID, hash string, ttl time.Duration) store.Session {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := store.Session{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		RefreshHash: hash,
		ExpiresAt:   now.Add(ttl),
		UserAgent:   "test-agent",
		IPAddress:   "127.0.0.1",
		CreatedAt:   now,
	}
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateSession(context.Background(), sess)
	})
	require.NoError(t, err)
	return sess
}

func testPrincipalUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "  Alice@Example.com ")

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.CreatePrincipal(ctx, store.Principal{ID: uuid.NewString(), Email: "alice@example.com"})
	})
	require.ErrorIs(t, err, store.ErrConflict)

	err = s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.PrincipalByEmail(ctx, "ALICE@example.com")
		require.NoError(t, err)
		require.Equal(t, p.ID, got.ID)
		require.Equal(t, "alice@example.com", got.Email)

		_, err = tx.PrincipalByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreatePrincipal(ctx, store.Principal{ID: uuid.NewString(), Email: "bob@example.com"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.PrincipalByEmail(ctx, "bob@example.com")
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testCommitError(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "carol@example.com")
	boom := errors.New("reuse")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.MarkEmailVerified(ctx, p.ID, time.Now()); err != nil {
			return err
		}
		return store.Commit(boom)
	})
	require.ErrorIs(t, err, boom)

	err = s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.PrincipalByID(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, got.EmailVerified)
		return nil
	})
	require.NoError(t, err)
}

func testRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "dave@example.com")
	sess := seedSession(t, s, p.ID, "h0", time.Hour)
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.RotateSession(ctx, sess.ID, "h0", store.Rotation{
			RefreshHash: "h1",
			ExpiresAt:   now.Add(2 * time.Hour),
			RotatedAt:   now,
			UserAgent:   "agent-2",
			IPAddress:   "10.0.0.2",
		})
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		cur, err := tx.LookupRefresh(ctx, "h1")
		require.NoError(t, err)
		require.False(t, cur.Retired)
		require.Equal(t, sess.ID, cur.Session.ID)
		require.Equal(t, "agent-2", cur.Session.UserAgent)
		require.NotNil(t, cur.Session.LastRotatedAt)

		old, err := tx.LookupRefresh(ctx, "h0")
		require.NoError(t, err)
		require.True(t, old.Retired)
		require.Equal(t, sess.ID, old.Session.ID)

		_, err = tx.LookupRefresh(ctx, "unknown")
		require.ErrorIs(t, err, store.ErrNotFound)

		return nil
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.RotateSession(ctx, sess.ID, "h0", store.Rotation{RefreshHash: "h2", ExpiresAt: now.Add(time.Hour), RotatedAt: now})
	})
	require.ErrorIs(t, err, store.ErrStale)
}

func testConcurrentRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "erin@example.com")
	sess := seedSession(t, s, p.ID, "start", time.Hour)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.InTx(ctx, func(tx store.Tx) error {
				found, err := tx.LookupRefresh(ctx, "start")
				if err != nil {
					return err
				}
				if found.Retired {
					return store.ErrStale
				}
				now := time.Now().UTC()
				return tx.RotateSession(ctx, found.Session.ID, "start", store.Rotation{
					RefreshHash: uuid.NewString(),
					ExpiresAt:   now.Add(time.Hour),
					RotatedAt:   now,
				})
			})
		}(i)
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, store.ErrStale)
	}
	require.Equal(t, 1, success, "exactly one rotation of %s must win", sess.ID)
}

func testBulkRevoke(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "frank@example.com")
	other := seedPrincipal(t, s, "grace@example.com")
	keep := seedSession(t, s, p.ID, "k", time.Hour)
	seedSession(t, s, p.ID, "a", time.Hour)
	seedSession(t, s, p.ID, "b", time.Hour)
	foreign := seedSession(t, s, other.ID, "c", time.Hour)
	now := time.Now().UTC()

	err := s.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.RevokePrincipalSessions(ctx, p.ID, keep.ID, now)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		active, err := tx.ActiveSessions(ctx, p.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, keep.ID, active[0].ID)

		n, err = tx.RevokePrincipalSessions(ctx, p.ID, "", now)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.ErrorIs(t, tx.RevokeSession(ctx, keep.ID, now), store.ErrStale)
		require.NoError(t, tx.RevokeSession(ctx, foreign.ID, now))
		return nil
	})
	require.NoError(t, err)
}

func testTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "heidi@example.com")
	now := time.Now().UTC().Truncate(time.Millisecond)
	tok := store.OneTimeToken{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Purpose:     store.PurposeEmailVerification,
		TokenHash:   "th",
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateToken(ctx, tok))

		_, err := tx.TokenByHash(ctx, store.PurposePasswordReset, "th")
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := tx.TokenByHash(ctx, store.PurposeEmailVerification, "th")
		require.NoError(t, err)
		require.False(t, got.Used())

		require.NoError(t, tx.MarkTokenUsed(ctx, tok.ID, now))
		require.ErrorIs(t, tx.MarkTokenUsed(ctx, tok.ID, now), store.ErrStale)
		return nil
	})
	require.NoError(t, err)

	open := store.OneTimeToken{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Purpose:     store.PurposeEmailVerification,
		TokenHash:   "th2",
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	}
	err = s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateToken(ctx, open))
		require.NoError(t, tx.DeleteOpenTokens(ctx, p.ID, store.PurposeEmailVerification))

		_, err := tx.TokenByHash(ctx, store.PurposeEmailVerification, "th2")
		require.ErrorIs(t, err, store.ErrNotFound)

		used, err := tx.TokenByHash(ctx, store.PurposeEmailVerification, "th")
		require.NoError(t, err)
		require.True(t, used.Used())
		return nil
	})
	require.NoError(t, err)
}

func testMFA(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "ivan@example.com")
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.MFASecret(ctx, p.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, tx.UpsertMFASecret(ctx, store.MFASecret{
			PrincipalID: p.ID,
			SealedSeed:  []byte{1, 2, 3},
			BackupCodes: []string{"c1", "c2"},
			CreatedAt:   now,
			UpdatedAt:   now,
		}))
		require.NoError(t, tx.UpsertMFASecret(ctx, store.MFASecret{
			PrincipalID: p.ID,
			SealedSeed:  []byte{4, 5, 6},
			BackupCodes: []string{"d1", "d2", "d3"},
			CreatedAt:   now,
			UpdatedAt:   now,
		}))

		got, err := tx.MFASecret(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, []byte{4, 5, 6}, got.SealedSeed)
		require.False(t, got.Verified)
		require.Len(t, got.BackupCodes, 3)

		require.NoError(t, tx.ConfirmMFASecret(ctx, p.ID, now))
		require.ErrorIs(t, tx.ConfirmMFASecret(ctx, p.ID, now), store.ErrStale)
		require.NoError(t, tx.RemoveBackupCode(ctx, p.ID, "d2", now))
		require.ErrorIs(t, tx.RemoveBackupCode(ctx, p.ID, "d2", now), store.ErrStale)

		require.NoError(t, tx.UseTOTPCounter(ctx, p.ID, 100, now))
		require.ErrorIs(t, tx.UseTOTPCounter(ctx, p.ID, 100, now), store.ErrStale)
		require.ErrorIs(t, tx.UseTOTPCounter(ctx, p.ID, 99, now), store.ErrStale)
		require.NoError(t, tx.UseTOTPCounter(ctx, p.ID, 101, now))
		require.ErrorIs(t, tx.UseTOTPCounter(ctx, "missing", 1, now), store.ErrNotFound)

		got, err = tx.MFASecret(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, got.Verified)
		require.NotNil(t, got.EnabledAt)
		require.EqualValues(t, 101, got.LastUsedCounter)
		require.ElementsMatch(t, []string{"d1", "d3"}, got.BackupCodes)
		return nil
	})
	require.NoError(t, err)
}

func testFederation(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPrincipal(t, s, "judy@example.com")
	now := time.Now().UTC().Truncate(time.Millisecond)
	link := store.FederatedIdentity{Provider: "google", Subject: "sub-1", PrincipalID: p.ID, CreatedAt: now}

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.LinkIdentity(ctx, link)
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.LinkIdentity(ctx, link)
	})
	require.ErrorIs(t, err, store.ErrConflict)

	err = s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.FederatedIdentity(ctx, "google", "sub-1")
		require.NoError(t, err)
		require.Equal(t, p.ID, got.PrincipalID)

		_, err = tx.FederatedIdentity(ctx, "github", "sub-1")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
