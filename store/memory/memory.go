package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authhero/store"
)

// Store is an in-process [store.Store]. Transactions are serialized by one
// mutex and run against a copy of the state that replaces the live state on
// commit.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	principals map[string]store.Principal
	byEmail    map[string]string
	sessions   map[string]store.Session
	byRefresh  map[string]string
	retired    map[string]string
	tokens     map[string]store.OneTimeToken
	mfa        map[string]store.MFASecret
	links      map[string]store.FederatedIdentity
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		principals: map[string]store.Principal{},
		byEmail:    map[string]string{},
		sessions:   map[string]store.Session{},
		byRefresh:  map[string]string{},
		retired:    map[string]string{},
		tokens:     map[string]store.OneTimeToken{},
		mfa:        map[string]store.MFASecret{},
		links:      map[string]store.FederatedIdentity{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.principals {
		out.principals[k] = v
	}
	for k, v := range s.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = cloneSession(v)
	}
	for k, v := range s.byRefresh {
		out.byRefresh[k] = v
	}
	for k, v := range s.retired {
		out.retired[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = cloneToken(v)
	}
	for k, v := range s.mfa {
		out.mfa[k] = cloneMFA(v)
	}
	for k, v := range s.links {
		out.links[k] = v
	}
	return out
}

// InTx runs fn against a private copy of the state and publishes it when fn
// returns nil or a [store.Commit] error.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	err := fn(&tx{st: work})
	if err != nil {
		if inner, ok := store.IsCommit(err); ok {
			s.state = work
			return inner
		}
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneSession(s store.Session) store.Session {
	s.RevokedAt = cloneTime(s.RevokedAt)
	s.LastRotatedAt = cloneTime(s.LastRotatedAt)
	return s
}

func cloneToken(t store.OneTimeToken) store.OneTimeToken {
	t.UsedAt = cloneTime(t.UsedAt)
	return t
}

func cloneMFA(m store.MFASecret) store.MFASecret {
	m.SealedSeed = append([]byte(nil), m.SealedSeed...)
	m.BackupCodes = append([]string(nil), m.BackupCodes...)
	m.EnabledAt = cloneTime(m.EnabledAt)
	return m
}
