package memory

import (
	"context"
	"sort"
	"time"

	"github.com/MrEthical07/authhero/store"
)

type tx struct {
	st *state
}

func linkKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func (t *tx) PrincipalByID(_ context.Context, id string) (store.Principal, error) {
	p, ok := t.st.principals[id]
	if !ok {
		return store.Principal{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) PrincipalByEmail(ctx context.Context, email string) (store.Principal, error) {
	id, ok := t.st.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return store.Principal{}, store.ErrNotFound
	}
	return t.PrincipalByID(ctx, id)
}

func (t *tx) CreatePrincipal(_ context.Context, p store.Principal) error {
	p.Email = store.NormalizeEmail(p.Email)
	if _, ok := t.st.byEmail[p.Email]; ok {
		return store.ErrConflict
	}
	if _, ok := t.st.principals[p.ID]; ok {
		return store.ErrConflict
	}
	t.st.principals[p.ID] = p
	t.st.byEmail[p.Email] = p.ID
	return nil
}

func (t *tx) updatePrincipal(id string, fn func(*store.Principal)) error {
	p, ok := t.st.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&p)
	t.st.principals[id] = p
	return nil
}

func (t *tx) SetPasswordHash(_ context.Context, principalID, hash string, at time.Time) error {
	return t.updatePrincipal(principalID, func(p *store.Principal) {
		p.PasswordHash = hash
		p.UpdatedAt = at
	})
}

func (t *tx) MarkEmailVerified(_ context.Context, principalID string, at time.Time) error {
	return t.updatePrincipal(principalID, func(p *store.Principal) {
		p.EmailVerified = true
		p.UpdatedAt = at
	})
}

func (t *tx) SetMFAEnabled(_ context.Context, principalID string, enabled bool, at time.Time) error {
	return t.updatePrincipal(principalID, func(p *store.Principal) {
		p.MFAEnabled = enabled
		p.UpdatedAt = at
	})
}

func (t *tx) CreateSession(_ context.Context, s store.Session) error {
	if _, ok := t.st.sessions[s.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := t.st.byRefresh[s.RefreshHash]; ok {
		return store.ErrConflict
	}
	t.st.sessions[s.ID] = cloneSession(s)
	t.st.byRefresh[s.RefreshHash] = s.ID
	return nil
}

func (t *tx) SessionByID(_ context.Context, id string) (store.Session, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return cloneSession(s), nil
}

func (t *tx) LookupRefresh(ctx context.Context, refreshHash string) (store.RefreshLookup, error) {
	if id, ok := t.st.byRefresh[refreshHash]; ok {
		s, err := t.SessionByID(ctx, id)
		return store.RefreshLookup{Session: s}, err
	}
	if id, ok := t.st.retired[refreshHash]; ok {
		s, err := t.SessionByID(ctx, id)
		return store.RefreshLookup{Session: s, Retired: true}, err
	}
	return store.RefreshLookup{}, store.ErrNotFound
}

func (t *tx) RotateSession(_ context.Context, sessionID, expectedHash string, next store.Rotation) error {
	s, ok := t.st.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if s.RefreshHash != expectedHash || s.RevokedAt != nil {
		return store.ErrStale
	}
	if _, taken := t.st.byRefresh[next.RefreshHash]; taken {
		return store.ErrConflict
	}

	delete(t.st.byRefresh, expectedHash)
	t.st.retired[expectedHash] = sessionID
	t.st.byRefresh[next.RefreshHash] = sessionID

	rotated := next.RotatedAt
	s.RefreshHash = next.RefreshHash
	s.ExpiresAt = next.ExpiresAt
	s.LastRotatedAt = &rotated
	s.UserAgent = next.UserAgent
	s.IPAddress = next.IPAddress
	t.st.sessions[sessionID] = s
	return nil
}

func (t *tx) RevokeSession(_ context.Context, sessionID string, at time.Time) error {
	s, ok := t.st.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if s.RevokedAt != nil {
		return store.ErrStale
	}
	revoked := at
	s.RevokedAt = &revoked
	t.st.sessions[sessionID] = s
	return nil
}

func (t *tx) RevokePrincipalSessions(_ context.Context, principalID, exceptSessionID string, at time.Time) (int, error) {
	n := 0
	for id, s := range t.st.sessions {
		if s.PrincipalID != principalID || s.RevokedAt != nil || id == exceptSessionID {
			continue
		}
		revoked := at
		s.RevokedAt = &revoked
		t.st.sessions[id] = s
		n++
	}
	return n, nil
}

func (t *tx) ActiveSessions(_ context.Context, principalID string, now time.Time) ([]store.Session, error) {
	out := make([]store.Session, 0)
	for _, s := range t.st.sessions {
		if s.PrincipalID == principalID && s.Active(now) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) CreateToken(_ context.Context, tok store.OneTimeToken) error {
	if _, ok := t.st.tokens[tok.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range t.st.tokens {
		if existing.Purpose == tok.Purpose && existing.TokenHash == tok.TokenHash {
			return store.ErrConflict
		}
	}
	t.st.tokens[tok.ID] = cloneToken(tok)
	return nil
}

func (t *tx) TokenByHash(_ context.Context, purpose store.Purpose, tokenHash string) (store.OneTimeToken, error) {
	for _, tok := range t.st.tokens {
		if tok.Purpose == purpose && tok.TokenHash == tokenHash {
			return cloneToken(tok), nil
		}
	}
	return store.OneTimeToken{}, store.ErrNotFound
}

func (t *tx) MarkTokenUsed(_ context.Context, tokenID string, at time.Time) error {
	tok, ok := t.st.tokens[tokenID]
	if !ok {
		return store.ErrNotFound
	}
	if tok.UsedAt != nil {
		return store.ErrStale
	}
	used := at
	tok.UsedAt = &used
	t.st.tokens[tokenID] = tok
	return nil
}

func (t *tx) DeleteOpenTokens(_ context.Context, principalID string, purpose store.Purpose) error {
	for id, tok := range t.st.tokens {
		if tok.PrincipalID == principalID && tok.Purpose == purpose && tok.UsedAt == nil {
			delete(t.st.tokens, id)
		}
	}
	return nil
}

func (t *tx) MFASecret(_ context.Context, principalID string) (store.MFASecret, error) {
	m, ok := t.st.mfa[principalID]
	if !ok {
		return store.MFASecret{}, store.ErrNotFound
	}
	return cloneMFA(m), nil
}

func (t *tx) UpsertMFASecret(_ context.Context, m store.MFASecret) error {
	if existing, ok := t.st.mfa[m.PrincipalID]; ok {
		m.CreatedAt = existing.CreatedAt
	}
	t.st.mfa[m.PrincipalID] = cloneMFA(m)
	return nil
}

func (t *tx) ConfirmMFASecret(_ context.Context, principalID string, at time.Time) error {
	m, ok := t.st.mfa[principalID]
	if !ok {
		return store.ErrNotFound
	}
	if m.Verified {
		return store.ErrStale
	}
	enabled := at
	m.Verified = true
	m.EnabledAt = &enabled
	m.UpdatedAt = at
	t.st.mfa[principalID] = m
	return nil
}

func (t *tx) UseTOTPCounter(_ context.Context, principalID string, counter int64, at time.Time) error {
	m, ok := t.st.mfa[principalID]
	if !ok {
		return store.ErrNotFound
	}
	if counter <= m.LastUsedCounter {
		return store.ErrStale
	}
	m.LastUsedCounter = counter
	m.UpdatedAt = at
	t.st.mfa[principalID] = m
	return nil
}

func (t *tx) RemoveBackupCode(_ context.Context, principalID, codeHash string, at time.Time) error {
	m, ok := t.st.mfa[principalID]
	if !ok {
		return store.ErrNotFound
	}
	for i, c := range m.BackupCodes {
		if c == codeHash {
			codes := make([]string, 0, len(m.BackupCodes)-1)
			codes = append(codes, m.BackupCodes[:i]...)
			codes = append(codes, m.BackupCodes[i+1:]...)
			m.BackupCodes = codes
			m.UpdatedAt = at
			t.st.mfa[principalID] = m
			return nil
		}
	}
	return store.ErrStale
}

func (t *tx) FederatedIdentity(_ context.Context, provider, subject string) (store.FederatedIdentity, error) {
	l, ok := t.st.links[linkKey(provider, subject)]
	if !ok {
		return store.FederatedIdentity{}, store.ErrNotFound
	}
	return l, nil
}

func (t *tx) LinkIdentity(_ context.Context, link store.FederatedIdentity) error {
	key := linkKey(link.Provider, link.Subject)
	if _, ok := t.st.links[key]; ok {
		return store.ErrConflict
	}
	if _, ok := t.st.principals[link.PrincipalID]; !ok {
		return store.ErrNotFound
	}
	t.st.links[key] = link
	return nil
}
