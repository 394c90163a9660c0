package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/store"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type tx struct {
	tx pgx.Tx
}

var _ store.Tx = (*tx)(nil)

const principalColumns = `id, email, password_hash, email_verified, mfa_enabled, created_at, updated_at`

const sessionColumns = `s.id, s.principal_id, s.refresh_hash, s.expires_at, s.revoked_at, s.last_rotated_at, s.user_agent, s.ip_address, s.created_at`

const tokenColumns = `id, principal_id, purpose, token_hash, expires_at, used_at, created_at`

func scanPrincipal(row pgx.Row) (store.Principal, error) {
	var p store.Principal
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.EmailVerified, &p.MFAEnabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return store.Principal{}, mapPostgresError(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanSession(row pgx.Row) (store.Session, error) {
	var s store.Session
	err := row.Scan(&s.ID, &s.PrincipalID, &s.RefreshHash, &s.ExpiresAt, &s.RevokedAt, &s.LastRotatedAt, &s.UserAgent, &s.IPAddress, &s.CreatedAt)
	if err != nil {
		return store.Session{}, mapPostgresError(err)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.RevokedAt = utcPtr(s.RevokedAt)
	s.LastRotatedAt = utcPtr(s.LastRotatedAt)
	return s, nil
}

func scanToken(row pgx.Row) (store.OneTimeToken, error) {
	var t store.OneTimeToken
	var purpose string
	err := row.Scan(&t.ID, &t.PrincipalID, &purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return store.OneTimeToken{}, mapPostgresError(err)
	}
	t.Purpose = store.Purpose(purpose)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UsedAt = utcPtr(t.UsedAt)
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// exists distinguishes a missing row from a failed precondition after a
// conditional write changed nothing.
func (t *tx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(`+query+`)`, args...).Scan(&found); err != nil {
		return false, mapPostgresError(err)
	}
	return found, nil
}

// staleOrMissing returns ErrStale when the row exists and ErrNotFound when
// it does not.
func (t *tx) staleOrMissing(ctx context.Context, query string, args ...any) error {
	found, err := t.exists(ctx, query, args...)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return store.ErrStale
}

func (t *tx) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

/* ==== PRINCIPALS ==== */

func (t *tx) PrincipalByID(ctx context.Context, id string) (store.Principal, error) {
	return scanPrincipal(t.tx.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
}

func (t *tx) PrincipalByEmail(ctx context.Context, email string) (store.Principal, error) {
	return scanPrincipal(t.tx.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = $1`, store.NormalizeEmail(email)))
}

func (t *tx) CreatePrincipal(ctx context.Context, p store.Principal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO principals (id, email, password_hash, email_verified, mfa_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, store.NormalizeEmail(p.Email), p.PasswordHash, p.EmailVerified, p.MFAEnabled, p.CreatedAt, p.UpdatedAt)
	return mapPostgresError(err)
}

func (t *tx) SetPasswordHash(ctx context.Context, principalID, hash string, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET password_hash = $2, updated_at = $3 WHERE id = $1`, principalID, hash, at)
}

func (t *tx) MarkEmailVerified(ctx context.Context, principalID string, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET email_verified = TRUE, updated_at = $2 WHERE id = $1`, principalID, at)
}

func (t *tx) SetMFAEnabled(ctx context.Context, principalID string, enabled bool, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET mfa_enabled = $2, updated_at = $3 WHERE id = $1`, principalID, enabled, at)
}

/* ==== SESSIONS ==== */

func (t *tx) CreateSession(ctx context.Context, s store.Session) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sessions (id, principal_id, refresh_hash, expires_at, revoked_at, last_rotated_at, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.PrincipalID, s.RefreshHash, s.ExpiresAt, s.RevokedAt, s.LastRotatedAt, s.UserAgent, s.IPAddress, s.CreatedAt)
	if err != nil {
		return mapPostgresError(err)
	}
	zerolog.Ctx(ctx).Debug().Str("session_id", s.ID).Str("principal_id", s.PrincipalID).Msg("session created")
	return nil
}

func (t *tx) SessionByID(ctx context.Context, id string) (store.Session, error) {
	return scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id))
}

func (t *tx) LookupRefresh(ctx context.Context, refreshHash string) (store.RefreshLookup, error) {
	s, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.refresh_hash = $1 FOR UPDATE`, refreshHash))
	if err == nil {
		return store.RefreshLookup{Session: s}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.RefreshLookup{}, err
	}

	s, err = scanSession(t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM retired_refresh_hashes r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.hash = $1
		FOR UPDATE OF s`, refreshHash))
	if err != nil {
		return store.RefreshLookup{}, err
	}
	return store.RefreshLookup{Session: s, Retired: true}, nil
}

func (t *tx) RotateSession(ctx context.Context, sessionID, expectedHash string, next store.Rotation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sessions
		SET refresh_hash = $3, expires_at = $4, last_rotated_at = $5, user_agent = $6, ip_address = $7
		WHERE id = $1 AND refresh_hash = $2 AND revoked_at IS NULL`,
		sessionID, expectedHash, next.RefreshHash, next.ExpiresAt, next.RotatedAt, next.UserAgent, next.IPAddress)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM sessions WHERE id = $1`, sessionID)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO retired_refresh_hashes (hash, session_id, retired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING`,
		expectedHash, sessionID, next.RotatedAt)
	if err != nil {
		return fmt.Errorf("retire refresh hash: %w", mapPostgresError(err))
	}
	zerolog.Ctx(ctx).Debug().Str("session_id", sessionID).Msg("session rotated")
	return nil
}

func (t *tx) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, sessionID, at)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM sessions WHERE id = $1`, sessionID)
	}
	return nil
}

func (t *tx) RevokePrincipalSessions(ctx context.Context, principalID, exceptSessionID string, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sessions SET revoked_at = $3
		WHERE principal_id = $1 AND revoked_at IS NULL AND id <> $2`,
		principalID, exceptSessionID, at)
	if err != nil {
		return 0, mapPostgresError(err)
	}
	n := int(tag.RowsAffected())
	zerolog.Ctx(ctx).Debug().Str("principal_id", principalID).Int("revoked", n).Msg("principal sessions revoked")
	return n, nil
}

func (t *tx) ActiveSessions(ctx context.Context, principalID string, now time.Time) ([]store.Session, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.principal_id = $1 AND s.revoked_at IS NULL AND s.expires_at > $2
		ORDER BY s.created_at DESC, s.id`,
		principalID, now)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return out, nil
}

/* ==== ONE-TIME TOKENS ==== */

func (t *tx) CreateToken(ctx context.Context, tok store.OneTimeToken) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO one_time_tokens (id, principal_id, purpose, token_hash, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tok.ID, tok.PrincipalID, string(tok.Purpose), tok.TokenHash, tok.ExpiresAt, tok.UsedAt, tok.CreatedAt)
	return mapPostgresError(err)
}

func (t *tx) TokenByHash(ctx context.Context, purpose store.Purpose, tokenHash string) (store.OneTimeToken, error) {
	return scanToken(t.tx.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM one_time_tokens WHERE purpose = $1 AND token_hash = $2`,
		string(purpose), tokenHash))
}

func (t *tx) MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE one_time_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, tokenID, at)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM one_time_tokens WHERE id = $1`, tokenID)
	}
	return nil
}

func (t *tx) DeleteOpenTokens(ctx context.Context, principalID string, purpose store.Purpose) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM one_time_tokens WHERE principal_id = $1 AND purpose = $2 AND used_at IS NULL`,
		principalID, string(purpose))
	return mapPostgresError(err)
}

/* ==== MFA ==== */

func (t *tx) MFASecret(ctx context.Context, principalID string) (store.MFASecret, error) {
	var m store.MFASecret
	err := t.tx.QueryRow(ctx, `
		SELECT principal_id, sealed_seed, backup_codes, verified, last_used_counter, enabled_at, created_at, updated_at
		FROM mfa_secrets WHERE principal_id = $1`, principalID).
		Scan(&m.PrincipalID, &m.SealedSeed, &m.BackupCodes, &m.Verified, &m.LastUsedCounter, &m.EnabledAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.MFASecret{}, mapPostgresError(err)
	}
	m.EnabledAt = utcPtr(m.EnabledAt)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (t *tx) UpsertMFASecret(ctx context.Context, m store.MFASecret) error {
	codes := m.BackupCodes
	if codes == nil {
		codes = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO mfa_secrets (principal_id, sealed_seed, backup_codes, verified, last_used_counter, enabled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (principal_id) DO UPDATE SET
			sealed_seed       = EXCLUDED.sealed_seed,
			backup_codes      = EXCLUDED.backup_codes,
			verified          = EXCLUDED.verified,
			last_used_counter = EXCLUDED.last_used_counter,
			enabled_at        = EXCLUDED.enabled_at,
			updated_at        = EXCLUDED.updated_at`,
		m.PrincipalID, m.SealedSeed, codes, m.Verified, m.LastUsedCounter, m.EnabledAt, m.CreatedAt, m.UpdatedAt)
	return mapPostgresError(err)
}

func (t *tx) ConfirmMFASecret(ctx context.Context, principalID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE mfa_secrets SET verified = TRUE, enabled_at = $2, updated_at = $2 WHERE principal_id = $1 AND NOT verified`,
		principalID, at)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM mfa_secrets WHERE principal_id = $1`, principalID)
	}
	return nil
}

func (t *tx) UseTOTPCounter(ctx context.Context, principalID string, counter int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE mfa_secrets SET last_used_counter = $2, updated_at = $3
		WHERE principal_id = $1 AND last_used_counter < $2`,
		principalID, counter, at)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM mfa_secrets WHERE principal_id = $1`, principalID)
	}
	return nil
}

func (t *tx) RemoveBackupCode(ctx context.Context, principalID, codeHash string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE mfa_secrets
		SET backup_codes = array_remove(backup_codes, $2), updated_at = $3
		WHERE principal_id = $1 AND $2 = ANY(backup_codes)`,
		principalID, codeHash, at)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM mfa_secrets WHERE principal_id = $1`, principalID)
	}
	return nil
}

/* ==== FEDERATION ==== */

func (t *tx) FederatedIdentity(ctx context.Context, provider, subject string) (store.FederatedIdentity, error) {
	var f store.FederatedIdentity
	err := t.tx.QueryRow(ctx, `
		SELECT provider, subject, principal_id, created_at
		FROM federated_identities WHERE provider = $1 AND subject = $2`, provider, subject).
		Scan(&f.Provider, &f.Subject, &f.PrincipalID, &f.CreatedAt)
	if err != nil {
		return store.FederatedIdentity{}, mapPostgresError(err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func (t *tx) LinkIdentity(ctx context.Context, link store.FederatedIdentity) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO federated_identities (provider, subject, principal_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		link.Provider, link.Subject, link.PrincipalID, link.CreatedAt)
	return mapPostgresError(err)
}
