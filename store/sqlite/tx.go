package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/store"
)

type tx struct {
	tx *sql.Tx
}

var _ store.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

const principalColumns = `id, email, password_hash, email_verified, mfa_enabled, created_at, updated_at`

const sessionColumns = `s.id, s.principal_id, s.refresh_hash, s.expires_at, s.revoked_at, s.last_rotated_at, s.user_agent, s.ip_address, s.created_at`

const tokenColumns = `id, principal_id, purpose, token_hash, expires_at, used_at, created_at`

func scanPrincipal(row scanner) (store.Principal, error) {
	var p store.Principal
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.EmailVerified, &p.MFAEnabled, &createdAt, &updatedAt); err != nil {
		return store.Principal{}, mapSQLiteError(err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func scanSession(row scanner) (store.Session, error) {
	var s store.Session
	var expiresAt, createdAt int64
	var revokedAt, rotatedAt sql.NullInt64
	err := row.Scan(&s.ID, &s.PrincipalID, &s.RefreshHash, &expiresAt, &revokedAt, &rotatedAt, &s.UserAgent, &s.IPAddress, &createdAt)
	if err != nil {
		return store.Session{}, mapSQLiteError(err)
	}
	s.ExpiresAt = fromMillis(expiresAt)
	s.CreatedAt = fromMillis(createdAt)
	s.RevokedAt = fromNullMillis(revokedAt)
	s.LastRotatedAt = fromNullMillis(rotatedAt)
	return s, nil
}

func scanToken(row scanner) (store.OneTimeToken, error) {
	var t store.OneTimeToken
	var purpose string
	var expiresAt, createdAt int64
	var usedAt sql.NullInt64
	if err := row.Scan(&t.ID, &t.PrincipalID, &purpose, &t.TokenHash, &expiresAt, &usedAt, &createdAt); err != nil {
		return store.OneTimeToken{}, mapSQLiteError(err)
	}
	t.Purpose = store.Purpose(purpose)
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UsedAt = fromNullMillis(usedAt)
	return t, nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (t *tx) execOne(ctx context.Context, query string, args ...any) error {
	n, err := t.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// staleOrMissing is called after a conditional write changed nothing.
func (t *tx) staleOrMissing(ctx context.Context, query string, args ...any) error {
	var found int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return mapSQLiteError(err)
	}
	return store.ErrStale
}

/* ==== PRINCIPALS ==== */

func (t *tx) PrincipalByID(ctx context.Context, id string) (store.Principal, error) {
	return scanPrincipal(t.tx.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = ?`, id))
}

func (t *tx) PrincipalByEmail(ctx context.Context, email string) (store.Principal, error) {
	return scanPrincipal(t.tx.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = ?`, store.NormalizeEmail(email)))
}

func (t *tx) CreatePrincipal(ctx context.Context, p store.Principal) error {
	_, err := t.exec(ctx, `
		INSERT INTO principals (id, email, password_hash, email_verified, mfa_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, store.NormalizeEmail(p.Email), p.PasswordHash, p.EmailVerified, p.MFAEnabled, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	return err
}

func (t *tx) SetPasswordHash(ctx context.Context, principalID, hash string, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, toMillis(at), principalID)
}

func (t *tx) MarkEmailVerified(ctx context.Context, principalID string, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET email_verified = 1, updated_at = ? WHERE id = ?`, toMillis(at), principalID)
}

func (t *tx) SetMFAEnabled(ctx context.Context, principalID string, enabled bool, at time.Time) error {
	return t.execOne(ctx, `UPDATE principals SET mfa_enabled = ?, updated_at = ? WHERE id = ?`, enabled, toMillis(at), principalID)
}

/* ==== SESSIONS ==== */

func (t *tx) CreateSession(ctx context.Context, s store.Session) error {
	_, err := t.exec(ctx, `
		INSERT INTO sessions (id, principal_id, refresh_hash, expires_at, revoked_at, last_rotated_at, user_agent, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PrincipalID, s.RefreshHash, toMillis(s.ExpiresAt), nullMillis(s.RevokedAt), nullMillis(s.LastRotatedAt),
		s.UserAgent, s.IPAddress, toMillis(s.CreatedAt))
	return err
}

func (t *tx) SessionByID(ctx context.Context, id string) (store.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id))
}

// LookupRefresh needs no row lock: the store's single connection already
// serializes transactions.
func (t *tx) LookupRefresh(ctx context.Context, refreshHash string) (store.RefreshLookup, error) {
	s, err := scanSession(t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.refresh_hash = ?`, refreshHash))
	if err == nil {
		return store.RefreshLookup{Session: s}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.RefreshLookup{}, err
	}

	s, err = scanSession(t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM retired_refresh_hashes r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.hash = ?`, refreshHash))
	if err != nil {
		return store.RefreshLookup{}, err
	}
	return store.RefreshLookup{Session: s, Retired: true}, nil
}

func (t *tx) RotateSession(ctx context.Context, sessionID, expectedHash string, next store.Rotation) error {
	n, err := t.exec(ctx, `
		UPDATE sessions
		SET refresh_hash = ?, expires_at = ?, last_rotated_at = ?, user_agent = ?, ip_address = ?
		WHERE id = ? AND refresh_hash = ? AND revoked_at IS NULL`,
		next.RefreshHash, toMillis(next.ExpiresAt), toMillis(next.RotatedAt), next.UserAgent, next.IPAddress,
		sessionID, expectedHash)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID)
	}

	if _, err := t.exec(ctx,
		`INSERT OR IGNORE INTO retired_refresh_hashes (hash, session_id, retired_at) VALUES (?, ?, ?)`,
		expectedHash, sessionID, toMillis(next.RotatedAt)); err != nil {
		return fmt.Errorf("retire refresh hash: %w", err)
	}
	return nil
}

func (t *tx) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, toMillis(at), sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID)
	}
	return nil
}

func (t *tx) RevokePrincipalSessions(ctx context.Context, principalID, exceptSessionID string, at time.Time) (int, error) {
	n, err := t.exec(ctx, `
		UPDATE sessions SET revoked_at = ?
		WHERE principal_id = ? AND revoked_at IS NULL AND id <> ?`,
		toMillis(at), principalID, exceptSessionID)
	return int(n), err
}

func (t *tx) ActiveSessions(ctx context.Context, principalID string, now time.Time) ([]store.Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.principal_id = ? AND s.revoked_at IS NULL AND s.expires_at > ?
		ORDER BY s.created_at DESC, s.id`,
		principalID, toMillis(now))
	if err != nil {
		return nil, mapSQLiteError(err)
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
	return out, rows.Err()
}

/* ==== ONE-TIME TOKENS ==== */

func (t *tx) CreateToken(ctx context.Context, tok store.OneTimeToken) error {
	_, err := t.exec(ctx, `
		INSERT INTO one_time_tokens (id, principal_id, purpose, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.PrincipalID, string(tok.Purpose), tok.TokenHash, toMillis(tok.ExpiresAt), nullMillis(tok.UsedAt), toMillis(tok.CreatedAt))
	return err
}

func (t *tx) TokenByHash(ctx context.Context, purpose store.Purpose, tokenHash string) (store.OneTimeToken, error) {
	return scanToken(t.tx.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM one_time_tokens WHERE purpose = ? AND token_hash = ?`,
		string(purpose), tokenHash))
}

func (t *tx) MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE one_time_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, toMillis(at), tokenID)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM one_time_tokens WHERE id = ?`, tokenID)
	}
	return nil
}

func (t *tx) DeleteOpenTokens(ctx context.Context, principalID string, purpose store.Purpose) error {
	_, err := t.exec(ctx,
		`DELETE FROM one_time_tokens WHERE principal_id = ? AND purpose = ? AND used_at IS NULL`,
		principalID, string(purpose))
	return err
}

/* ==== MFA ==== */

func (t *tx) MFASecret(ctx context.Context, principalID string) (store.MFASecret, error) {
	var m store.MFASecret
	var codes string
	var enabledAt sql.NullInt64
	var createdAt, updatedAt int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT principal_id, sealed_seed, backup_codes, verified, last_used_counter, enabled_at, created_at, updated_at
		FROM mfa_secrets WHERE principal_id = ?`, principalID).
		Scan(&m.PrincipalID, &m.SealedSeed, &codes, &m.Verified, &m.LastUsedCounter, &enabledAt, &createdAt, &updatedAt)
	if err != nil {
		return store.MFASecret{}, mapSQLiteError(err)
	}
	if err := json.Unmarshal([]byte(codes), &m.BackupCodes); err != nil {
		return store.MFASecret{}, fmt.Errorf("decode backup codes: %w", err)
	}
	m.EnabledAt = fromNullMillis(enabledAt)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}

func encodeCodes(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("encode backup codes: %w", err)
	}
	return string(raw), nil
}

func (t *tx) UpsertMFASecret(ctx context.Context, m store.MFASecret) error {
	codes, err := encodeCodes(m.BackupCodes)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `
		INSERT INTO mfa_secrets (principal_id, sealed_seed, backup_codes, verified, last_used_counter, enabled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal_id) DO UPDATE SET
			sealed_seed       = excluded.sealed_seed,
			backup_codes      = excluded.backup_codes,
			verified          = excluded.verified,
			last_used_counter = excluded.last_used_counter,
			enabled_at        = excluded.enabled_at,
			updated_at        = excluded.updated_at`,
		m.PrincipalID, m.SealedSeed, codes, m.Verified, m.LastUsedCounter, nullMillis(m.EnabledAt), toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	return err
}

func (t *tx) ConfirmMFASecret(ctx context.Context, principalID string, at time.Time) error {
	ms := toMillis(at)
	n, err := t.exec(ctx, `UPDATE mfa_secrets SET verified = 1, enabled_at = ?, updated_at = ? WHERE principal_id = ? AND verified = 0`, ms, ms, principalID)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM mfa_secrets WHERE principal_id = ?`, principalID)
	}
	return nil
}

func (t *tx) UseTOTPCounter(ctx context.Context, principalID string, counter int64, at time.Time) error {
	n, err := t.exec(ctx, `
		UPDATE mfa_secrets SET last_used_counter = ?, updated_at = ?
		WHERE principal_id = ? AND last_used_counter < ?`,
		counter, toMillis(at), principalID, counter)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.staleOrMissing(ctx, `SELECT 1 FROM mfa_secrets WHERE principal_id = ?`, principalID)
	}
	return nil
}

// RemoveBackupCode rewrites the JSON code list in Go; the single connection
// makes the read-modify-write atomic.
func (t *tx) RemoveBackupCode(ctx context.Context, principalID, codeHash string, at time.Time) error {
	m, err := t.MFASecret(ctx, principalID)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(m.BackupCodes))
	removed := false
	for _, c := range m.BackupCodes {
		if !removed && c == codeHash {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return store.ErrStale
	}

	codes, err := encodeCodes(kept)
	if err != nil {
		return err
	}
	return t.execOne(ctx, `UPDATE mfa_secrets SET backup_codes = ?, updated_at = ? WHERE principal_id = ?`, codes, toMillis(at), principalID)
}

/* ==== FEDERATION ==== */

func (t *tx) FederatedIdentity(ctx context.Context, provider, subject string) (store.FederatedIdentity, error) {
	var f store.FederatedIdentity
	var createdAt int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT provider, subject, principal_id, created_at
		FROM federated_identities WHERE provider = ? AND subject = ?`, provider, subject).
		Scan(&f.Provider, &f.Subject, &f.PrincipalID, &createdAt)
	if err != nil {
		return store.FederatedIdentity{}, mapSQLiteError(err)
	}
	f.CreatedAt = fromMillis(createdAt)
	return f, nil
}

func (t *tx) LinkIdentity(ctx context.Context, link store.FederatedIdentity) error {
	_, err := t.exec(ctx, `
		INSERT INTO federated_identities (provider, subject, principal_id, created_at)
		VALUES (?, ?, ?, ?)`,
		link.Provider, link.Subject, link.PrincipalID, toMillis(link.CreatedAt))
	return err
}
