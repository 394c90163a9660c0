package postgres

import (
	"errors"
	"testing"

	"github.com/MrEthical07/authhero/store"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMapPostgresError(t *testing.T) {
	require.NoError(t, mapPostgresError(nil))
	require.ErrorIs(t, mapPostgresError(pgx.ErrNoRows), store.ErrNotFound)

	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "principals_email_key"}
	err := mapPostgresError(unique)
	require.ErrorIs(t, err, store.ErrConflict)
	require.Contains(t, err.Error(), "principals_email_key")

	fk := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, Detail: "Key (principal_id) is not present"}
	require.ErrorIs(t, mapPostgresError(fk), store.ErrNotFound)

	serial := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	mapped := mapPostgresError(serial)
	require.True(t, isRetryable(mapped))
	var pgErr *pgconn.PgError
	require.True(t, errors.As(mapped, &pgErr))

	plain := errors.New("network down")
	require.Equal(t, plain, mapPostgresError(plain))
	require.False(t, isRetryable(plain))
	require.False(t, isRetryable(mapPostgresError(unique)))
}

func TestLoadMigrationsOrdered(t *testing.T) {
	log := zerolog.Nop()
	migrations, err := loadMigrations(&log)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, 1, migrations[0].version)
	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].version, migrations[i].version)
	}
	require.Contains(t, migrations[0].content, "CREATE TABLE IF NOT EXISTS sessions")
}

func TestPoolConfigDefaults(t *testing.T) {
	cfg := PoolConfig{ConnString: "postgres://localhost/authhero"}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.EqualValues(t, 20, cfg.MaxConns)
	require.EqualValues(t, 3, cfg.TxAttempts)

	require.Error(t, (&PoolConfig{}).Validate())
	bad := PoolConfig{ConnString: "postgres://x", MaxConns: 1, MinConns: 4}
	require.Error(t, bad.Validate())
}
