package commands

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authhero/notify"
	"github.com/MrEthical07/authhero/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPostgresConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHHERO_POSTGRES_URL", "postgres://env@db/authhero")
	t.Setenv("AUTHHERO_POSTGRES_MAX_CONNS", "7")
	t.Setenv("AUTHHERO_POSTGRES_CONNECT_TIMEOUT", "3s")

	f := StoreFlags{Type: "postgres"}
	cfg, err := f.postgresConfig(false)
	require.NoError(t, err)
	require.Equal(t, "postgres://env@db/authhero", cfg.ConnString)
	require.Equal(t, int32(7), cfg.MaxConns)
	require.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	require.False(t, cfg.AutoMigrate)

	f.PostgresURL = "postgres://flag@db/authhero"
	cfg, err = f.postgresConfig(true)
	require.NoError(t, err)
	require.Equal(t, "postgres://flag@db/authhero", cfg.ConnString)
	require.True(t, cfg.AutoMigrate)
}

func TestOpenMemoryStore(t *testing.T) {
	f := StoreFlags{Type: "memory"}
	st, err := f.open(context.Background(), false, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, st)
}

func TestOpenSQLiteStore(t *testing.T) {
	f := StoreFlags{Type: "sqlite", SQLitePath: t.TempDir() + "/authhero.db"}
	st, err := f.open(context.Background(), false, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Ping(context.Background()))
}

func TestRedisFlagsOptional(t *testing.T) {
	client, err := (&RedisFlags{}).open(context.Background())
	require.NoError(t, err)
	require.Nil(t, client)

	_, err = (&RedisFlags{URL: "not a url"}).open(context.Background())
	require.Error(t, err)
}

func TestDirectSenderFallsBackToLog(t *testing.T) {
	sender, err := directSender(zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, notify.LogSender{}, sender)

	t.Setenv("AUTHHERO_SMTP_HOST", "smtp.example.com")
	t.Setenv("AUTHHERO_SMTP_FROM", "no-reply@example.com")
	sender, err = directSender(zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &notify.SMTPSender{}, sender)
}
