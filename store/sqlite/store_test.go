package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/store/storetest"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "authhero.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authhero.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	require.Equal(t, 2, applied)
}

func TestExtractUp(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	up := extractUp(content)
	require.Contains(t, up, "CREATE TABLE a")
	require.False(t, strings.Contains(up, "DROP TABLE"))
	require.Equal(t, "SELECT 1;", extractUp("SELECT 1;"))
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.LinkIdentity(ctx, store.FederatedIdentity{Provider: "google", Subject: "x", PrincipalID: "missing"})
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}
