// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Refresh lookups lock the owning session row with SELECT ... FOR UPDATE so
// concurrent rotations of one session serialize; the conditional UPDATE in
// RotateSession settles whichever caller arrives second.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/store"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool     *pgxpool.Pool
	attempts uint
}

var _ store.Store = (*Store)(nil)

// Open creates the pool described by cfg, applying migrations first when
// cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg PoolConfig) (*Store, error) {
	pool, err := NewPool(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, attempts: cfg.TxAttempts}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of
// migrations.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, attempts: 3}
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.pool)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a read-committed transaction. Transactions aborted by a
// serialization failure or deadlock are run again with exponential backoff.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := s.runTx(ctx, fn)
		if err != nil && !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(s.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transaction")
		}),
	)
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(store.Tx) error) error {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapPostgresError(err))
	}
	defer func() {
		_ = pgxTx.Rollback(context.WithoutCancel(ctx))
	}()

	err = fn(&tx{tx: pgxTx})
	if err != nil {
		inner, commit := store.IsCommit(err)
		if !commit {
			return err
		}
		if cerr := pgxTx.Commit(ctx); cerr != nil {
			return fmt.Errorf("commit transaction: %w", mapPostgresError(cerr))
		}
		return inner
	}

	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapPostgresError(err))
	}
	return nil
}
