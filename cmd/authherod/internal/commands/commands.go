package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/authhero/notify"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/store/memory"
	"github.com/MrEthical07/authhero/store/postgres"
	"github.com/MrEthical07/authhero/store/sqlite"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// StoreFlags selects and configures the persistence backend. Postgres pool
// tuning is read from AUTHHERO_POSTGRES_* variables.
type StoreFlags struct {
	Type        string `help:"store type (memory, sqlite or postgres)" default:"memory" enum:"memory,sqlite,postgres" env:"AUTHHERO_STORE"`
	SQLitePath  string `help:"SQLite database file" default:"authhero.db" env:"AUTHHERO_SQLITE_PATH"`
	PostgresURL string `help:"PostgreSQL connection string" env:"AUTHHERO_POSTGRES_URL"`
}

func (f *StoreFlags) postgresConfig(autoMigrate bool) (postgres.PoolConfig, error) {
	var cfg postgres.PoolConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUTHHERO_POSTGRES_"}); err != nil {
		return cfg, fmt.Errorf("postgres config: %w", err)
	}
	if f.PostgresURL != "" {
		cfg.ConnString = f.PostgresURL
	}
	cfg.AutoMigrate = cfg.AutoMigrate || autoMigrate
	return cfg, nil
}

func (f *StoreFlags) open(ctx context.Context, autoMigrate bool, log zerolog.Logger) (store.Store, error) {
	log.Info().Str("store", f.Type).Msg("opening store")
	switch f.Type {
	case "sqlite":
		return sqlite.Open(ctx, f.SQLitePath)
	case "postgres":
		cfg, err := f.postgresConfig(autoMigrate)
		if err != nil {
			return nil, err
		}
		return postgres.Open(log.WithContext(ctx), cfg)
	default:
		log.Warn().Msg("memory store in use, all data is lost on exit")
		return memory.New(), nil
	}
}

// RedisFlags configures the Redis client behind rate limiting and the email
// queue.
type RedisFlags struct {
	URL string `help:"Redis URL, e.g. redis://localhost:6379/0" env:"AUTHHERO_REDIS_URL"`
}

func (f *RedisFlags) open(ctx context.Context) (*redis.Client, error) {
	if f.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(f.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func loadSMTPConfig() (notify.SMTPConfig, error) {
	var cfg notify.SMTPConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUTHHERO_SMTP_"}); err != nil {
		return cfg, fmt.Errorf("smtp config: %w", err)
	}
	return cfg, nil
}

// directSender returns an SMTP sender when a relay is configured and a
// logging sender otherwise.
func directSender(log zerolog.Logger) (notify.Sender, error) {
	cfg, err := loadSMTPConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Configured() {
		log.Warn().Msg("no SMTP relay configured, emails are logged instead of sent")
		return notify.LogSender{Logger: log}, nil
	}
	return notify.NewSMTPSender(cfg)
}
