package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/httpapi"
	"github.com/MrEthical07/authhero/internal/logger"
	promexport "github.com/MrEthical07/authhero/metrics/export/prometheus"
	"github.com/MrEthical07/authhero/notify"
	"github.com/rs/zerolog"
)

type ServeCmd struct {
	Listen          string `help:"HTTP listen address" default:"0.0.0.0:8080" env:"AUTHHERO_LISTEN"`
	TrustProxy      bool   `help:"take the client IP from X-Forwarded-For" default:"false" env:"AUTHHERO_TRUST_PROXY"`
	InsecureCookies bool   `help:"omit the Secure cookie attribute (plain HTTP development only)" default:"false" env:"AUTHHERO_INSECURE_COOKIES"`
	QueueEmail      bool   `help:"queue emails in Redis for the worker instead of sending inline" default:"false" env:"AUTHHERO_QUEUE_EMAIL"`
	MetricsPath     string `help:"path serving Prometheus metrics, empty to disable" default:"/metrics" env:"AUTHHERO_METRICS_PATH"`
	AutoMigrate     bool   `help:"apply postgres migrations on startup" default:"false" env:"AUTHHERO_AUTO_MIGRATE"`

	Store StoreFlags `embed:"" prefix:"store-"`
	Redis RedisFlags `embed:"" prefix:"redis-"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("starting authherod")

	cfg, err := authhero.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	st, err := c.Store.open(ctx, c.AutoMigrate, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rdb, err := c.Redis.open(ctx)
	if err != nil {
		return err
	}

	b := authhero.New().
		WithConfig(cfg).
		WithStore(st).
		WithLogger(log)
	if rdb != nil {
		defer rdb.Close()
		b = b.WithRedis(rdb)
	} else {
		log.Warn().Msg("no redis configured, login and MFA attempt limits are disabled")
	}
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(authhero.NewLogSink(log.With().Str("component", "audit").Logger()))
	}

	switch {
	case c.QueueEmail && rdb != nil:
		b = b.WithSender(notify.NewQueue(rdb, cfg.Notify.QueueKey))
	case c.QueueEmail:
		return errors.New("--queue-email requires --redis-url")
	default:
		sender, err := directSender(log)
		if err != nil {
			return err
		}
		b = b.WithSender(sender)
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(engine, httpapi.Options{
		TrustProxy:      c.TrustProxy,
		InsecureCookies: c.InsecureCookies,
		Logger:          log,
	}))
	if c.MetricsPath != "" {
		mux.Handle("GET "+c.MetricsPath, promexport.NewExporter(engine).Handler())
	}

	srv := configureHTTPServer(c.Listen, mux)
	return serve(ctx, srv, log)
}

func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
