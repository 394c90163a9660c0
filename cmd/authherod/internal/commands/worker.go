package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/internal/logger"
	"github.com/MrEthical07/authhero/notify"
)

type WorkerCmd struct {
	MaxTries        uint          `help:"delivery attempts before a message is dead-lettered" default:"5" env:"AUTHHERO_WORKER_MAX_TRIES"`
	InitialInterval time.Duration `help:"first retry delay" default:"1s" env:"AUTHHERO_WORKER_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `help:"retry delay cap" default:"30s" env:"AUTHHERO_WORKER_MAX_INTERVAL"`
	ProcessingKey   string        `help:"in-flight list for this worker; give each concurrent worker its own" env:"AUTHHERO_WORKER_PROCESSING_KEY"`

	Redis RedisFlags `embed:"" prefix:"redis-"`
}

func (c *WorkerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := authhero.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	rdb, err := c.Redis.open(ctx)
	if err != nil {
		return err
	}
	if rdb == nil {
		return errors.New("worker requires --redis-url")
	}
	defer rdb.Close()

	sender, err := directSender(log)
	if err != nil {
		return err
	}

	w := notify.NewWorker(rdb, sender, notify.WorkerConfig{
		Key:             cfg.Notify.QueueKey,
		ProcessingKey:   c.ProcessingKey,
		MaxTries:        c.MaxTries,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}, log)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
