package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const settleTimeout = 5 * time.Second

// WorkerConfig tunes queue polling and delivery retries.
type WorkerConfig struct {
	Key string
	// ProcessingKey holds jobs taken but not yet finished, "<key>:processing"
	// by default. Workers sharing a queue need distinct processing keys.
	ProcessingKey   string
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	PollTimeout     time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Key == "" {
		c.Key = DefaultQueueKey
	}
	if c.ProcessingKey == "" {
		c.ProcessingKey = processingKey(c.Key)
	}
	if c.MaxTries == 0 {
		c.MaxTries = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
}

// Worker drains a [Queue] and hands each message to a downstream Sender.
// A message sits in the processing list while it is being delivered, so a
// crash leaves it there for [Worker.Recover]. Messages that still fail after
// MaxTries go to the "<key>:dead" list.
type Worker struct {
	redis  redis.UniversalClient
	sender Sender
	cfg    WorkerConfig
	logger zerolog.Logger
}

// NewWorker builds a consumer for the list named in cfg.Key.
func NewWorker(client redis.UniversalClient, sender Sender, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{redis: client, sender: sender, cfg: cfg, logger: logger}
}

// Run recovers abandoned messages, then processes messages until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.Recover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	} else if n > 0 {
		w.logger.Warn().Int("count", n).Msg("requeued unfinished email jobs")
	}
	w.logger.Info().Str("queue", w.cfg.Key).Msg("email worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("email worker stopped")
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("email queue poll failed")
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.InitialInterval):
			}
		}
	}
}

// ProcessOne waits up to PollTimeout for a message and delivers it. It
// reports whether a message was taken off the queue. Delivery failures are
// dead-lettered and logged, not returned. A message whose delivery is cut
// short by ctx goes back on the queue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	raw, err := w.redis.BLMove(ctx, w.cfg.Key, w.cfg.ProcessingKey, "RIGHT", "LEFT", w.cfg.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		w.logger.Error().Err(err).Msg("dropping malformed email job")
		return true, w.deadLetter(ctx, raw)
	}

	log := w.logger.With().Str("job_id", j.ID).Str("subject", j.Subject).Logger()
	if err := w.deliver(ctx, j, log); err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("email delivery interrupted, requeued")
			return true, w.requeue(ctx, raw)
		}
		log.Error().Err(err).Msg("email delivery failed, moved to dead letter list")
		return true, w.deadLetter(ctx, raw)
	}
	log.Debug().Dur("queued_for", time.Since(j.EnqueuedAt)).Msg("email delivered")
	return true, w.finish(ctx, raw)
}

// Recover moves every message left in the processing list back to the
// delivery end of the queue and returns how many moved.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := w.redis.LMove(ctx, w.cfg.ProcessingKey, w.cfg.Key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (w *Worker) deliver(ctx context.Context, j job, log zerolog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialInterval
	b.MaxInterval = w.cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := w.sender.SendEmail(ctx, j.To, j.Subject, j.HTML)
		if errors.Is(err, ErrInvalidRecipient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("email delivery attempt failed")
		}),
	)
	return err
}

func (w *Worker) finish(ctx context.Context, raw string) error {
	return w.settle(ctx, raw, nil)
}

func (w *Worker) deadLetter(ctx context.Context, raw string) error {
	return w.settle(ctx, raw, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.LPush(ctx, deadLetterKey(w.cfg.Key), raw)
	})
}

// requeue puts raw back at the delivery end of the queue.
func (w *Worker) requeue(ctx context.Context, raw string) error {
	return w.settle(ctx, raw, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.RPush(ctx, w.cfg.Key, raw)
	})
}

// settle applies fn and drops raw from the processing list atomically. It
// may run after ctx is cancelled, so it gets its own deadline.
func (w *Worker) settle(ctx context.Context, raw string, fn func(context.Context, redis.Pipeliner)) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	_, err := w.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if fn != nil {
			fn(ctx, pipe)
		}
		pipe.LRem(ctx, w.cfg.ProcessingKey, 1, raw)
		return nil
	})
	return err
}
