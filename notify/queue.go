package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list holding pending emails.
const DefaultQueueKey = "authhero:email-queue"

type job struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a [Sender] that pushes messages onto a Redis list for a [Worker]
// to deliver later. A nil error means the message was queued, not sent.
type Queue struct {
	redis redis.UniversalClient
	key   string
	now   func() time.Time
}

// NewQueue returns a producer for the list at key (DefaultQueueKey if empty).
func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{redis: client, key: key, now: time.Now}
}

func (q *Queue) SendEmail(ctx context.Context, to, subject, html string) error {
	payload, err := json.Marshal(job{
		ID:         uuid.NewString(),
		To:         to,
		Subject:    subject,
		HTML:       html,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", ErrDelivery, err)
	}
	if err := q.redis.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrDelivery, err)
	}
	return nil
}

// Len returns the number of queued messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.key).Result()
}

func deadLetterKey(key string) string {
	return key + ":dead"
}

func processingKey(key string) string {
	return key + ":processing"
}
