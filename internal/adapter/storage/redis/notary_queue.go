package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paywallet-core/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const notaryQueueKey = "notary:queue"

// NotaryQueue implements ports.Notary and ports.NotarySource on a Redis
// list. Completed payments push jobs here and a background worker drains
// them, so notarization never sits on the payment path.
type NotaryQueue struct {
	client *goredis.Client
}

// NewNotaryQueue creates a new Redis-backed notarization queue.
func NewNotaryQueue(client *goredis.Client) *NotaryQueue {
	return &NotaryQueue{client: client}
}

// Enqueue pushes a notarization job onto the queue.
func (q *NotaryQueue) Enqueue(ctx context.Context, txID uuid.UUID, summary string) error {
	job := ports.NotaryJob{
		TransactionID: txID,
		Summary:       summary,
		EnqueuedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notary job: %w", err)
	}
	if err := q.client.LPush(ctx, notaryQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notary job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. Returns nil, nil when the
// queue stays empty for the whole wait.
func (q *NotaryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*ports.NotaryJob, error) {
	res, err := q.client.BRPop(ctx, timeout, notaryQueueKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue notary job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply length: %d", len(res))
	}

	job := &ports.NotaryJob{}
	if err := json.Unmarshal([]byte(res[1]), job); err != nil {
		return nil, fmt.Errorf("unmarshal notary job: %w", err)
	}
	return job, nil
}

// Depth reports the number of pending jobs.
func (q *NotaryQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, notaryQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("notary queue depth: %w", err)
	}
	return n, nil
}
