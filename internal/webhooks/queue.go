package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "webhooks:delivery_queue"

// Queue is a Redis-list-backed work queue for pending deliveries. It is a
// plain FIFO rather than the call coordinator's stream: deliveries don't
// need replay semantics, just a handoff to a worker. BRPOP removes an item
// before it is delivered, so an item held by a worker that stops before
// delivering it is not redelivered.
type Queue struct {
	client *redis.Client
}

// NewQueue wraps a Redis client for webhook delivery queuing.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes a delivery item onto the queue.
func (q *Queue) Enqueue(ctx context.Context, item DeliveryItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, queueKey, raw).Err()
}

// Dequeue blocks up to timeout for the next delivery item. It returns
// (DeliveryItem{}, false, nil) on timeout with no error.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (DeliveryItem, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return DeliveryItem{}, false, nil
	}
	if err != nil {
		return DeliveryItem{}, false, err
	}
	// res[0] is the key name, res[1] is the payload.
	var item DeliveryItem
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return DeliveryItem{}, false, err
	}
	return item, true, nil
}

// Requeue pushes item back for a retry, typically with Attempt incremented.
func (q *Queue) Requeue(ctx context.Context, item DeliveryItem) error {
	return q.Enqueue(ctx, item)
}
