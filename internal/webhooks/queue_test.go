package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueue(client)
}

func TestQueueEnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	item := DeliveryItem{WebhookID: "wh-1", URL: "https://example.com/hook", EventType: EventMessageCreated, EventID: "evt-1"}
	require.NoError(t, q.Enqueue(ctx, item))

	got, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.WebhookID, got.WebhookID)
	require.Equal(t, item.EventID, got.EventID)
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := newTestQueue(t)
	_, ok, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, DeliveryItem{EventID: "first"}))
	require.NoError(t, q.Enqueue(ctx, DeliveryItem{EventID: "second"}))

	first, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", first.EventID)

	second, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", second.EventID)
}
