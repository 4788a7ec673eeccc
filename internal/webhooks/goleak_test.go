package webhooks

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestWorkerRunStopsOnContextCancel guards against the Worker.Run loop
// outliving its caller: a blocking BRPOP that never observes ctx
// cancellation would leak one goroutine per worker for the life of the
// process.
func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	q := newTestQueue(t)
	w := NewWorker(nil, q, "https://example.com")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker.Run did not return after context cancellation")
	}
}
