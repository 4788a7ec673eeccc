package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// MaxAttempts is how many delivery attempts are made before an item is
// dead-lettered.
const MaxAttempts = 5

// backoff returns how long to wait before retrying the given attempt
// number (1-indexed), capped at 5 minutes.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// Worker drains the delivery queue and performs HTTP delivery with
// signature headers, SSRF re-validation, retry, and dead-lettering.
type Worker struct {
	db     *store.Pool
	queue  *Queue
	client *http.Client
	source string
}

// NewWorker builds a delivery worker. source populates the CloudEvents
// "source" field (typically the deployment's public base URL).
func NewWorker(db *store.Pool, queue *Queue, source string) *Worker {
	return &Worker{
		db:     db,
		queue:  queue,
		source: source,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run drains the queue until ctx is cancelled, delivering or retrying one
// item at a time per goroutine. Callers typically run several of these
// concurrently.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error(ctx, "webhooks: dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.deliver(ctx, item)
	}
}

func (w *Worker) deliver(ctx context.Context, item DeliveryItem) {
	item.Attempt++

	webhook, err := w.db.GetWebhook(ctx, item.WebhookID)
	if err != nil {
		logging.Warn(ctx, "webhooks: webhook vanished before delivery", zap.String("webhook_id", item.WebhookID))
		return
	}
	if !webhook.Active {
		return
	}

	start := time.Now()
	status, deliverErr := w.attempt(ctx, webhook.URL, webhook.SigningSecret, item)
	latency := time.Since(start)

	if deliverErr == nil {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		metrics.WebhookDeliveryDuration.WithLabelValues("delivered").Observe(latency.Seconds())
		w.record(ctx, item, "delivered", "", status, latency, nil)
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues("failed").Observe(latency.Seconds())

	if item.Attempt >= MaxAttempts {
		metrics.WebhookDeliveries.WithLabelValues("dead_letter").Inc()
		w.record(ctx, item, "dead_letter", deliverErr.Error(), status, latency, item.Payload)
		logging.Warn(ctx, "webhooks: dead-lettered delivery",
			zap.String("webhook_id", item.WebhookID), zap.String("event_id", item.EventID), zap.Error(deliverErr))
		return
	}

	w.record(ctx, item, "failed", deliverErr.Error(), status, latency, nil)
	go func(it DeliveryItem) {
		select {
		case <-time.After(backoff(it.Attempt)):
		case <-ctx.Done():
			return
		}
		if err := w.queue.Requeue(context.Background(), it); err != nil {
			logging.Error(ctx, "webhooks: requeue failed", zap.Error(err))
		}
	}(item)
}

// attempt performs one HTTP POST, re-validating the URL's resolved address
// immediately before dialing so a webhook that was valid at creation time
// but now resolves to a private address (DNS rebinding) is still rejected.
func (w *Worker) attempt(ctx context.Context, rawURL, secret string, item DeliveryItem) (int, error) {
	verified, err := VerifyResolvedIP(rawURL)
	if err != nil {
		return 0, fmt.Errorf("ssrf check failed: %w", err)
	}

	envelope := CloudEvent{
		SpecVersion: "1.0",
		Type:        string(item.EventType),
		Source:      w.source,
		ID:          item.EventID,
		Time:        time.Now(),
		Data:        item.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(secret, body))
	req.Header.Set("X-Webhook-Event", string(item.EventType))
	req.Header.Set("X-Webhook-ID", uuid.NewString())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))

	client := w.clientPinnedTo(verified)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// clientPinnedTo returns an http.Client whose transport dials exactly the
// address VerifyResolvedIP just validated, regardless of what the
// resolver returns when net/http dials the URL's hostname again —
// otherwise a second, uncontrolled resolution between validation and
// connect would reopen the DNS-rebinding window this is meant to close.
func (w *Worker) clientPinnedTo(v VerifiedURL) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, network, v.Addr)
		},
	}
	return &http.Client{Timeout: w.client.Timeout, Transport: transport}
}

func (w *Worker) record(ctx context.Context, item DeliveryItem, status, errMsg string, httpStatus int, latency time.Duration, payload []byte) {
	d := store.Delivery{
		WebhookID: item.WebhookID,
		EventType: string(item.EventType),
		EventID:   item.EventID,
		Attempt:   item.Attempt,
		Status:    status,
		Error:     errMsg,
		LatencyMS: latency.Milliseconds(),
		Payload:   payload,
	}
	if err := w.db.RecordDelivery(ctx, d); err != nil {
		logging.Error(ctx, "webhooks: failed to record delivery", zap.Error(err))
	}
	_ = httpStatus // not recorded: the delivery row has no status-code column
}
