package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/wolftown-io/canis-server/internal/store"
)

// Service manages webhook registration and dispatch entry points. Delivery
// itself happens asynchronously via Queue/Worker.
type Service struct {
	db    *store.Pool
	queue *Queue
}

// NewService builds a webhooks Service over the relational store and a
// delivery queue.
func NewService(db *store.Pool, queue *Queue) *Service {
	return &Service{db: db, queue: queue}
}

// Create registers a new webhook after the create-time SSRF host check and
// the per-application cap.
func (s *Service) Create(ctx context.Context, applicationID, rawURL string, events []EventType, guildID string) (store.Webhook, error) {
	count, err := s.db.CountWebhooksForApplication(ctx, applicationID)
	if err == nil && count >= MaxWebhooksPerApplication {
		return store.Webhook{}, ErrMaxWebhooks
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return store.Webhook{}, Validation("invalid webhook URL")
	}
	host := parsed.Hostname()
	if IsBlockedHost(host) {
		return store.Webhook{}, Validation("URL points to a private or reserved address")
	}

	secret, err := GenerateSigningSecret()
	if err != nil {
		return store.Webhook{}, fmt.Errorf("webhooks: generate secret: %w", err)
	}

	eventTypes := make([]string, len(events))
	for i, e := range events {
		eventTypes[i] = string(e)
	}

	w, err := s.db.CreateWebhook(ctx, store.Webhook{
		ApplicationID: applicationID,
		GuildID:       guildID,
		URL:           rawURL,
		SigningSecret: secret,
		EventTypes:    eventTypes,
	})
	if err != nil {
		return store.Webhook{}, fmt.Errorf("webhooks: create: %w", err)
	}
	return w, nil
}

// DispatchGuildEvent enqueues one delivery item per webhook installed in a
// guild that subscribes to eventType. It runs synchronously (one store query
// plus one queue push per webhook); the HTTP delivery happens later in a
// Worker.
func (s *Service) DispatchGuildEvent(ctx context.Context, guildID string, eventType EventType, payload any) {
	hooks, err := s.db.FindGuildWebhooksForEvent(ctx, guildID, string(eventType))
	if err != nil || len(hooks) == 0 {
		return
	}
	s.enqueueAll(ctx, hooks, eventType, payload)
}

// DispatchCommandEvent enqueues a command.invoked delivery to every webhook
// an application has registered for it, independent of guild.
func (s *Service) DispatchCommandEvent(ctx context.Context, applicationID string, payload any) {
	hooks, err := s.db.FindAppWebhooksForEvent(ctx, applicationID, string(EventCommandInvoked))
	if err != nil || len(hooks) == 0 {
		return
	}
	s.enqueueAll(ctx, hooks, EventCommandInvoked, payload)
}

func (s *Service) enqueueAll(ctx context.Context, hooks []store.Webhook, eventType EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	eventID := uuid.NewString()
	for _, h := range hooks {
		item := DeliveryItem{
			WebhookID: h.ID,
			URL:       h.URL,
			EventType: eventType,
			EventID:   eventID,
			Payload:   raw,
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			continue
		}
	}
}
