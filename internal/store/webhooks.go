package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrWebhookNotFound is returned when a webhook id has no matching row.
var ErrWebhookNotFound = errors.New("store: webhook not found")

// Webhook is a registered delivery target for a bot application.
type Webhook struct {
	ID            string
	ApplicationID string
	GuildID       string // empty if not guild-scoped
	URL           string
	SigningSecret string
	EventTypes    []string
	Active        bool
	CreatedAt     time.Time
}

// CreateWebhook persists a new webhook. The caller must have already
// validated the URL is not a blocked host (create-time SSRF check).
func (p *Pool) CreateWebhook(ctx context.Context, w Webhook) (Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := p.Exec(ctx, `
		INSERT INTO webhooks (id, application_id, guild_id, url, signing_secret, event_types, active)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, true)`,
		w.ID, w.ApplicationID, w.GuildID, w.URL, w.SigningSecret, w.EventTypes)
	w.Active = true
	return w, err
}

// GetWebhook fetches a webhook by id, including its signing secret — only
// the delivery worker should ever read the secret back out.
func (p *Pool) GetWebhook(ctx context.Context, id string) (Webhook, error) {
	var w Webhook
	var guildID *string
	row := p.QueryRow(ctx, `
		SELECT id, application_id, guild_id, url, signing_secret, event_types, active, created_at
		FROM webhooks WHERE id = $1`, id)
	err := row.Scan(&w.ID, &w.ApplicationID, &guildID, &w.URL, &w.SigningSecret, &w.EventTypes, &w.Active, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Webhook{}, ErrWebhookNotFound
	}
	if guildID != nil {
		w.GuildID = *guildID
	}
	return w, err
}

// FindGuildWebhooksForEvent returns active webhooks installed in a guild
// whose subscription list includes eventType.
func (p *Pool) FindGuildWebhooksForEvent(ctx context.Context, guildID, eventType string) ([]Webhook, error) {
	rows, err := p.Query(ctx, `
		SELECT id, application_id, guild_id, url, signing_secret, event_types, active, created_at
		FROM webhooks
		WHERE guild_id = $1 AND active AND $2 = ANY(event_types)`, guildID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

// CountWebhooksForApplication returns how many webhooks (active or not) an
// application has registered, used to enforce the per-application cap.
func (p *Pool) CountWebhooksForApplication(ctx context.Context, applicationID string) (int, error) {
	var n int
	row := p.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks WHERE application_id = $1`, applicationID)
	err := row.Scan(&n)
	return n, err
}

// FindAppWebhooksForEvent returns an application's active webhooks
// subscribed to eventType, independent of guild (used for command.invoked).
func (p *Pool) FindAppWebhooksForEvent(ctx context.Context, applicationID, eventType string) ([]Webhook, error) {
	rows, err := p.Query(ctx, `
		SELECT id, application_id, guild_id, url, signing_secret, event_types, active, created_at
		FROM webhooks
		WHERE application_id = $1 AND active AND $2 = ANY(event_types)`, applicationID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func scanWebhooks(rows pgx.Rows) ([]Webhook, error) {
	var out []Webhook
	for rows.Next() {
		var w Webhook
		var guildID *string
		if err := rows.Scan(&w.ID, &w.ApplicationID, &guildID, &w.URL, &w.SigningSecret, &w.EventTypes, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		if guildID != nil {
			w.GuildID = *guildID
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Delivery is a single webhook delivery attempt record, success or failure.
type Delivery struct {
	ID        string
	WebhookID string
	EventType string
	EventID   string
	Attempt   int
	Status    string // "delivered", "failed", "dead_letter"
	Error     string
	LatencyMS int64
	Payload   json.RawMessage // only populated for dead-letter rows
	CreatedAt time.Time
}

// RecordDelivery appends a delivery outcome. Dead-letter entries additionally
// carry the full payload so the event isn't lost after final failure.
func (p *Pool) RecordDelivery(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := p.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, event_id, attempt, status, error, latency_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.WebhookID, d.EventType, d.EventID, d.Attempt, d.Status, d.Error, d.LatencyMS, d.Payload)
	return err
}

// ListDeliveries returns the most recent delivery attempts for a webhook.
func (p *Pool) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.Query(ctx, `
		SELECT id, webhook_id, event_type, event_id, attempt, status, error, latency_ms, created_at
		FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.EventID, &d.Attempt, &d.Status, &d.Error, &d.LatencyMS, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BotGatewayIntents returns the declared intents for a bot installed in a
// guild, used to filter which events replicate to its bot:<id> topic.
func (p *Pool) BotGatewayIntents(ctx context.Context, botUserID, guildID string) ([]string, error) {
	var intents []string
	row := p.QueryRow(ctx, `
		SELECT intents FROM bot_gateway_intents WHERE bot_user_id = $1 AND guild_id = $2`, botUserID, guildID)
	err := row.Scan(&intents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return intents, err
}
