package store

import "context"

// ddl holds the tables this package's queries depend on. Full schema
// ownership (users, guilds, channels, messages, roles) belongs to the
// boundary-glue CRUD layer and is out of scope here; these are only the
// tables the hard engineering cores touch directly.
const ddl = `
CREATE TABLE IF NOT EXISTS device_prekeys (
    device_id     TEXT        NOT NULL,
    key_id        BIGINT      NOT NULL,
    public_key    TEXT        NOT NULL,
    claimed       BOOLEAN     NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (device_id, key_id)
);

CREATE INDEX IF NOT EXISTS idx_device_prekeys_unclaimed
    ON device_prekeys (device_id) WHERE NOT claimed;

CREATE TABLE IF NOT EXISTS device_identity_keys (
    device_id       TEXT        PRIMARY KEY,
    identity_key    TEXT        NOT NULL,
    signed_prekey   TEXT        NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS key_backups (
    user_id     TEXT        PRIMARY KEY,
    salt        BYTEA       NOT NULL,
    nonce       BYTEA       NOT NULL,
    ciphertext  BYTEA       NOT NULL,
    version     BIGINT      NOT NULL DEFAULT 1,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS elevated_sessions (
    id           TEXT        PRIMARY KEY,
    user_id      TEXT        NOT NULL,
    elevated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at   TIMESTAMPTZ NOT NULL,
    reason       TEXT
);

CREATE INDEX IF NOT EXISTS idx_elevated_sessions_user
    ON elevated_sessions (user_id, expires_at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    id           TEXT        PRIMARY KEY,
    actor_id     TEXT        NOT NULL,
    action       TEXT        NOT NULL,
    target_type  TEXT        NOT NULL,
    target_id    TEXT        NOT NULL,
    details      JSONB       NOT NULL DEFAULT '{}',
    ip           TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log (actor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS webhooks (
    id             TEXT        PRIMARY KEY,
    application_id TEXT        NOT NULL,
    guild_id       TEXT,
    url            TEXT        NOT NULL,
    signing_secret TEXT        NOT NULL,
    event_types    TEXT[]      NOT NULL DEFAULT '{}',
    active         BOOLEAN     NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_webhooks_guild ON webhooks (guild_id) WHERE guild_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_webhooks_application ON webhooks (application_id);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id          TEXT        PRIMARY KEY,
    webhook_id  TEXT        NOT NULL,
    event_type  TEXT        NOT NULL,
    event_id    TEXT        NOT NULL,
    attempt     INT         NOT NULL,
    status      TEXT        NOT NULL,
    error       TEXT        NOT NULL DEFAULT '',
    latency_ms  BIGINT      NOT NULL DEFAULT 0,
    payload     JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook
    ON webhook_deliveries (webhook_id, created_at DESC);

CREATE TABLE IF NOT EXISTS bot_gateway_intents (
    bot_user_id  TEXT        NOT NULL,
    guild_id     TEXT        NOT NULL,
    intents      TEXT[]      NOT NULL DEFAULT '{}',
    PRIMARY KEY (bot_user_id, guild_id)
);

CREATE TABLE IF NOT EXISTS filter_configs (
    guild_id   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    enabled    BOOLEAN NOT NULL DEFAULT true,
    severity   TEXT NOT NULL DEFAULT 'medium',
    PRIMARY KEY (guild_id, kind)
);

CREATE TABLE IF NOT EXISTS filter_custom_patterns (
    id         TEXT PRIMARY KEY,
    guild_id   TEXT NOT NULL,
    pattern    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_filter_custom_patterns_guild
    ON filter_custom_patterns (guild_id);

CREATE TABLE IF NOT EXISTS system_admins (
    user_id    TEXT        PRIMARY KEY,
    granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    granted_by TEXT        NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS admin_mfa_secrets (
    user_id    TEXT        PRIMARY KEY,
    secret     TEXT        NOT NULL,
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS telemetry_log_events (
    id         BIGSERIAL   PRIMARY KEY,
    ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
    level      TEXT        NOT NULL,
    message    TEXT        NOT NULL,
    logger     TEXT        NOT NULL DEFAULT '',
    attrs      JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_telemetry_log_events_ts ON telemetry_log_events (ts DESC);

CREATE TABLE IF NOT EXISTS telemetry_trace_index (
    id           BIGSERIAL   PRIMARY KEY,
    ts           TIMESTAMPTZ NOT NULL DEFAULT now(),
    trace_id     TEXT        NOT NULL,
    span_id      TEXT        NOT NULL,
    parent_span_id TEXT      NOT NULL DEFAULT '',
    name         TEXT        NOT NULL,
    duration_ms  DOUBLE PRECISION NOT NULL,
    status_code  TEXT        NOT NULL DEFAULT '',
    attrs        JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_telemetry_trace_index_ts ON telemetry_trace_index (ts DESC);
CREATE INDEX IF NOT EXISTS idx_telemetry_trace_index_trace_id ON telemetry_trace_index (trace_id);

-- This is a plain table rather than a TimescaleDB hypertable: this
-- deployment doesn't carry a Timescale dependency, so chunk-dropping in the
-- retention worker is attempted opportunistically (best-effort, ignored if
-- the extension isn't installed) and the batched-delete path is what
-- actually runs in this deployment.
CREATE TABLE IF NOT EXISTS telemetry_metric_samples (
    id         BIGSERIAL   PRIMARY KEY,
    ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
    name       TEXT        NOT NULL,
    value      DOUBLE PRECISION NOT NULL,
    labels     JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_telemetry_metric_samples_ts ON telemetry_metric_samples (ts DESC);
CREATE INDEX IF NOT EXISTS idx_telemetry_metric_samples_name_ts ON telemetry_metric_samples (name, ts DESC);

CREATE MATERIALIZED VIEW IF NOT EXISTS telemetry_trend_rollups AS
SELECT
    name,
    date_trunc('hour', ts) AS bucket,
    avg(value)             AS avg_value,
    min(value)             AS min_value,
    max(value)             AS max_value,
    count(*)                AS sample_count
FROM telemetry_metric_samples
GROUP BY name, date_trunc('hour', ts)
WITH NO DATA;

-- REFRESH MATERIALIZED VIEW CONCURRENTLY requires a unique index; without
-- one the retention worker falls back to a non-concurrent refresh, which
-- briefly locks the view against readers.
CREATE UNIQUE INDEX IF NOT EXISTS idx_telemetry_trend_rollups_name_bucket
    ON telemetry_trend_rollups (name, bucket);
`

// EnsureSchema creates every table this package's queries depend on. It is
// idempotent and safe to call on every process start; it does not attempt
// to own migrations for the rest of the data model (users, guilds,
// channels, messages, roles), which is boundary-glue CRUD out of scope here.
func EnsureSchema(ctx context.Context, p *Pool) error {
	if _, err := p.Exec(ctx, ddl); err != nil {
		return err
	}

	// telemetry_trend_rollups is created WITH NO DATA; Postgres refuses
	// REFRESH ... CONCURRENTLY against a view that has never been
	// populated, so this one-time non-concurrent refresh seeds it.
	_, err := p.Exec(ctx, `REFRESH MATERIALIZED VIEW telemetry_trend_rollups`)
	return err
}
