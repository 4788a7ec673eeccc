package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// LogEvent is one WARN+ log record captured by the telemetry ingest
// pipeline, ready for batch insert.
type LogEvent struct {
	Timestamp time.Time
	Level     string
	Message   string
	Logger    string
	Attrs     json.RawMessage
}

// TraceSpan is one completed span captured by the telemetry ingest
// pipeline.
type TraceSpan struct {
	Timestamp    time.Time
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	DurationMS   float64
	StatusCode   string
	Attrs        json.RawMessage
}

// MetricSample is one Prometheus gatherer sample captured by the telemetry
// ingest pipeline.
type MetricSample struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Labels    json.RawMessage
}

// InsertLogEvents batch-inserts captured log events in a single round trip.
func (p *Pool) InsertLogEvents(ctx context.Context, events []LogEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		attrs := e.Attrs
		if attrs == nil {
			attrs = json.RawMessage("{}")
		}
		batch.Queue(`
			INSERT INTO telemetry_log_events (ts, level, message, logger, attrs)
			VALUES ($1, $2, $3, $4, $5)`,
			e.Timestamp, e.Level, e.Message, e.Logger, attrs)
	}
	return p.execBatch(ctx, batch, len(events))
}

// InsertTraceSpans batch-inserts captured spans in a single round trip.
func (p *Pool) InsertTraceSpans(ctx context.Context, spans []TraceSpan) error {
	if len(spans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range spans {
		attrs := s.Attrs
		if attrs == nil {
			attrs = json.RawMessage("{}")
		}
		batch.Queue(`
			INSERT INTO telemetry_trace_index (ts, trace_id, span_id, parent_span_id, name, duration_ms, status_code, attrs)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.Timestamp, s.TraceID, s.SpanID, s.ParentSpanID, s.Name, s.DurationMS, s.StatusCode, attrs)
	}
	return p.execBatch(ctx, batch, len(spans))
}

// InsertMetricSamples batch-inserts captured metric samples in a single
// round trip.
func (p *Pool) InsertMetricSamples(ctx context.Context, samples []MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range samples {
		labels := s.Labels
		if labels == nil {
			labels = json.RawMessage("{}")
		}
		batch.Queue(`
			INSERT INTO telemetry_metric_samples (ts, name, value, labels)
			VALUES ($1, $2, $3, $4)`,
			s.Timestamp, s.Name, s.Value, labels)
	}
	return p.execBatch(ctx, batch, len(samples))
}

func (p *Pool) execBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := p.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: batch insert: %w", err)
		}
	}
	return nil
}

// RefreshTelemetryRollups refreshes the hourly trend rollup materialized
// view. Tried CONCURRENTLY first so readers never block on it; falls back
// to a plain refresh if the concurrent path errors (e.g. the view was
// truncated and needs repopulating).
func (p *Pool) RefreshTelemetryRollups(ctx context.Context) error {
	if _, err := p.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY telemetry_trend_rollups`); err != nil {
		_, fallbackErr := p.Exec(ctx, `REFRESH MATERIALIZED VIEW telemetry_trend_rollups`)
		if fallbackErr != nil {
			return fmt.Errorf("store: refresh telemetry rollups: %w (concurrent: %v)", fallbackErr, err)
		}
	}
	return nil
}

// PurgeOldLogEvents deletes log events older than retentionDays, in batches
// of at most batchSize rows, and returns the total number of rows removed.
func (p *Pool) PurgeOldLogEvents(ctx context.Context, retentionDays int, batchSize int64) (int64, error) {
	return p.purgeInBatches(ctx, `
		DELETE FROM telemetry_log_events
		WHERE ctid IN (
			SELECT ctid FROM telemetry_log_events
			WHERE ts < NOW() - make_interval(days => $1)
			LIMIT $2
		)`, retentionDays, batchSize)
}

// PurgeOldTraceIndex deletes trace index rows older than retentionDays, in
// batches of at most batchSize rows.
func (p *Pool) PurgeOldTraceIndex(ctx context.Context, retentionDays int, batchSize int64) (int64, error) {
	return p.purgeInBatches(ctx, `
		DELETE FROM telemetry_trace_index
		WHERE ctid IN (
			SELECT ctid FROM telemetry_trace_index
			WHERE ts < NOW() - make_interval(days => $1)
			LIMIT $2
		)`, retentionDays, batchSize)
}

// DropOldMetricSampleChunks asks TimescaleDB to drop whole chunks older
// than retentionDays in one call, which is far cheaper than a row-by-row
// DELETE when the extension is available. Returns an error (never panics)
// when the extension isn't installed; the caller falls back to
// PurgeOldMetricSamples in that case.
func (p *Pool) DropOldMetricSampleChunks(ctx context.Context, retentionDays int) error {
	_, err := p.Exec(ctx, `
		SELECT drop_chunks('telemetry_metric_samples', older_than => (NOW() - make_interval(days => $1)))`,
		retentionDays)
	return err
}

// PurgeOldMetricSamples deletes metric samples older than retentionDays, in
// batches of at most batchSize rows. Used as the fallback when
// DropOldMetricSampleChunks fails (no hypertable installed).
func (p *Pool) PurgeOldMetricSamples(ctx context.Context, retentionDays int, batchSize int64) (int64, error) {
	return p.purgeInBatches(ctx, `
		DELETE FROM telemetry_metric_samples
		WHERE ctid IN (
			SELECT ctid FROM telemetry_metric_samples
			WHERE ts < NOW() - make_interval(days => $1)
			LIMIT $2
		)`, retentionDays, batchSize)
}

// purgeInBatches repeatedly executes a bounded DELETE until a batch affects
// fewer than batchSize rows, accumulating the total removed. The query must
// take (retentionDays, batchSize) as $1/$2 and bound itself with a LIMIT.
func (p *Pool) purgeInBatches(ctx context.Context, query string, retentionDays int, batchSize int64) (int64, error) {
	var total int64
	for {
		tag, err := p.Exec(ctx, query, retentionDays, batchSize)
		if err != nil {
			return total, fmt.Errorf("store: purge batch: %w", err)
		}
		n := tag.RowsAffected()
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}
