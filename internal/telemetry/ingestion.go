// Package telemetry owns two independent concerns that happen to share a
// name: ingestion.go/logcore.go/spanprocessor.go/metricsampler.go/
// retention.go implement telemetry ingest (capturing WARN+ logs, spans, and
// metric samples into bounded channels, then batch-writing them and pruning
// old rows); forwarder.go forwards durable audit log entries to an external
// sink, part of admin audit rather than ingest. They're kept in one package
// because both are "observability plumbing that the hot path must never
// block on," matching how the original groups them under one
// observability module.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// CapturedLogEvent is a WARN+ log record intercepted by LogCore before it's
// written to stdout.
type CapturedLogEvent struct {
	Timestamp time.Time
	Level     string
	Message   string
	Logger    string
	Attrs     map[string]any
}

// CapturedSpan is a completed span intercepted by SpanProcessor.OnEnd.
type CapturedSpan struct {
	Timestamp    time.Time
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	DurationMS   float64
	StatusCode   string
	Attrs        map[string]any
}

// CapturedMetricSample is one Prometheus gatherer sample taken by the
// metric sampler's periodic poll.
type CapturedMetricSample struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Labels    map[string]any
}

const (
	defaultChannelBuffer = 2048
	defaultFlushInterval = 5 * time.Second
	defaultFlushBatch    = 256
)

// Pipeline decouples log/span/metric capture from storage: the tracing
// subscriber and zap core are installed before the database pool exists, so
// capture writes into these bounded channels and background workers
// (started once the pool is available) drain them into Postgres. A channel
// that's full drops the event rather than blocking the caller — the hot
// path must never stall behind a telemetry write.
type Pipeline struct {
	logCh    chan CapturedLogEvent
	spanCh   chan CapturedSpan
	metricCh chan CapturedMetricSample

	wg sync.WaitGroup
}

// NewPipeline allocates the capture channels. Safe to construct before a
// database connection exists; nothing drains the channels until Start runs.
func NewPipeline() *Pipeline {
	return &Pipeline{
		logCh:    make(chan CapturedLogEvent, defaultChannelBuffer),
		spanCh:   make(chan CapturedSpan, defaultChannelBuffer),
		metricCh: make(chan CapturedMetricSample, defaultChannelBuffer),
	}
}

func (pl *Pipeline) offerLog(ev CapturedLogEvent) {
	select {
	case pl.logCh <- ev:
	default:
		metrics.TelemetryDropped.WithLabelValues("log").Inc()
	}
}

func (pl *Pipeline) offerSpan(s CapturedSpan) {
	select {
	case pl.spanCh <- s:
	default:
		metrics.TelemetryDropped.WithLabelValues("span").Inc()
	}
}

func (pl *Pipeline) offerMetric(m CapturedMetricSample) {
	select {
	case pl.metricCh <- m:
	default:
		metrics.TelemetryDropped.WithLabelValues("metric").Inc()
	}
}

// Start spawns the workers that drain the capture channels into db. Must
// only be called once the database pool exists; capture itself (LogCore,
// SpanProcessor, the metric sampler) can run beforehand since it only ever
// writes into the channels Start later drains.
func (pl *Pipeline) Start(ctx context.Context, db *store.Pool) {
	pl.wg.Add(3)
	go pl.drainLogs(ctx, db)
	go pl.drainSpans(ctx, db)
	go pl.drainMetrics(ctx, db)
}

// Wait blocks until every drain worker has returned, which happens once
// ctx is canceled and each worker flushes its final partial batch.
func (pl *Pipeline) Wait() {
	pl.wg.Wait()
}

func (pl *Pipeline) drainLogs(ctx context.Context, db *store.Pool) {
	defer pl.wg.Done()
	batch := make([]store.LogEvent, 0, defaultFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := db.InsertLogEvents(ctx, batch); err != nil {
			logging.Warn(ctx, "telemetry: failed to insert captured log events", zap.Error(err))
		} else {
			metrics.TelemetryIngested.WithLabelValues("log").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-pl.logCh:
			batch = append(batch, toLogEventRow(ev))
			if len(batch) >= defaultFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (pl *Pipeline) drainSpans(ctx context.Context, db *store.Pool) {
	defer pl.wg.Done()
	batch := make([]store.TraceSpan, 0, defaultFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := db.InsertTraceSpans(ctx, batch); err != nil {
			logging.Warn(ctx, "telemetry: failed to insert captured spans", zap.Error(err))
		} else {
			metrics.TelemetryIngested.WithLabelValues("span").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case s := <-pl.spanCh:
			batch = append(batch, toTraceSpanRow(s))
			if len(batch) >= defaultFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (pl *Pipeline) drainMetrics(ctx context.Context, db *store.Pool) {
	defer pl.wg.Done()
	batch := make([]store.MetricSample, 0, defaultFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := db.InsertMetricSamples(ctx, batch); err != nil {
			logging.Warn(ctx, "telemetry: failed to insert captured metric samples", zap.Error(err))
		} else {
			metrics.TelemetryIngested.WithLabelValues("metric").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case m := <-pl.metricCh:
			batch = append(batch, toMetricSampleRow(m))
			if len(batch) >= defaultFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toLogEventRow(ev CapturedLogEvent) store.LogEvent {
	return store.LogEvent{
		Timestamp: ev.Timestamp,
		Level:     ev.Level,
		Message:   ev.Message,
		Logger:    ev.Logger,
		Attrs:     marshalAttrs(ev.Attrs),
	}
}

func toTraceSpanRow(s CapturedSpan) store.TraceSpan {
	return store.TraceSpan{
		Timestamp:    s.Timestamp,
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Name:         s.Name,
		DurationMS:   s.DurationMS,
		StatusCode:   s.StatusCode,
		Attrs:        marshalAttrs(s.Attrs),
	}
}

func toMetricSampleRow(m CapturedMetricSample) store.MetricSample {
	return store.MetricSample{
		Timestamp: m.Timestamp,
		Name:      m.Name,
		Value:     m.Value,
		Labels:    marshalAttrs(m.Labels),
	}
}

// marshalAttrs applies the shared redaction list before a captured record
// is serialized for storage, matching the export-time redaction the
// original pipeline applies to both logs and spans.
func marshalAttrs(attrs map[string]any) json.RawMessage {
	redacted := logging.RedactAttrs(attrs)
	b, err := json.Marshal(redacted)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
