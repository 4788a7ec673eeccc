package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// RetentionDays is how long telemetry rows live before the retention
// worker purges them.
const RetentionDays = 30

// RetentionDeleteBatchSize bounds a single purge DELETE so it never holds
// a lock over the whole table at once.
const RetentionDeleteBatchSize int64 = 10_000

const retentionInterval = time.Hour

// SpawnRetentionWorker starts the hourly retention cycle in its own
// goroutine and returns immediately. Unlike a push-based interval that
// fires on creation, time.NewTicker's first tick lands a full
// retentionInterval later, so no cycle runs during process startup.
func SpawnRetentionWorker(ctx context.Context, db *store.Pool) {
	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runRetentionCycle(ctx, db)
			}
		}
	}()
}

// runRetentionCycle refreshes the trend rollup view first so it reflects
// data about to be purged, then deletes rows older than RetentionDays from
// every telemetry table. Metric samples try a hypertable chunk-drop first
// since it's far cheaper than row-by-row deletion; everything else, and
// the chunk-drop fallback, goes through purgeInBatches. Results are logged
// at Info, a level LogCore never captures, so a healthy cycle can't
// feed its own row back into telemetry_log_events.
func runRetentionCycle(ctx context.Context, db *store.Pool) {
	start := time.Now()

	if err := db.RefreshTelemetryRollups(ctx); err != nil {
		logging.Warn(ctx, "telemetry retention: rollup refresh failed", zap.Error(err))
	}

	metricsPurged, err := purgeMetricSamples(ctx, db)
	if err != nil {
		logging.Warn(ctx, "telemetry retention: metric purge failed", zap.Error(err))
	}

	logsPurged, err := db.PurgeOldLogEvents(ctx, RetentionDays, RetentionDeleteBatchSize)
	if err != nil {
		logging.Warn(ctx, "telemetry retention: log purge failed", zap.Error(err))
	}

	tracesPurged, err := db.PurgeOldTraceIndex(ctx, RetentionDays, RetentionDeleteBatchSize)
	if err != nil {
		logging.Warn(ctx, "telemetry retention: trace purge failed", zap.Error(err))
	}

	metrics.TelemetryRetentionPurged.WithLabelValues("metric_samples").Add(float64(metricsPurged))
	metrics.TelemetryRetentionPurged.WithLabelValues("log_events").Add(float64(logsPurged))
	metrics.TelemetryRetentionPurged.WithLabelValues("trace_index").Add(float64(tracesPurged))

	logging.Info(ctx, "telemetry retention cycle complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("metric_samples_purged", metricsPurged),
		zap.Int64("log_events_purged", logsPurged),
		zap.Int64("trace_index_purged", tracesPurged))
}

// purgeMetricSamples tries a TimescaleDB chunk-drop first; if the
// extension isn't installed (the common case for this deployment, which
// doesn't carry a Timescale dependency) it falls back to the batched
// DELETE path and reports however many rows that removed instead.
func purgeMetricSamples(ctx context.Context, db *store.Pool) (int64, error) {
	if err := db.DropOldMetricSampleChunks(ctx, RetentionDays); err == nil {
		return 0, nil
	}
	return db.PurgeOldMetricSamples(ctx, RetentionDays, RetentionDeleteBatchSize)
}
