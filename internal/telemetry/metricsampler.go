package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// defaultSampleInterval matches the scrape cadence a typical Prometheus
// install uses against /metrics, so the captured rows are roughly as
// granular as what an external scraper would already see.
const defaultSampleInterval = 15 * time.Second

// MetricSampler periodically polls a Gatherer and pushes every sample into
// the pipeline's bounded metric channel. This is the Go-idiomatic stand-in
// for a push-based OTel metrics SDK: client_golang's pull model already
// backs /metrics, so sampling the same registry on a timer captures the
// identical series without adding a second metrics pipeline dependency.
type MetricSampler struct {
	pipeline *Pipeline
	gatherer prometheus.Gatherer
	interval time.Duration
}

// NewMetricSampler builds a sampler over gatherer (ordinarily
// prometheus.DefaultGatherer, the same registry /metrics serves from).
func NewMetricSampler(pipeline *Pipeline, gatherer prometheus.Gatherer) *MetricSampler {
	return &MetricSampler{pipeline: pipeline, gatherer: gatherer, interval: defaultSampleInterval}
}

// Run polls until ctx is canceled. Intended to be launched in its own
// goroutine before the database pool exists — like LogCore and
// SpanProcessor, it only ever writes into the pipeline's channels.
func (s *MetricSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *MetricSampler) sampleOnce() {
	families, err := s.gatherer.Gather()
	if err != nil {
		return
	}
	now := time.Now()
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			labels := make(map[string]any, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for _, v := range metricValues(mf.GetType(), m) {
				s.pipeline.offerMetric(CapturedMetricSample{
					Timestamp: now,
					Name:      name,
					Value:     v,
					Labels:    labels,
				})
			}
		}
	}
}

// metricValues flattens the handful of value shapes client_golang exposes
// into plain floats; histogram/summary quantiles aren't broken out
// individually, matching the coarse sample granularity spec'd for trend
// rollups rather than full distribution capture.
func metricValues(kind dto.MetricType, m *dto.Metric) []float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return []float64{m.GetCounter().GetValue()}
	case dto.MetricType_GAUGE:
		return []float64{m.GetGauge().GetValue()}
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return []float64{h.GetSampleSum(), float64(h.GetSampleCount())}
	case dto.MetricType_SUMMARY:
		sm := m.GetSummary()
		return []float64{sm.GetSampleSum(), float64(sm.GetSampleCount())}
	default:
		return nil
	}
}
