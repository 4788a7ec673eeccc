package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanProcessor captures completed spans into the pipeline's bounded span
// channel. It's registered alongside the OTLP batch exporter via
// sdktrace.WithSpanProcessor, so export to the collector and local capture
// for storage run independently of each other.
type SpanProcessor struct {
	pipeline *Pipeline
}

// NewSpanProcessor builds a capture-only span processor.
func NewSpanProcessor(pipeline *Pipeline) *SpanProcessor {
	return &SpanProcessor{pipeline: pipeline}
}

func (sp *SpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (sp *SpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := make(map[string]any, len(s.Attributes())+4)
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = attributeValue(kv)
	}
	// Event attributes fold into the same bag: the storage schema keeps one
	// attrs column per span rather than a separate events table, trading
	// per-event granularity for a much simpler query surface.
	for _, ev := range s.Events() {
		for _, kv := range ev.Attributes {
			attrs["event."+ev.Name+"."+string(kv.Key)] = attributeValue(kv)
		}
	}

	var parentSpanID string
	if parent := s.Parent(); parent.HasSpanID() {
		parentSpanID = parent.SpanID().String()
	}

	sp.pipeline.offerSpan(CapturedSpan{
		Timestamp:    s.EndTime(),
		TraceID:      s.SpanContext().TraceID().String(),
		SpanID:       s.SpanContext().SpanID().String(),
		ParentSpanID: parentSpanID,
		Name:         s.Name(),
		DurationMS:   float64(s.EndTime().Sub(s.StartTime()).Microseconds()) / 1000.0,
		StatusCode:   s.Status().Code.String(),
		Attrs:        attrs,
	})
}

func (sp *SpanProcessor) Shutdown(context.Context) error { return nil }

func (sp *SpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeValue(kv attribute.KeyValue) any {
	switch kv.Value.Type() {
	case attribute.BOOL:
		return kv.Value.AsBool()
	case attribute.INT64:
		return kv.Value.AsInt64()
	case attribute.FLOAT64:
		return kv.Value.AsFloat64()
	case attribute.BOOLSLICE, attribute.INT64SLICE, attribute.FLOAT64SLICE, attribute.STRINGSLICE:
		return kv.Value.AsInterface()
	default:
		return kv.Value.AsString()
	}
}
