package telemetry

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// LogCore is a zapcore.Core that captures WARN+ entries into the pipeline's
// bounded log channel without affecting what the process actually writes
// to stdout/stderr: it's teed alongside the normal encoder core rather than
// replacing it, so capture failures never change process-visible logs.
type LogCore struct {
	pipeline *Pipeline
	fields   []zapcore.Field
}

// NewLogCore builds a capture-only Core gated at zapcore.WarnLevel.
func NewLogCore(pipeline *Pipeline) *LogCore {
	return &LogCore{pipeline: pipeline}
}

func (c *LogCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.WarnLevel
}

func (c *LogCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &LogCore{pipeline: c.pipeline, fields: merged}
}

func (c *LogCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *LogCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	ts := entry.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.pipeline.offerLog(CapturedLogEvent{
		Timestamp: ts,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Logger:    entry.LoggerName,
		Attrs:     enc.Fields,
	})
	return nil
}

func (c *LogCore) Sync() error {
	return nil
}
