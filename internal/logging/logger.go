// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	UserIDKey        contextKey = "user_id"
	RoomIDKey        contextKey = "room_id"
	GuildIDKey       contextKey = "guild_id"
)

// sensitiveKeys is the redaction list from the telemetry ingest design:
// attributes matching one of these (case-insensitive substring) are
// dropped before a log record leaves the process.
var sensitiveKeys = []string{
	"password", "token", "key", "secret", "credential",
	"authorization", "content", "body", "email", "ip",
}

// Initialize sets up the global logger based on the environment. extra
// cores are teed alongside the normal encoder core via zapcore.NewTee,
// receiving every entry the encoder core does without altering what's
// written to stdout/stderr — this is how the telemetry ingest pipeline's
// WARN+ capture core attaches without this package importing it.
func Initialize(development bool, extra ...zapcore.Core) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		if len(extra) == 0 {
			logger, err = config.Build(zap.AddCallerSkip(1))
			return
		}

		base, buildErr := config.Build()
		if buildErr != nil {
			err = buildErr
			return
		}
		cores := append([]zapcore.Core{base.Core()}, extra...)
		logger = zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if uid, ok := ctx.Value(UserIDKey).(string); ok {
		fields = append(fields, zap.String("user_id", uid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	if gid, ok := ctx.Value(GuildIDKey).(string); ok {
		fields = append(fields, zap.String("guild_id", gid))
	}

	fields = append(fields, zap.String("service", "canis-server"))

	return fields
}

// RedactEmail masks the local part of an email address.
func RedactEmail(email string) string {
	if len(email) == 0 {
		return ""
	}
	atIndex := strings.IndexByte(email, '@')
	if atIndex > 0 {
		return "***" + email[atIndex:]
	}
	return "***"
}

// IsSensitiveKey reports whether a telemetry attribute key must be redacted
// before export, per the case-insensitive substring list.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAttrs drops any map entries whose key matches IsSensitiveKey,
// returning a new map. Used by the telemetry ingest pipeline before a log
// record, span, or metric sample is persisted or exported.
func RedactAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if IsSensitiveKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}
