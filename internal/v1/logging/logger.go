// Package logging owns the process-global structured logger. Handlers and
// pumps log through the context-aware helpers so correlation ids, peer ids,
// and room ids travel with every line.
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
	PeerIDKey        contextKey = "peer_id"
	RoomIDKey        contextKey = "room_id"
)

const serviceName = "atelier-broker"

// Initialize builds the global logger once. Level is one of
// debug|info|warn|error; development switches to the console encoder.
func Initialize(level string, development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		var lvl zapcore.Level
		if lerr := lvl.UnmarshalText([]byte(level)); lerr == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}

		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// Get returns the global logger, falling back to a development logger when
// Initialize has not run (tests, early startup).
func Get() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithCorrelationID stores a correlation id for downstream log lines.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithPeerID stores the acting peer id for downstream log lines.
func WithPeerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PeerIDKey, id)
}

// WithRoomID stores the subject room id for downstream log lines.
func WithRoomID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RoomIDKey, id)
}

// Debug logs at DebugLevel with context fields attached.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Get().Debug(msg, appendContextFields(ctx, fields)...)
}

// Info logs at InfoLevel with context fields attached.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Get().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs at WarnLevel with context fields attached.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Get().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs at ErrorLevel with context fields attached.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Get().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs at FatalLevel with context fields attached, then exits.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Get().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx != nil {
		if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
			fields = append(fields, zap.String("correlation_id", cid))
		}
		if pid, ok := ctx.Value(PeerIDKey).(string); ok {
			fields = append(fields, zap.String("peer_id", pid))
		}
		if rid, ok := ctx.Value(RoomIDKey).(string); ok {
			fields = append(fields, zap.String("room_id", rid))
		}
	}
	return append(fields, zap.String("service", serviceName))
}

// RedactEmail masks the local part of an address so user emails never land
// in logs verbatim.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return "***" + email[at:]
}
