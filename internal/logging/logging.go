// Package logging builds the process-wide zap logger.
package logging

import (
	"context"
	"os"
	"path/filepath"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

type Option func(*zap.Config)

// WithLogLevel sets the minimum level. Unknown names fall back to debug.
func WithLogLevel(level string) Option {
	return func(c *zap.Config) {
		ll := zapcore.DebugLevel
		_ = ll.Set(level)
		c.Level.SetLevel(ll)
	}
}

func WithLogFormat(format string) Option {
	return func(c *zap.Config) {
		switch format {
		case LogFormatConsole:
			c.Encoding = LogFormatConsole
			c.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		default:
			c.Encoding = LogFormatJSON
		}
	}
}

// WithOutputPaths replaces where log entries are written. Besides stdout
// and stderr, any file path is accepted.
func WithOutputPaths(paths []string) Option {
	return func(c *zap.Config) {
		p := make([]string, 0, len(paths))
		for _, path := range paths {
			if path == "" {
				continue
			}
			p = append(p, path)
		}
		if len(p) > 0 {
			c.OutputPaths = p
		}
	}
}

// Init creates a new zap logger and attaches it to the provided context.
func Init(ctx context.Context, opts ...Option) (context.Context, error) {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}

	for _, opt := range opts {
		opt(&zc)
	}

	for _, path := range zc.OutputPaths {
		if path == "stdout" || path == "stderr" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)

	l.Debug("logger created", zap.String("log_level", zc.Level.String()))

	return ctxzap.ToContext(ctx, l), nil
}

// FromContext returns the logger attached by Init, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return ctxzap.Extract(ctx)
}
