package common

import (
	"context"

	log "github.com/sirupsen/logrus"
)

type loggerContextKey string

const loggerContextKeyVal = loggerContextKey("log.Ext1FieldLogger")

// Logger returns the logger for the current context, falling back to the
// logrus standard logger when none was attached.
func Logger(ctx context.Context) log.Ext1FieldLogger {
	if val := ctx.Value(loggerContextKeyVal); val != nil {
		if logger, ok := val.(log.Ext1FieldLogger); ok {
			return logger
		}
	}
	return log.StandardLogger()
}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger log.Ext1FieldLogger) context.Context {
	return context.WithValue(ctx, loggerContextKeyVal, logger)
}
