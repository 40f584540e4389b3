package bus

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/socialmesh/edge/internal/observability"
)

// loggerAdapter bridges watermill's logging interface onto the shared
// structured logger.
type loggerAdapter struct {
	logger observability.Logger
}

func newLoggerAdapter(logger observability.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{logger: logger}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(toFields(fields), observability.Error(err))...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, toFields(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toFields(fields)...)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toFields(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger.With(toFields(fields)...)}
}

func toFields(fields watermill.LogFields) []observability.Field {
	out := make([]observability.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, observability.Any(k, v))
	}
	return out
}
