// Package logging builds the zap logger shared by chanrelay processes and
// emits the structured component events every package logs with.
package logging

import (
	"go.uber.org/zap"
)

// Options selects the logger encoding and level.
type Options struct {
	Level    string // debug | info | warn | error
	Format   string // json | console
	Service  string
	Instance string
}

// New builds a production (json) or development (console) logger.
// An unparseable level falls back to info.
func New(opts Options) (*zap.Logger, error) {
	var zapConfig zap.Config

	if opts.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	zapConfig.InitialFields = map[string]interface{}{
		"service":  opts.Service,
		"instance": opts.Instance,
	}

	return zapConfig.Build()
}

// Event logs one structured event at info level with the component and
// event_type fields every chanrelay log line carries.
func Event(logger *zap.Logger, component, eventType string, fields ...zap.Field) {
	logger.Info(eventType, withEvent(component, eventType, fields)...)
}

// Warn is Event at warn level.
func Warn(logger *zap.Logger, component, eventType string, fields ...zap.Field) {
	logger.Warn(eventType, withEvent(component, eventType, fields)...)
}

// Error is Event at error level.
func Error(logger *zap.Logger, component, eventType string, err error, fields ...zap.Field) {
	logger.Error(eventType, withEvent(component, eventType, append(fields, zap.Error(err)))...)
}

func withEvent(component, eventType string, fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	out = append(out, zap.String("component", component), zap.String("event_type", eventType))
	return append(out, fields...)
}
