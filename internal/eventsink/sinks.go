package eventsink

import (
	"go.uber.org/zap"
)

// LogSink returns a Sink that writes every record as a structured zap
// log line, matching the teacher's convention of logging domain events
// at Info level with the event's fields attached.
func LogSink(logger *zap.Logger) Sink {
	named := logger.Named("events")
	return func(rec Record) {
		fields := make([]zap.Field, 0, len(rec.Fields)+4)
		fields = append(fields,
			zap.Int64("sequence", rec.Sequence),
			zap.Int("schemaVersion", rec.SchemaVersion),
			zap.Time("timestamp", rec.Timestamp),
		)
		if rec.Symbol != "" {
			fields = append(fields, zap.String("symbol", rec.Symbol))
		}
		if rec.Ticket != "" {
			fields = append(fields, zap.String("ticket", rec.Ticket))
		}
		for k, v := range rec.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		named.Info(string(rec.Kind), fields...)
	}
}

// MetricsRecorder is the narrow surface eventsink needs from the
// metrics registry, so this package doesn't import prometheus directly.
type MetricsRecorder interface {
	IncEvent(kind string)
}

// MetricsSink returns a Sink that increments a counter per event kind.
func MetricsSink(recorder MetricsRecorder) Sink {
	return func(rec Record) {
		recorder.IncEvent(string(rec.Kind))
	}
}
