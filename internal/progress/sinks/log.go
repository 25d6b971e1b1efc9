package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

// LogSink writes each event as a debug log line. Item outcomes other than
// ingested and skip-duplicate are logged at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("kind", string(evt.Kind)),
		}
		if evt.Trigger != "" {
			fields = append(fields, zap.String("trigger", evt.Trigger))
		}
		if evt.SourceURL != "" {
			fields = append(fields,
				zap.String("source_url", evt.SourceURL),
				zap.String("platform", string(evt.Platform)))
		}
		if evt.Stage != "" {
			fields = append(fields, zap.String("stage", string(evt.Stage)))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", string(evt.ErrorKind)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Kind == progress.KindItemDone && failed(evt) {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
