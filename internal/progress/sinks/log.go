package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Resource reads go to Debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.Int("scan_id", evt.ScanID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageResourceRead:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.String("status_class", evt.StatusClass),
			)
			s.logger.Debug("scan event", fields...)
			continue
		case progress.StageScanProgress:
			fields = append(fields, zap.Int("progress", evt.Progress))
		case progress.StageScanDone:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("scan event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
