package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/notify"
)

// LogSink writes every notification to the structured log. It is the
// fallback delivery path that is always wired, so operators can audit bot
// activity even with no websocket client connected.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.logger.Info("notification",
			zap.Int64("bot_id", evt.BotID),
			zap.String("kind", string(evt.Kind)),
			zap.String("severity", string(evt.Severity)),
			zap.String("message", evt.Message),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
