package notify

import "context"

// Sink consumes batches of notification events. Implementations must be safe
// for repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// pipelines stay agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}

// Notifier is the high-level surface the pipelines use.
type Notifier interface {
	// Status reports a lifecycle transition for the bot.
	Status(botID int64, message string)
	// Log records a send attempt outcome.
	Log(botID int64, severity Severity, message string)
}
