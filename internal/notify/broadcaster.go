package notify

import "github.com/blogreach/blogreach/internal/bot"

// Broadcaster adapts an Emitter to the Notifier surface the pipelines use.
type Broadcaster struct {
	emitter Emitter
	clock   bot.Clock
}

// NewBroadcaster wires a Notifier onto the given emitter.
func NewBroadcaster(emitter Emitter, clock bot.Clock) *Broadcaster {
	return &Broadcaster{emitter: emitter, clock: clock}
}

// Status reports a lifecycle transition.
func (b *Broadcaster) Status(botID int64, message string) {
	b.emitter.Emit(Event{
		BotID:    botID,
		TS:       b.clock.Now(),
		Kind:     KindStatus,
		Severity: SeverityInfo,
		Message:  message,
	})
}

// Log records a send attempt outcome.
func (b *Broadcaster) Log(botID int64, severity Severity, message string) {
	b.emitter.Emit(Event{
		BotID:    botID,
		TS:       b.clock.Now(),
		Kind:     KindLog,
		Severity: severity,
		Message:  message,
	})
}
