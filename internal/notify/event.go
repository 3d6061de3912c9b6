// Package notify defines the notification events the pipelines emit and the
// hub that fans them out to delivery sinks.
package notify

import (
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes lifecycle status updates from send-attempt log lines.
type Kind string

// Supported notification kinds.
const (
	KindStatus Kind = "status"
	KindLog    Kind = "log"
)

// Severity is the coarse display class of a notification.
type Severity string

// Supported severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Event is one notification destined for every registered sink.
type Event struct {
	// BotID scopes the notification to a bot.
	BotID int64
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind selects the delivery channel on sinks that distinguish them.
	Kind Kind
	// Severity classifies the message for display.
	Severity Severity
	// Message is the human-readable notification text.
	Message string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BotID <= 0 {
		return errors.New("bot id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStatus, KindLog:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	switch e.Severity {
	case SeverityInfo, SeveritySuccess, SeverityError:
	default:
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	return nil
}
