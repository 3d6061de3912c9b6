// Package bot defines core types shared across subsystems.
package bot

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a bot.
type Status string

// Bot status values persisted in the bot store.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusPaused, StatusStopped, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Startable reports whether a bot in this state may be (re-)started.
func (s Status) Startable() bool {
	switch s {
	case StatusIdle, StatusPaused, StatusStopped:
		return true
	default:
		return false
	}
}

// Bot is a configured automation worker with its own credentials, search
// keyword, and quotas.
type Bot struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"-"`
	Keyword     string `json:"keyword"`
	ThreadCount int    `json:"thread_count"`
	MaxAccounts int    `json:"max_accounts"`
	MaxMessages int    `json:"max_messages"`
	Status      Status `json:"status"`
}

// NormalizeKeyword collapses whitespace runs into the single separator the
// target site's search endpoint expects.
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(keyword), "+")
}

// Account is a discovered target identity eligible to receive an automated
// message.
type Account struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CollectedAt time.Time `json:"collected_at"`
	BotID       int64     `json:"bot_id"`
	MessageSent bool      `json:"message_sent"`
}

// LogEntry is an immutable record of one send attempt.
type LogEntry struct {
	ID        int64     `json:"id"`
	BotID     int64     `json:"bot_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}
