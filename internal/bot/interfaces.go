package bot

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// BotStore persists bot definitions and their lifecycle state.
type BotStore interface {
	GetByID(ctx context.Context, id int64) (Bot, error)
	GetAll(ctx context.Context) ([]Bot, error)
	Add(ctx context.Context, b *Bot) error
	Update(ctx context.Context, b Bot) error
	// Delete removes a bot and cascades its log entries.
	Delete(ctx context.Context, id int64) error
}

// AccountStore persists discovered accounts.
type AccountStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Add(ctx context.Context, a *Account) error
	ListUnsent(ctx context.Context, botID int64) ([]Account, error)
	ListForBot(ctx context.Context, botID int64, page, pageSize int) ([]Account, error)
	MarkSent(ctx context.Context, a Account) error
	CountForBot(ctx context.Context, botID int64) (int, error)
}

// LogStore records send attempts.
type LogStore interface {
	Append(ctx context.Context, botID int64, message string, success bool, at time.Time) error
	// ListForBot returns entries ordered by recency, newest first.
	ListForBot(ctx context.Context, botID int64) ([]LogEntry, error)
	DeleteAll(ctx context.Context) error
}

// Scheduler runs units of work asynchronously. Enqueue is fire-and-forget:
// there is no durable record of scheduled work and a process crash loses it.
type Scheduler interface {
	Enqueue(name string, task func(context.Context)) error
	ScheduleRecurring(name string, every time.Duration, task func(context.Context)) error
	Remove(name string)
}

// SnapshotStore archives raw protocol responses and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
