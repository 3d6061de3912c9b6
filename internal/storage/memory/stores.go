// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blogreach/blogreach/internal/bot"
)

// BotStore keeps bot definitions in a map.
type BotStore struct {
	mu     sync.RWMutex
	bots   map[int64]bot.Bot
	nextID int64

	accounts *AccountStore
	logs     *LogStore
}

// NewBotStore creates an empty bot store.
func NewBotStore() *BotStore {
	return &BotStore{bots: make(map[int64]bot.Bot), nextID: 1}
}

// Cascade wires dependent stores so Delete also removes the bot's accounts
// and log entries, matching the database schema's ON DELETE CASCADE.
func (s *BotStore) Cascade(accounts *AccountStore, logs *LogStore) *BotStore {
	s.accounts = accounts
	s.logs = logs
	return s
}

// GetByID returns a bot or bot.ErrNotFound.
func (s *BotStore) GetByID(_ context.Context, id int64) (bot.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return bot.Bot{}, bot.ErrNotFound
	}
	return b, nil
}

// GetAll returns every bot ordered by ID.
func (s *BotStore) GetAll(context.Context) ([]bot.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Add assigns an ID and stores the bot.
func (s *BotStore) Add(_ context.Context, b *bot.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextID
	s.nextID++
	s.bots[b.ID] = *b
	return nil
}

// Update overwrites the stored bot.
func (s *BotStore) Update(_ context.Context, b bot.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[b.ID]; !ok {
		return bot.ErrNotFound
	}
	s.bots[b.ID] = b
	return nil
}

// Delete removes the bot and, when cascade stores are wired, its accounts
// and log entries.
func (s *BotStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	if _, ok := s.bots[id]; !ok {
		s.mu.Unlock()
		return bot.ErrNotFound
	}
	delete(s.bots, id)
	s.mu.Unlock()

	if s.accounts != nil {
		s.accounts.deleteForBot(id)
	}
	if s.logs != nil {
		s.logs.deleteForBot(id)
	}
	return nil
}

// AccountStore keeps discovered accounts in insertion order.
type AccountStore struct {
	mu       sync.RWMutex
	accounts []bot.Account
	byName   map[string]struct{}
	nextID   int64
}

// NewAccountStore creates an empty account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{byName: make(map[string]struct{}), nextID: 1}
}

// Exists reports whether an account with the name was already collected.
func (s *AccountStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok, nil
}

// Add stores a newly discovered account.
func (s *AccountStore) Add(_ context.Context, a *bot.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID
	s.nextID++
	s.accounts = append(s.accounts, *a)
	s.byName[a.Name] = struct{}{}
	return nil
}

// ListUnsent returns the accounts for a bot that have not been messaged.
func (s *AccountStore) ListUnsent(_ context.Context, botID int64) ([]bot.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Account
	for _, a := range s.accounts {
		if a.BotID == botID && !a.MessageSent {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListForBot returns one page of a bot's accounts. Pages are 1-based.
func (s *AccountStore) ListForBot(_ context.Context, botID int64, page, pageSize int) ([]bot.Account, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []bot.Account
	for _, a := range s.accounts {
		if a.BotID == botID {
			all = append(all, a)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return append([]bot.Account(nil), all[start:end]...), nil
}

// MarkSent flags the account as messaged.
func (s *AccountStore) MarkSent(_ context.Context, a bot.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == a.ID {
			s.accounts[i].MessageSent = true
			return nil
		}
	}
	return bot.ErrNotFound
}

func (s *AccountStore) deleteForBot(botID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []bot.Account
	for _, a := range s.accounts {
		if a.BotID == botID {
			delete(s.byName, a.Name)
			continue
		}
		kept = append(kept, a)
	}
	s.accounts = kept
}

// CountForBot returns how many accounts the bot has collected.
func (s *AccountStore) CountForBot(_ context.Context, botID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.accounts {
		if a.BotID == botID {
			n++
		}
	}
	return n, nil
}

// LogStore keeps send-attempt log entries.
type LogStore struct {
	mu      sync.RWMutex
	entries []bot.LogEntry
	nextID  int64
}

// NewLogStore creates an empty log store.
func NewLogStore() *LogStore {
	return &LogStore{nextID: 1}
}

// Append records one entry.
func (s *LogStore) Append(_ context.Context, botID int64, message string, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, bot.LogEntry{
		ID:        s.nextID,
		BotID:     botID,
		Message:   message,
		Timestamp: at,
		Success:   success,
	})
	s.nextID++
	return nil
}

// ListForBot returns the bot's entries, newest first.
func (s *LogStore) ListForBot(_ context.Context, botID int64) ([]bot.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.LogEntry
	for _, e := range s.entries {
		if e.BotID == botID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// DeleteAll clears every entry.
func (s *LogStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

func (s *LogStore) deleteForBot(botID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []bot.LogEntry
	for _, e := range s.entries {
		if e.BotID != botID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}
