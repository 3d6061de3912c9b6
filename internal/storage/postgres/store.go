// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blogreach/blogreach/internal/bot"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool and credential cipher. The typed views
// returned by Bots, Accounts, and Logs implement the persistence interfaces.
type Store struct {
	db     DB
	pool   *pgxpool.Pool
	cipher *credentialCipher
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, dsn, credentialSecret string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	cc, err := newCredentialCipher(credentialSecret)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: pool, pool: pool, cipher: cc}, nil
}

// NewStoreWithDB constructs a store from an existing connection, primarily
// for testing.
func NewStoreWithDB(db DB, credentialSecret string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	cc, err := newCredentialCipher(credentialSecret)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cipher: cc}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Bots returns the bot.BotStore view.
func (s *Store) Bots() *BotRepo { return &BotRepo{s: s} }

// Accounts returns the bot.AccountStore view.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// Logs returns the bot.LogStore view.
func (s *Store) Logs() *LogRepo { return &LogRepo{s: s} }

// BotRepo implements bot.BotStore. Passwords are encrypted before insert
// and decrypted on read.
type BotRepo struct {
	s *Store
}

// GetByID loads one bot or returns bot.ErrNotFound.
func (r *BotRepo) GetByID(ctx context.Context, id int64) (bot.Bot, error) {
	query := `
		SELECT id, username, password, keyword, thread_count, max_accounts, max_messages, status
		FROM bots WHERE id = $1`
	b, err := r.scanBot(r.s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return bot.Bot{}, bot.ErrNotFound
	}
	if err != nil {
		return bot.Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// GetAll returns every bot ordered by ID.
func (r *BotRepo) GetAll(ctx context.Context) ([]bot.Bot, error) {
	query := `
		SELECT id, username, password, keyword, thread_count, max_accounts, max_messages, status
		FROM bots ORDER BY id`
	rows, err := r.s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var out []bot.Bot
	for rows.Next() {
		b, err := r.scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("list bots: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return out, nil
}

// Add inserts the bot and fills in its assigned ID.
func (r *BotRepo) Add(ctx context.Context, b *bot.Bot) error {
	encrypted, err := r.s.cipher.encrypt(b.Password)
	if err != nil {
		return fmt.Errorf("add bot: %w", err)
	}
	query := `
		INSERT INTO bots (username, password, keyword, thread_count, max_accounts, max_messages, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err = r.s.db.QueryRow(ctx, query,
		b.Username, encrypted, b.Keyword, b.ThreadCount, b.MaxAccounts, b.MaxMessages, b.Status,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("add bot: %w", err)
	}
	return nil
}

// Update overwrites the stored bot, re-encrypting the password.
func (r *BotRepo) Update(ctx context.Context, b bot.Bot) error {
	encrypted, err := r.s.cipher.encrypt(b.Password)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	query := `
		UPDATE bots
		SET username = $1, password = $2, keyword = $3, thread_count = $4,
		    max_accounts = $5, max_messages = $6, status = $7
		WHERE id = $8`
	tag, err := r.s.db.Exec(ctx, query,
		b.Username, encrypted, b.Keyword, b.ThreadCount, b.MaxAccounts, b.MaxMessages, b.Status, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bot.ErrNotFound
	}
	return nil
}

// Delete removes the bot; accounts and logs cascade.
func (r *BotRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.s.db.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bot.ErrNotFound
	}
	return nil
}

func (r *BotRepo) scanBot(row pgx.Row) (bot.Bot, error) {
	var b bot.Bot
	var encrypted string
	err := row.Scan(&b.ID, &b.Username, &encrypted, &b.Keyword, &b.ThreadCount, &b.MaxAccounts, &b.MaxMessages, &b.Status)
	if err != nil {
		return bot.Bot{}, err
	}
	b.Password, err = r.s.cipher.decrypt(encrypted)
	if err != nil {
		return bot.Bot{}, err
	}
	return b, nil
}

// AccountRepo implements bot.AccountStore.
type AccountRepo struct {
	s *Store
}

// Exists reports whether an account with the name was already collected.
func (r *AccountRepo) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

// Add inserts a newly discovered account.
func (r *AccountRepo) Add(ctx context.Context, a *bot.Account) error {
	query := `
		INSERT INTO accounts (name, collected_at, bot_id, message_sent)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.s.db.QueryRow(ctx, query, a.Name, a.CollectedAt, a.BotID, a.MessageSent).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	return nil
}

// ListUnsent returns the accounts for a bot that have not been messaged.
func (r *AccountRepo) ListUnsent(ctx context.Context, botID int64) ([]bot.Account, error) {
	query := `
		SELECT id, name, collected_at, bot_id, message_sent
		FROM accounts WHERE bot_id = $1 AND message_sent = FALSE
		ORDER BY id`
	return r.queryAccounts(ctx, query, botID)
}

// ListForBot returns one page of a bot's accounts. Pages are 1-based.
func (r *AccountRepo) ListForBot(ctx context.Context, botID int64, page, pageSize int) ([]bot.Account, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	query := `
		SELECT id, name, collected_at, bot_id, message_sent
		FROM accounts WHERE bot_id = $1
		ORDER BY id LIMIT $2 OFFSET $3`
	return r.queryAccounts(ctx, query, botID, pageSize, (page-1)*pageSize)
}

// MarkSent flags the account as messaged.
func (r *AccountRepo) MarkSent(ctx context.Context, a bot.Account) error {
	tag, err := r.s.db.Exec(ctx, `UPDATE accounts SET message_sent = TRUE WHERE id = $1`, a.ID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bot.ErrNotFound
	}
	return nil
}

// CountForBot returns how many accounts the bot has collected.
func (r *AccountRepo) CountForBot(ctx context.Context, botID int64) (int, error) {
	var n int
	err := r.s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE bot_id = $1`, botID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (r *AccountRepo) queryAccounts(ctx context.Context, query string, args ...any) ([]bot.Account, error) {
	rows, err := r.s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []bot.Account
	for rows.Next() {
		var a bot.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CollectedAt, &a.BotID, &a.MessageSent); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// LogRepo implements bot.LogStore.
type LogRepo struct {
	s *Store
}

// Append records one send-attempt log entry.
func (r *LogRepo) Append(ctx context.Context, botID int64, message string, success bool, at time.Time) error {
	query := `INSERT INTO bot_logs (bot_id, message, timestamp, success) VALUES ($1, $2, $3, $4)`
	if _, err := r.s.db.Exec(ctx, query, botID, message, at, success); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListForBot returns the bot's log entries, newest first.
func (r *LogRepo) ListForBot(ctx context.Context, botID int64) ([]bot.LogEntry, error) {
	query := `
		SELECT id, bot_id, message, timestamp, success
		FROM bot_logs WHERE bot_id = $1
		ORDER BY timestamp DESC, id DESC`
	rows, err := r.s.db.Query(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []bot.LogEntry
	for rows.Next() {
		var e bot.LogEntry
		if err := rows.Scan(&e.ID, &e.BotID, &e.Message, &e.Timestamp, &e.Success); err != nil {
			return nil, fmt.Errorf("list logs: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

// DeleteAll clears every log entry.
func (r *LogRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.s.db.Exec(ctx, `DELETE FROM bot_logs`); err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	return nil
}
