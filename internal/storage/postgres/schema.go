package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id           BIGSERIAL PRIMARY KEY,
		username     TEXT NOT NULL,
		password     TEXT NOT NULL,
		keyword      TEXT NOT NULL,
		thread_count INT  NOT NULL DEFAULT 1,
		max_accounts INT  NOT NULL DEFAULT 0,
		max_messages INT  NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'idle'
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL UNIQUE,
		collected_at TIMESTAMPTZ NOT NULL,
		bot_id       BIGINT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		message_sent BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS bot_logs (
		id        BIGSERIAL PRIMARY KEY,
		bot_id    BIGINT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		message   TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		success   BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_bot_id ON accounts (bot_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_logs_bot_id ON bot_logs (bot_id, timestamp DESC)`,
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
