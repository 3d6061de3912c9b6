// Package manager orchestrates bot lifecycles: it owns status transitions
// and hands the crawl and messaging pipelines to the scheduler.
package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/bot"
	"github.com/blogreach/blogreach/internal/crawl"
	"github.com/blogreach/blogreach/internal/message"
	"github.com/blogreach/blogreach/internal/notify"
)

// Manager wires the lifecycle operations exposed by the API.
type Manager struct {
	baseCtx   context.Context
	bots      bot.BotStore
	accounts  bot.AccountStore
	logs      bot.LogStore
	sessions  crawl.Authenticator
	crawler   *crawl.Pipeline
	messenger *message.Pipeline
	scheduler bot.Scheduler
	notifier  notify.Notifier
	logger    *zap.Logger

	// phase serializes a bot's crawl and messaging runs against each other.
	phase *keyedMutex
}

// New assembles a manager. baseCtx bounds background work started here.
func New(
	baseCtx context.Context,
	bots bot.BotStore,
	accounts bot.AccountStore,
	logs bot.LogStore,
	sessions crawl.Authenticator,
	crawler *crawl.Pipeline,
	messenger *message.Pipeline,
	scheduler bot.Scheduler,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseCtx:   baseCtx,
		bots:      bots,
		accounts:  accounts,
		logs:      logs,
		sessions:  sessions,
		crawler:   crawler,
		messenger: messenger,
		scheduler: scheduler,
		notifier:  notifier,
		logger:    logger,
		phase:     newKeyedMutex(),
	}
}

func crawlJobName(botID int64) string {
	return fmt.Sprintf("bot-crawl-%d", botID)
}

// Add validates the credentials against the site and persists the bot in
// Idle state. The keyword is normalized for search before storage.
func (m *Manager) Add(ctx context.Context, b *bot.Bot) error {
	b.Keyword = bot.NormalizeKeyword(b.Keyword)
	if _, err := m.sessions.Authenticate(ctx, b.Username, b.Password); err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	b.Status = bot.StatusIdle
	if err := m.bots.Add(ctx, b); err != nil {
		return fmt.Errorf("store bot: %w", err)
	}
	m.logger.Info("bot added", zap.Int64("bot_id", b.ID), zap.String("username", b.Username))
	return nil
}

// Get loads one bot.
func (m *Manager) Get(ctx context.Context, id int64) (bot.Bot, error) {
	return m.bots.GetByID(ctx, id)
}

// List returns every bot.
func (m *Manager) List(ctx context.Context) ([]bot.Bot, error) {
	return m.bots.GetAll(ctx)
}

// Start begins a crawl run for the bot. Bots that are already running or
// finished are left untouched; only Idle, Paused, and Stopped bots start.
func (m *Manager) Start(ctx context.Context, id int64) error {
	b, err := m.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !b.Status.Startable() {
		m.logger.Info("start ignored",
			zap.Int64("bot_id", id), zap.String("status", string(b.Status)))
		return nil
	}

	b.Status = bot.StatusRunning
	if err := m.bots.Update(ctx, b); err != nil {
		return fmt.Errorf("mark bot running: %w", err)
	}
	m.notifier.Status(id, "Bot started")

	if err := m.scheduler.Enqueue(crawlJobName(id), func(taskCtx context.Context) {
		m.runCrawl(taskCtx, id)
	}); err != nil {
		return fmt.Errorf("schedule crawl: %w", err)
	}
	return nil
}

// runCrawl executes one crawl run under the bot's phase lock and settles
// the final status.
func (m *Manager) runCrawl(ctx context.Context, id int64) {
	m.phase.lock(id)
	defer m.phase.unlock(id)

	b, err := m.bots.GetByID(ctx, id)
	if err != nil {
		m.logger.Error("load bot for crawl", zap.Int64("bot_id", id), zap.Error(err))
		return
	}

	res, runErr := m.crawler.Run(ctx, b)
	m.logger.Info("crawl run finished",
		zap.Int64("bot_id", id), zap.Int("found", res.Found), zap.Int("pages", res.Pages), zap.Error(runErr))

	finalCtx := context.WithoutCancel(ctx)

	if bot.KindOf(runErr) == bot.FailureCancelled {
		// A stop or pause through the API already settled the status.
		current, err := m.bots.GetByID(finalCtx, id)
		if err == nil && (current.Status == bot.StatusStopped || current.Status == bot.StatusPaused) {
			return
		}
	}

	if bot.KindOf(runErr) == bot.FailureAuth {
		m.notifier.Status(id, fmt.Sprintf("Authentication failed for bot '%s'.", b.Username))
	}

	count, err := m.accounts.CountForBot(finalCtx, id)
	if err != nil {
		m.logger.Error("count accounts after crawl", zap.Int64("bot_id", id), zap.Error(err))
		return
	}

	current, err := m.bots.GetByID(finalCtx, id)
	if err != nil {
		m.logger.Error("load bot after crawl", zap.Int64("bot_id", id), zap.Error(err))
		return
	}

	if count >= current.MaxAccounts {
		current.Status = bot.StatusCompleted
		if err := m.bots.Update(finalCtx, current); err != nil {
			m.logger.Error("mark bot completed", zap.Int64("bot_id", id), zap.Error(err))
			return
		}
		m.scheduler.Remove(crawlJobName(id))
		m.notifier.Status(id, fmt.Sprintf("Bot completed. %d collected.", count))
		return
	}

	current.Status = bot.StatusError
	if err := m.bots.Update(finalCtx, current); err != nil {
		m.logger.Error("mark bot errored", zap.Int64("bot_id", id), zap.Error(err))
		return
	}
	m.notifier.Status(id, "Bot failed.")
}

// Stop halts the bot's scheduled crawl and active messaging run.
func (m *Manager) Stop(ctx context.Context, id int64) error {
	b, err := m.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}

	m.scheduler.Remove(crawlJobName(id))
	m.messenger.Stop(id)

	b.Status = bot.StatusStopped
	if err := m.bots.Update(ctx, b); err != nil {
		return fmt.Errorf("mark bot stopped: %w", err)
	}
	m.notifier.Status(id, "Bot stopped")
	return nil
}

// Pause suspends the bot; Start resumes it.
func (m *Manager) Pause(ctx context.Context, id int64) error {
	b, err := m.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}

	m.scheduler.Remove(crawlJobName(id))
	m.messenger.Stop(id)

	b.Status = bot.StatusPaused
	if err := m.bots.Update(ctx, b); err != nil {
		return fmt.Errorf("mark bot paused: %w", err)
	}
	m.notifier.Status(id, "Bot paused")
	return nil
}

// Delete removes the bot and all of its accounts and logs.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.scheduler.Remove(crawlJobName(id))
	m.messenger.Stop(id)

	if err := m.bots.Delete(ctx, id); err != nil {
		return err
	}
	m.notifier.Status(id, "Bot deleted")
	m.logger.Info("bot deleted", zap.Int64("bot_id", id))
	return nil
}

// StartMessaging launches the bot's messaging run. A bot with a run already
// registered is left alone; the call still succeeds so repeated clicks on
// the dashboard are harmless.
func (m *Manager) StartMessaging(ctx context.Context, id int64) error {
	if _, err := m.bots.GetByID(ctx, id); err != nil {
		return err
	}

	runCtx, ok := m.messenger.Begin(m.baseCtx, id)
	if !ok {
		m.logger.Info("messaging already running", zap.Int64("bot_id", id))
		return nil
	}

	if err := m.scheduler.Enqueue(fmt.Sprintf("bot-message-%d", id), func(context.Context) {
		m.phase.lock(id)
		defer m.phase.unlock(id)
		m.messenger.Run(runCtx, id)
	}); err != nil {
		m.messenger.Stop(id)
		return fmt.Errorf("schedule messaging: %w", err)
	}
	return nil
}

// StopMessaging cancels the bot's active messaging run, if any.
func (m *Manager) StopMessaging(id int64) {
	m.messenger.Stop(id)
}

// MessagingActive reports whether the bot has a messaging run registered.
func (m *Manager) MessagingActive(id int64) bool {
	return m.messenger.Active(id)
}
