// Package message implements the outreach pipeline: rate-limited ask
// delivery to collected accounts with spam-cooldown protection.
package message

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/bot"
	"github.com/blogreach/blogreach/internal/crawl"
	"github.com/blogreach/blogreach/internal/notify"
	"github.com/blogreach/blogreach/internal/site"
)

// Config holds the messaging pipeline knobs.
type Config struct {
	// SendDelay is the wait between message sends.
	SendDelay time.Duration
	// Cooldown is how long the pipeline pauses after FailureLimit
	// failures.
	Cooldown time.Duration
	// FailureLimit is the failure count that triggers the cooldown. Only
	// the cooldown resets the counter; successes do not.
	FailureLimit int
	// Text is the message body; LinkURL marks the linked substring.
	Text    string
	LinkURL string
}

// Pipeline delivers the configured message to a bot's unsent accounts. At
// most one run per bot is active at a time, tracked through cancel handles
// registered in Begin.
type Pipeline struct {
	sessions crawl.Authenticator
	adapter  site.Adapter
	bots     bot.BotStore
	accounts bot.AccountStore
	logs     bot.LogStore
	notifier notify.Notifier
	clock    bot.Clock
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	active map[int64]registration
}

// registration pins a run's context so a stale run unwinding after Stop
// cannot release a newer run's slot.
type registration struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a messaging pipeline.
func New(
	sessions crawl.Authenticator,
	adapter site.Adapter,
	bots bot.BotStore,
	accounts bot.AccountStore,
	logs bot.LogStore,
	notifier notify.Notifier,
	clock bot.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions: sessions,
		adapter:  adapter,
		bots:     bots,
		accounts: accounts,
		logs:     logs,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		active:   make(map[int64]registration),
	}
}

// Begin registers a run for the bot and returns its context. The second
// return is false when a run is already active, in which case no new run may
// start. Registration is synchronous so racing callers cannot both win.
func (p *Pipeline) Begin(parent context.Context, botID int64) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.active[botID]; running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	p.active[botID] = registration{ctx: ctx, cancel: cancel}
	return ctx, true
}

// Active reports whether a run is registered for the bot.
func (p *Pipeline) Active(botID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, running := p.active[botID]
	return running
}

// Stop cancels the bot's active run and removes its registration right
// away, independent of whether the loop has observed the cancel yet. A new
// run may register immediately; the old loop winds down on its own. Safe to
// call when no run is active, so it also undoes a Begin whose run was never
// scheduled.
func (p *Pipeline) Stop(botID int64) {
	p.mu.Lock()
	reg, running := p.active[botID]
	delete(p.active, botID)
	p.mu.Unlock()
	if running {
		reg.cancel()
	}
}

// release drops the registration for a finished run, but only if the slot
// still belongs to that run's context.
func (p *Pipeline) release(botID int64, ctx context.Context) {
	p.mu.Lock()
	reg, running := p.active[botID]
	if running && reg.ctx == ctx {
		delete(p.active, botID)
	}
	p.mu.Unlock()
	if running && reg.ctx == ctx {
		reg.cancel()
	}
}

// Run sends the configured message to every unsent account of the bot. The
// ctx must come from Begin. Whatever ends the run — exhaustion, stop,
// status change — the bot is marked Completed and the registration removed.
func (p *Pipeline) Run(ctx context.Context, botID int64) {
	defer p.release(botID, ctx)

	// Final updates must survive a cancelled run context.
	finalCtx := context.WithoutCancel(ctx)
	defer p.complete(finalCtx, botID)

	b, err := p.bots.GetByID(ctx, botID)
	if err != nil {
		p.logger.Error("load bot for messaging", zap.Int64("bot_id", botID), zap.Error(err))
		return
	}

	pending, err := p.accounts.ListUnsent(ctx, botID)
	if err != nil {
		p.logger.Error("list unsent accounts", zap.Int64("bot_id", botID), zap.Error(err))
		return
	}

	msg := site.Message{Text: p.cfg.Text, LinkURL: p.cfg.LinkURL}
	failures := 0
	sent := 0

	for _, account := range pending {
		// Reload status so Stop/Pause through the API ends the run even if
		// the context cancel was missed.
		current, err := p.bots.GetByID(ctx, botID)
		if err == nil && (current.Status == bot.StatusStopped || current.Status == bot.StatusPaused) {
			p.logger.Info("bot status ended messaging run",
				zap.Int64("bot_id", botID), zap.String("status", string(current.Status)))
			return
		}

		if failures >= p.cfg.FailureLimit {
			p.notifier.Log(botID, notify.SeverityError, "[SPAM ALERT] Too many failures, cooling down.")
			p.logger.Warn("message failure limit hit, cooling down",
				zap.Int64("bot_id", botID), zap.Int("failures", failures), zap.Duration("cooldown", p.cfg.Cooldown))
			if !p.sleep(ctx, p.cfg.Cooldown) {
				return
			}
			failures = 0
		}

		if ctx.Err() != nil {
			return
		}

		if p.send(ctx, b, account, msg) {
			sent++
			if b.MaxMessages > 0 && sent >= b.MaxMessages {
				p.logger.Info("message quota met", zap.Int64("bot_id", botID), zap.Int("sent", sent))
				return
			}
		} else {
			failures++
		}

		if !p.sleep(ctx, p.cfg.SendDelay) {
			return
		}
	}
}

// send delivers one message and records the outcome. Returns true on
// success.
func (p *Pipeline) send(ctx context.Context, b bot.Bot, account bot.Account, msg site.Message) bool {
	sess, err := p.sessions.Authenticate(ctx, b.Username, b.Password)
	if err == nil {
		err = p.adapter.PostMessage(ctx, sess, account.Name, msg)
	}

	logCtx := context.WithoutCancel(ctx)
	if err != nil {
		text := fmt.Sprintf("[Error] Failed to send message to %s.", account.Name)
		p.notifier.Log(b.ID, notify.SeverityError, text)
		if logErr := p.logs.Append(logCtx, b.ID, text, false, p.clock.Now()); logErr != nil {
			p.logger.Error("append log entry", zap.Int64("bot_id", b.ID), zap.Error(logErr))
		}
		p.logger.Warn("message send failed",
			zap.Int64("bot_id", b.ID), zap.String("target", account.Name), zap.Error(err))
		return false
	}

	if err := p.accounts.MarkSent(logCtx, account); err != nil {
		p.logger.Error("mark account sent", zap.Int64("bot_id", b.ID), zap.Error(err))
	}
	text := fmt.Sprintf("[Success] Message sent to %s.", account.Name)
	p.notifier.Log(b.ID, notify.SeveritySuccess, text)
	if logErr := p.logs.Append(logCtx, b.ID, text, true, p.clock.Now()); logErr != nil {
		p.logger.Error("append log entry", zap.Int64("bot_id", b.ID), zap.Error(logErr))
	}
	return true
}

// complete marks the bot Completed regardless of how the run ended.
func (p *Pipeline) complete(ctx context.Context, botID int64) {
	b, err := p.bots.GetByID(ctx, botID)
	if err != nil {
		p.logger.Error("load bot for completion", zap.Int64("bot_id", botID), zap.Error(err))
		return
	}
	b.Status = bot.StatusCompleted
	if err := p.bots.Update(ctx, b); err != nil {
		p.logger.Error("mark bot completed", zap.Int64("bot_id", botID), zap.Error(err))
	}
}

// sleep waits for d or until the run is cancelled. Returns false when
// cancelled.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
