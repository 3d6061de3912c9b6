// Package crawl implements the account discovery pipeline: paginated
// keyword search with per-page rate limiting and deduplicated storage.
package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blogreach/blogreach/internal/bot"
	"github.com/blogreach/blogreach/internal/notify"
	"github.com/blogreach/blogreach/internal/site"
)

// Authenticator yields live sessions for bot credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*site.Session, error)
}

// Config holds the crawl pipeline knobs.
type Config struct {
	// PageDelay is the minimum wait between search page fetches.
	PageDelay time.Duration
}

// Result summarizes one crawl run. It is populated even when the run aborts
// early, so partial progress is preserved.
type Result struct {
	// Found counts accounts stored during this run.
	Found int
	// Pages counts search pages fetched.
	Pages int
	// Names lists the stored account names in discovery order.
	Names []string
}

// Pipeline discovers accounts matching a bot's keyword.
type Pipeline struct {
	sessions  Authenticator
	adapter   site.Adapter
	accounts  bot.AccountStore
	snapshots bot.SnapshotStore
	notifier  notify.Notifier
	clock     bot.Clock
	cfg       Config
	logger    *zap.Logger
}

// New assembles a crawl pipeline.
func New(
	sessions Authenticator,
	adapter site.Adapter,
	accounts bot.AccountStore,
	snapshots bot.SnapshotStore,
	notifier notify.Notifier,
	clock bot.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions:  sessions,
		adapter:   adapter,
		accounts:  accounts,
		snapshots: snapshots,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run crawls search pages until the bot's account quota is met or the result
// cursor is exhausted. A whole page is stored at once, so the final count
// may overshoot the quota by up to one page. Any search failure aborts the
// run, returning the partial result alongside the error.
func (p *Pipeline) Run(ctx context.Context, b bot.Bot) (Result, error) {
	var res Result

	if b.Status == bot.StatusCompleted {
		p.logger.Info("bot already completed, skipping crawl", zap.Int64("bot_id", b.ID))
		return res, nil
	}

	sess, err := p.sessions.Authenticate(ctx, b.Username, b.Password)
	if err != nil {
		return res, fmt.Errorf("authenticate %s: %w", b.Username, err)
	}

	limiter := rate.NewLimiter(rate.Every(p.cfg.PageDelay), 1)
	seen := make(map[string]struct{})
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return res, bot.NewFailure(bot.FailureCancelled, "crawl", err)
		}

		count, err := p.accounts.CountForBot(ctx, b.ID)
		if err != nil {
			return res, fmt.Errorf("count accounts: %w", err)
		}
		if count >= b.MaxAccounts {
			p.logger.Info("account quota met",
				zap.Int64("bot_id", b.ID), zap.Int("count", count), zap.Int("max", b.MaxAccounts))
			return res, nil
		}

		// First wait is satisfied by the limiter's initial token, so only
		// pages after the first are delayed.
		if err := limiter.Wait(ctx); err != nil {
			return res, bot.NewFailure(bot.FailureCancelled, "crawl", err)
		}

		page, err := p.adapter.Search(ctx, sess, b.Keyword, cursor)
		if err != nil {
			p.notifier.Status(b.ID, "Search failed. Please try again.")
			return res, fmt.Errorf("search page %d: %w", res.Pages, err)
		}
		res.Pages++
		p.archivePage(ctx, b.ID, res.Pages, page.Raw)

		stored, err := p.storePage(ctx, b, page, seen)
		if err != nil {
			return res, err
		}
		res.Found += len(stored)
		res.Names = append(res.Names, stored...)

		if len(stored) > 0 {
			p.notifier.Status(b.ID, fmt.Sprintf(
				"Bot '%s' collected %d/%d accounts so far...", b.Username, count+len(stored), b.MaxAccounts))
		}

		cursor = page.NextCursor
		if cursor == "" {
			p.logger.Info("search cursor exhausted",
				zap.Int64("bot_id", b.ID), zap.Int("pages", res.Pages), zap.Int("found", res.Found))
			return res, nil
		}
	}
}

// storePage persists the page's post authors, skipping duplicates within the
// run and names already collected by earlier runs.
func (p *Pipeline) storePage(ctx context.Context, b bot.Bot, page site.SearchPage, seen map[string]struct{}) ([]string, error) {
	var stored []string
	for _, item := range page.Items {
		if item.ObjectType != "post" || item.Name == "" {
			continue
		}
		if _, dup := seen[item.Name]; dup {
			continue
		}
		seen[item.Name] = struct{}{}

		exists, err := p.accounts.Exists(ctx, item.Name)
		if err != nil {
			return stored, fmt.Errorf("check account %s: %w", item.Name, err)
		}
		if exists {
			continue
		}

		account := bot.Account{Name: item.Name, CollectedAt: p.clock.Now(), BotID: b.ID}
		if err := p.accounts.Add(ctx, &account); err != nil {
			return stored, fmt.Errorf("store account %s: %w", item.Name, err)
		}
		stored = append(stored, item.Name)
	}
	return stored, nil
}

// archivePage uploads the raw response for later inspection. Failures are
// logged, never fatal.
func (p *Pipeline) archivePage(ctx context.Context, botID int64, pageNum int, raw []byte) {
	if p.snapshots == nil || len(raw) == 0 {
		return
	}
	path := fmt.Sprintf("snapshots/%d/%s/page-%d.json", botID, p.clock.Now().Format("2006-01-02"), pageNum)
	uri, err := p.snapshots.PutObject(ctx, path, "application/json", raw)
	if err != nil {
		p.logger.Warn("snapshot upload failed", zap.Int64("bot_id", botID), zap.Error(err))
		return
	}
	p.logger.Debug("snapshot stored", zap.Int64("bot_id", botID), zap.String("uri", uri))
}
