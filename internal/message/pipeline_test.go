package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blogreach/blogreach/internal/bot"
	"github.com/blogreach/blogreach/internal/notify"
	"github.com/blogreach/blogreach/internal/site"
	"github.com/blogreach/blogreach/internal/storage/memory"
)

type fakeClock struct{ at time.Time }

func (c fakeClock) Now() time.Time { return c.at }

type fakeAuth struct{}

func (fakeAuth) Authenticate(context.Context, string, string) (*site.Session, error) {
	return &site.Session{}, nil
}

type fakeSender struct {
	mu      sync.Mutex
	failFor map[string]error
	targets []string
}

func (f *fakeSender) PostMessage(_ context.Context, _ *site.Session, target string, _ site.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[target]; ok {
		return err
	}
	f.targets = append(f.targets, target)
	return nil
}

func (f *fakeSender) sentTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *fakeSender) FetchLoginPage(context.Context) (site.TokenSet, error) {
	return site.TokenSet{}, nil
}

func (f *fakeSender) ExchangeCredentials(context.Context, site.TokenSet, string, string) (string, error) {
	return "", nil
}

func (f *fakeSender) FetchProfile(context.Context, *site.Session) (*site.Profile, error) {
	return nil, nil
}

func (f *fakeSender) Search(context.Context, *site.Session, string, string) (site.SearchPage, error) {
	return site.SearchPage{}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	logs []string
}

func (n *recordingNotifier) Status(int64, string) {}

func (n *recordingNotifier) Log(_ int64, _ notify.Severity, message string) {
	n.mu.Lock()
	n.logs = append(n.logs, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) allLogs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.logs...)
}

type fixture struct {
	pipeline *Pipeline
	bots     *memory.BotStore
	accounts *memory.AccountStore
	logs     *memory.LogStore
	sender   *fakeSender
	notifier *recordingNotifier
	bot      bot.Bot
}

func newFixture(t *testing.T, cfg Config, accountNames ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	bots := memory.NewBotStore()
	b := &bot.Bot{Username: "alice", Password: "pw", Keyword: "cars", MaxMessages: 100, Status: bot.StatusRunning}
	require.NoError(t, bots.Add(ctx, b))

	accounts := memory.NewAccountStore()
	for _, name := range accountNames {
		require.NoError(t, accounts.Add(ctx, &bot.Account{Name: name, BotID: b.ID, CollectedAt: time.Now()}))
	}

	logs := memory.NewLogStore()
	sender := &fakeSender{failFor: map[string]error{}}
	notifier := &recordingNotifier{}

	if cfg.SendDelay == 0 {
		cfg.SendDelay = time.Millisecond
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 5 * time.Millisecond
	}
	if cfg.Text == "" {
		cfg.Text = "check out https://example.com"
		cfg.LinkURL = "https://example.com"
	}

	p := New(fakeAuth{}, sender, bots, accounts, logs, notifier,
		fakeClock{at: time.Unix(1000, 0).UTC()}, cfg, nil)
	return &fixture{pipeline: p, bots: bots, accounts: accounts, logs: logs, sender: sender, notifier: notifier, bot: *b}
}

func (f *fixture) botStatus(t *testing.T) bot.Status {
	t.Helper()
	b, err := f.bots.GetByID(context.Background(), f.bot.ID)
	require.NoError(t, err)
	return b.Status
}

func TestRunSendsToAllUnsentAndCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, "one", "two", "three")

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
	f.pipeline.Run(ctx, f.bot.ID)

	require.Equal(t, []string{"one", "two", "three"}, f.sender.sentTargets())
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))
	require.False(t, f.pipeline.Active(f.bot.ID))

	unsent, err := f.accounts.ListUnsent(context.Background(), f.bot.ID)
	require.NoError(t, err)
	require.Empty(t, unsent)

	entries, err := f.logs.ListForBot(context.Background(), f.bot.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.True(t, e.Success)
		require.Contains(t, e.Message, "[Success]")
	}
}

func TestBeginRejectsSecondRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, "one")

	_, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)

	_, ok = f.pipeline.Begin(context.Background(), f.bot.ID)
	require.False(t, ok, "second begin while a run is registered")

	f.pipeline.Stop(f.bot.ID)
	_, ok = f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
}

func TestStopImmediatelyFreesSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, "one")

	oldCtx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)

	f.pipeline.Stop(f.bot.ID)
	require.False(t, f.pipeline.Active(f.bot.ID),
		"handle must be gone right after Stop, before the run unwinds")

	// A new run registers while the old one is still winding down.
	_, ok = f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)

	// The old run's exit must not release the new run's slot.
	f.pipeline.Run(oldCtx, f.bot.ID)
	require.True(t, f.pipeline.Active(f.bot.ID))
}

func TestFailureCounterNotResetBySuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{FailureLimit: 3}, "a", "b", "c", "d", "e")
	f.sender.failFor["a"] = errors.New("send rejected")
	f.sender.failFor["c"] = errors.New("send rejected")
	f.sender.failFor["d"] = errors.New("send rejected")

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
	f.pipeline.Run(ctx, f.bot.ID)

	// The success for "b" does not clear the counter, so the third failure
	// still trips the cooldown before "e" is attempted.
	require.Contains(t, f.notifier.allLogs(), "[SPAM ALERT] Too many failures, cooling down.")
	require.Equal(t, []string{"b", "e"}, f.sender.sentTargets())
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))
}

func TestRunFailuresTriggerCooldownThenResume(t *testing.T) {
	t.Parallel()

	names := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		names = append(names, string(rune('a'+i)))
	}
	f := newFixture(t, Config{FailureLimit: 10}, names...)

	// First ten targets fail; the rest succeed after the cooldown.
	for i := 0; i < 10; i++ {
		f.sender.failFor[names[i]] = errors.New("send rejected")
	}

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
	f.pipeline.Run(ctx, f.bot.ID)

	require.Equal(t, []string{"k", "l"}, f.sender.sentTargets())
	require.Contains(t, f.notifier.allLogs(), "[SPAM ALERT] Too many failures, cooling down.")
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))

	entries, err := f.logs.ListForBot(context.Background(), f.bot.ID)
	require.NoError(t, err)
	require.Len(t, entries, 12)
}

func TestRunStopMidwayStillCompletesAndReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{SendDelay: 20 * time.Millisecond}, "one", "two", "three", "four")

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.pipeline.Run(ctx, f.bot.ID)
	}()

	require.Eventually(t, func() bool {
		return len(f.sender.sentTargets()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	f.pipeline.Stop(f.bot.ID)
	<-done

	require.Less(t, len(f.sender.sentTargets()), 4)
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))
	require.False(t, f.pipeline.Active(f.bot.ID))
}

func TestRunEndsWhenBotStatusStopped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, "one", "two")

	b, err := f.bots.GetByID(context.Background(), f.bot.ID)
	require.NoError(t, err)
	b.Status = bot.StatusStopped
	require.NoError(t, f.bots.Update(context.Background(), b))

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
	f.pipeline.Run(ctx, f.bot.ID)

	require.Empty(t, f.sender.sentTargets())
	// Even an immediate exit marks the bot completed and frees the slot.
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))
	require.False(t, f.pipeline.Active(f.bot.ID))
}

func TestRunHonorsMessageQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, "one", "two", "three")

	b, err := f.bots.GetByID(context.Background(), f.bot.ID)
	require.NoError(t, err)
	b.MaxMessages = 2
	require.NoError(t, f.bots.Update(context.Background(), b))

	ctx, ok := f.pipeline.Begin(context.Background(), f.bot.ID)
	require.True(t, ok)
	f.pipeline.Run(ctx, f.bot.ID)

	require.Equal(t, []string{"one", "two"}, f.sender.sentTargets())
	require.Equal(t, bot.StatusCompleted, f.botStatus(t))
}
