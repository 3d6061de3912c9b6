package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blogreach/blogreach/internal/bot"
)

func TestBotStoreCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBotStore()

	b := &bot.Bot{Username: "alice", Keyword: "cars", MaxAccounts: 5, Status: bot.StatusIdle}
	require.NoError(t, s.Add(ctx, b))
	require.Equal(t, int64(1), b.ID)

	got, err := s.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	got.Status = bot.StatusRunning
	require.NoError(t, s.Update(ctx, got))

	got, err = s.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, bot.StatusRunning, got.Status)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, b.ID))
	_, err = s.GetByID(ctx, b.ID)
	require.ErrorIs(t, err, bot.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, got), bot.ErrNotFound)
}

func TestBotStoreDeleteCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := NewAccountStore()
	logs := NewLogStore()
	bots := NewBotStore().Cascade(accounts, logs)

	b := &bot.Bot{Username: "alice", Keyword: "cars", MaxAccounts: 5, Status: bot.StatusIdle}
	require.NoError(t, bots.Add(ctx, b))
	other := &bot.Bot{Username: "bob", Keyword: "trains", MaxAccounts: 5, Status: bot.StatusIdle}
	require.NoError(t, bots.Add(ctx, other))

	now := time.Now().UTC()
	require.NoError(t, accounts.Add(ctx, &bot.Account{Name: "blog-one", BotID: b.ID, CollectedAt: now}))
	require.NoError(t, accounts.Add(ctx, &bot.Account{Name: "blog-two", BotID: other.ID, CollectedAt: now}))
	require.NoError(t, logs.Append(ctx, b.ID, "sent", true, now))
	require.NoError(t, logs.Append(ctx, other.ID, "sent", true, now))

	require.NoError(t, bots.Delete(ctx, b.ID))

	count, err := accounts.CountForBot(ctx, b.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	exists, err := accounts.Exists(ctx, "blog-one")
	require.NoError(t, err)
	require.False(t, exists, "the deleted bot's account can be collected again")

	entries, err := logs.ListForBot(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, entries)

	// The other bot's data is untouched.
	count, err = accounts.CountForBot(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	entries, err = logs.ListForBot(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAccountStoreDedupeAndSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewAccountStore()
	now := time.Now().UTC()

	a := &bot.Account{Name: "blog-one", BotID: 1, CollectedAt: now}
	require.NoError(t, s.Add(ctx, a))

	exists, err := s.Exists(ctx, "blog-one")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.Exists(ctx, "blog-two")
	require.NoError(t, err)
	require.False(t, exists)

	unsent, err := s.ListUnsent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, unsent, 1)

	require.NoError(t, s.MarkSent(ctx, unsent[0]))
	unsent, err = s.ListUnsent(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, unsent)

	count, err := s.CountForBot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAccountStorePagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewAccountStore()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(ctx, &bot.Account{Name: string(rune('a' + i)), BotID: 2, CollectedAt: now}))
	}

	page1, err := s.ListForBot(ctx, 2, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page3, err := s.ListForBot(ctx, 2, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)

	page4, err := s.ListForBot(ctx, 2, 4, 2)
	require.NoError(t, err)
	require.Empty(t, page4)
}

func TestLogStoreNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewLogStore()
	base := time.Unix(1000, 0).UTC()

	require.NoError(t, s.Append(ctx, 1, "first", true, base))
	require.NoError(t, s.Append(ctx, 1, "second", false, base.Add(time.Minute)))
	require.NoError(t, s.Append(ctx, 2, "other bot", true, base))

	entries, err := s.ListForBot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "first", entries[1].Message)

	require.NoError(t, s.DeleteAll(ctx))
	entries, err = s.ListForBot(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "snapshots/1/page-0.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/1/page-0.json", uri)

	data, ok := s.Get("snapshots/1/page-0.json")
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(data))
}
