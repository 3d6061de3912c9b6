package sinks

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/blogreach/blogreach/internal/notify"
)

func dialSink(t *testing.T, sink *WebsocketSink) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(sink.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close() //nolint:errcheck
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn
}

func TestWebsocketSinkBroadcasts(t *testing.T) {
	t.Parallel()

	sink := NewWebsocketSink(nil)
	conn := dialSink(t, sink)

	require.Eventually(t, func() bool { return sink.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	batch := []notify.Event{
		{BotID: 3, TS: time.Now().UTC(), Kind: notify.KindStatus, Severity: notify.SeverityInfo, Message: "Bot started"},
		{BotID: 3, TS: time.Now().UTC(), Kind: notify.KindLog, Severity: notify.SeveritySuccess, Message: "[Success] Message sent to a."},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	var first wsFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, methodStatusUpdate, first.Method)
	require.Equal(t, int64(3), first.BotID)
	require.Equal(t, "Bot started", first.Message)

	var second wsFrame
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, methodLogUpdate, second.Method)
	require.Equal(t, "success", second.Severity)

	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 0, sink.ClientCount())
}

func TestWebsocketSinkDropsDeadClients(t *testing.T) {
	t.Parallel()

	sink := NewWebsocketSink(nil)
	conn := dialSink(t, sink)

	require.Eventually(t, func() bool { return sink.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())

	// The read loop notices the closed connection and unregisters it.
	require.Eventually(t, func() bool { return sink.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	evt := notify.Event{BotID: 1, TS: time.Now().UTC(), Kind: notify.KindStatus, Severity: notify.SeverityInfo, Message: "Bot stopped"}
	require.NoError(t, sink.Consume(context.Background(), []notify.Event{evt}))
}
