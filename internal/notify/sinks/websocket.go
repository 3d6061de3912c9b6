package sinks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/notify"
)

const wsWriteTimeout = 5 * time.Second

// wsFrame is the JSON frame pushed to connected dashboards. Method selects
// the client-side handler, mirroring a hub-style RPC dispatch.
type wsFrame struct {
	Method   string `json:"method"`
	BotID    int64  `json:"botId"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

const (
	methodStatusUpdate = "ReceiveStatusUpdate"
	methodLogUpdate    = "ReceiveLogUpdate"
)

// WebsocketSink broadcasts notifications to every connected websocket
// client. Slow or dead clients are dropped rather than allowed to stall the
// broadcast.
type WebsocketSink struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebsocketSink creates an empty sink; clients join through Handler.
func NewWebsocketSink(logger *zap.Logger) *WebsocketSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API sits behind its own auth; origin enforcement is
			// delegated to the reverse proxy in front of it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades the request and keeps the connection registered until the
// client goes away. Inbound messages are read and discarded to service
// control frames.
func (s *WebsocketSink) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.register(conn)
		go s.readLoop(conn)
	}
}

// Consume pushes each event to every connected client.
func (s *WebsocketSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		frame := wsFrame{
			Method:   methodStatusUpdate,
			BotID:    evt.BotID,
			Message:  evt.Message,
			Severity: string(evt.Severity),
		}
		if evt.Kind == notify.KindLog {
			frame.Method = methodLogUpdate
		}
		s.broadcast(frame)
	}
	return nil
}

// Close disconnects all clients.
func (s *WebsocketSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close() //nolint:errcheck
		delete(s.conns, conn)
	}
	return nil
}

// ClientCount reports how many clients are connected.
func (s *WebsocketSink) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *WebsocketSink) register(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))
}

func (s *WebsocketSink) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		conn.Close() //nolint:errcheck
	}
	s.mu.Unlock()
}

func (s *WebsocketSink) readLoop(conn *websocket.Conn) {
	defer s.unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebsocketSink) broadcast(frame wsFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Debug("dropping websocket client", zap.Error(err))
			delete(s.conns, conn)
			conn.Close() //nolint:errcheck
		}
	}
}
