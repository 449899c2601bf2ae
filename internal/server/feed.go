package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/asr-session-client/internal/chunksync"
	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedBuffer     = 16
)

// FeedSource provides transcript updates of the active session
type FeedSource interface {
	Session() transcription.Session
	Store() *chunksync.Store
	Subscribe(buffer int) <-chan chunksync.Update
	Unsubscribe(ch <-chan chunksync.Update)
}

// Feed streams transcript updates to websocket clients. A client first
// receives the whole transcript, then every merged batch as it arrives.
type Feed struct {
	source   FeedSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	clients map[*websocket.Conn]struct{}
	closed  bool
	mu      sync.Mutex
}

// NewFeed creates a websocket feed over source
func NewFeed(source FeedSource, logger *slog.Logger, m *metrics.Metrics) *Feed {
	return &Feed{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Monitoring endpoint, any origin may watch
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams updates until either side closes
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		f.logger.Warn("Feed upgrade failed", slog.String("error", err.Error()))
		return
	}

	if !f.register(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(feedWriteWait))
		conn.Close()
		return
	}
	defer f.unregister(conn)

	updates := f.source.Subscribe(feedBuffer)
	defer f.source.Unsubscribe(updates)

	f.logger.Info("Feed client connected", slog.String("remote_addr", r.RemoteAddr))

	snapshot := chunksync.Update{
		SessionID: f.source.Session().ID,
		Chunks:    f.source.Store().Chunks(),
	}
	if err := f.write(conn, snapshot); err != nil {
		return
	}

	// Clients only send control frames; reading keeps pongs and closes flowing
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session manager stopped"),
					time.Now().Add(feedWriteWait))
				return
			}
			if err := f.write(conn, update); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		case <-done:
			f.logger.Info("Feed client disconnected", slog.String("remote_addr", r.RemoteAddr))
			return
		}
	}
}

// Clients returns the number of connected clients
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client and refuses new ones
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for conn := range f.clients {
		conn.Close()
	}
}

func (f *Feed) write(conn *websocket.Conn, update chunksync.Update) error {
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteJSON(update); err != nil {
		f.logger.Debug("Feed write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (f *Feed) register(conn *websocket.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.clients[conn] = struct{}{}
	f.metrics.SetFeedClients(len(f.clients))
	return true
}

func (f *Feed) unregister(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.metrics.SetFeedClients(len(f.clients))
	f.mu.Unlock()

	conn.Close()
}
