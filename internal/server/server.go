package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/dispatcher"
)

const (
	writeTimeout = 10 * time.Second
	// readTimeout bounds terminal silence. Terminals keep-alive well inside
	// this; the deadline resets on every inbound frame.
	readTimeout    = 5 * time.Minute
	maxMessageSize = 1 << 20
)

// Server accepts terminal WebSocket connections and pumps their messages
// through the dispatcher.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	logger     *logrus.Entry
	upgrader   websocket.Upgrader
}

// New creates a terminal connection server
func New(d *dispatcher.Dispatcher, logger *logrus.Entry) *Server {
	return &Server{
		dispatcher: d,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminals are not browsers; there is no origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// terminal disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	peer := &wsPeer{conn: conn}
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Terminal connected")

	defer func() {
		s.dispatcher.ConnectionClosed(peer)
		conn.Close()
		s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Terminal connection closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Debug("Terminal read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if reply := s.dispatcher.Handle(peer, payload); reply != "" {
			if err := peer.WriteText(reply); err != nil {
				s.logger.WithError(err).Warn("Failed to write reply")
				return
			}
		}
	}
}

// wsPeer is the write side of one terminal connection. The dispatcher and
// the schedulers write concurrently, so writes are serialized here.
type wsPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *wsPeer) WriteText(payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}
