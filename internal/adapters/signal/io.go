package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 10 * time.Second

// peerLink is the relay-facing side of one participant connection. The
// WebSocket flavour below is the only production implementation; tests
// substitute an in-memory one.
type peerLink interface {
	ID() domain.PeerID
	TrySend([]byte) error
	Close()
}

type wsLink struct {
	peerID domain.PeerID
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSLink(peerID domain.PeerID, conn *websocket.Conn) *wsLink {
	return &wsLink{
		peerID: peerID,
		conn:   conn,
		send:   make(chan []byte, 32),
	}
}

func (l *wsLink) ID() domain.PeerID { return l.peerID }

func (l *wsLink) TrySend(data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return errors.New("connection closed")
	}
	select {
	case l.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (l *wsLink) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.send)
	_ = l.conn.Close()
	l.mu.Unlock()
}

// readPump owns all reads on the connection. It feeds the relay dispatcher
// and, on any read error, triggers the abrupt-disconnect path.
func (rl *Relay) readPump(link *wsLink) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(link.peerID)).Msg("readPump closing")
		rl.disconnect(link)
		link.Close()
	}()

	pongWait := rl.pingPeriod * 10 / 9
	link.conn.SetReadLimit(rl.readLimit)
	_ = link.conn.SetReadDeadline(time.Now().Add(pongWait))
	link.conn.SetPongHandler(func(string) error {
		return link.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := link.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(link.peerID)).Msg("readPump read error")
			}
			return
		}
		rl.dispatch(link, data)
	}
}

// writePump owns all writes, draining the send channel and keeping the
// connection alive with pings.
func (rl *Relay) writePump(link *wsLink) {
	ticker := time.NewTicker(rl.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = link.conn.Close()
	}()

	for {
		select {
		case data, ok := <-link.send:
			_ = link.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = link.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := link.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(link.peerID)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = link.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := link.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
