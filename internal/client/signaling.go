// Package client composes the pieces a participant needs: the WebSocket
// signaling client, the data-channel protocol, and the session controller
// that ties them to one negotiator.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// SignalingClient manages the WebSocket connection to the signaling server.
// Raw inbound messages come out of Incoming; the session controller does the
// typed dispatch.
type SignalingClient struct {
	conn     *websocket.Conn
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

func NewSignalingClient() *SignalingClient {
	return &SignalingClient{
		incoming: make(chan []byte, 32),
		outgoing: make(chan []byte, 32),
		done:     make(chan struct{}),
	}
}

// Connect dials the signaling endpoint and starts the pumps.
func (c *SignalingClient) Connect(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "client.signaling").Str("url", url).Msg("signaling connected")
	return nil
}

func (c *SignalingClient) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Drain queued messages before the close frame so the final
			// leave-room is not lost to the select race.
			for {
				select {
				case data := <-c.outgoing:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// Send marshals and queues one signaling message.
func (c *SignalingClient) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling connection closed")
	}
}

// Incoming returns the channel of raw inbound messages. Closed when the
// connection drops.
func (c *SignalingClient) Incoming() <-chan []byte {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *SignalingClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
