package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarev/CoWatch/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoServer upgrades every request and forwards each received message.
func echoServer(t *testing.T, received chan<- []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendReceiveRoundTrip(t *testing.T) {
	received := make(chan []byte, 8)
	srv := echoServer(t, received)
	defer srv.Close()

	c := NewSignalingClient()
	if err := c.Connect(context.Background(), wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	msg := protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: "abc123", IsHost: true, Username: "Alice"}
	if err := c.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		var got protocol.JoinRoom
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.RoomID != "abc123" || !got.IsHost || got.Username != "Alice" {
			t.Fatalf("received: got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestCloseDeliversQueuedLeaveRoom(t *testing.T) {
	received := make(chan []byte, 8)
	srv := echoServer(t, received)
	defer srv.Close()

	// The send-then-immediately-close shape of Disconnect. Repeat to catch
	// the race between the queued message and the shutdown signal.
	for i := 0; i < 10; i++ {
		c := NewSignalingClient()
		if err := c.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("Connect %d: %v", i, err)
		}
		if err := c.Send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom, RoomID: "abc123"}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		c.Close()

		select {
		case data := <-received:
			var got protocol.LeaveRoom
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("decode %d: %v", i, err)
			}
			if got.Type != protocol.TypeLeaveRoom || got.RoomID != "abc123" {
				t.Fatalf("received %d: got %+v", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("leave-room dropped on disconnect %d", i)
		}
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	received := make(chan []byte, 8)
	srv := echoServer(t, received)
	defer srv.Close()

	c := NewSignalingClient()
	if err := c.Connect(context.Background(), wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()
	c.Close() // safe to repeat

	if err := c.Send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom, RoomID: "abc123"}); err == nil {
		t.Fatal("Send after Close succeeded")
	}
}

func TestIncomingClosedOnServerDrop(t *testing.T) {
	received := make(chan []byte, 8)
	srv := echoServer(t, received)

	c := NewSignalingClient()
	if err := c.Connect(context.Background(), wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	srv.CloseClientConnections()

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatal("unexpected message after server drop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming not closed after server drop")
	}
	srv.Close()
}
