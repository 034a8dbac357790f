package changefeed

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bakko-backend/internal/notify"
)

func TestManager_RelaysChangeSignal(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := notify.NewHub()
	manager := NewManager(logger, hub)
	defer manager.Close()

	srv := httptest.NewServer(manager.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	// Let the handler register the client before signaling.
	time.Sleep(50 * time.Millisecond)
	hub.Notify()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("msgType = %d, want %d", msgType, websocket.TextMessage)
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if env.Type != eventDataChanged {
		t.Fatalf("type = %q, want %q", env.Type, eventDataChanged)
	}
	if env.AtMs == 0 {
		t.Fatal("expected a timestamp on the envelope")
	}
}

func TestManager_CloseDisconnectsClients(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := notify.NewHub()
	manager := NewManager(logger, hub)

	srv := httptest.NewServer(manager.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	manager.Close()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}
