package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

func setupTestHub(t testing.TB) (*Hub, context.CancelFunc) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func newTestClient(hub *Hub, id string, buffer int) *Client {
	return &Client{
		hub:      hub,
		id:       id,
		viewerID: "viewer-" + id,
		send:     make(chan []byte, buffer),
		logger:   zap.NewNop(),
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan []byte) map[string]interface{} {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatal("Send channel closed")
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("Invalid payload %s: %v", payload, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("Message not received within timeout")
	}
	return nil
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zap.NewNop())

	if hub.clients == nil {
		t.Error("Hub clients map should be initialized")
	}
	if hub.register == nil || hub.unregister == nil || hub.broadcast == nil {
		t.Error("Hub channels should be initialized")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}

	var _ repositories.StatusSink = hub
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	hub, _ := setupTestHub(t)

	client1 := newTestClient(hub, "c1", 8)
	client2 := newTestClient(hub, "c2", 8)
	hub.register <- client1
	hub.register <- client2
	waitForClients(t, hub, 2)

	hub.BroadcastCaption("session-1", entities.CaptionEntry{
		Time:   time.Now(),
		Source: "SYS",
		Status: entities.CaptionStatusInterim,
		Text:   "partial words",
	})

	for _, c := range []*Client{client1, client2} {
		msg := receive(t, c.send)
		if msg["type"] != "caption" {
			t.Errorf("Expected caption message, got %v", msg["type"])
		}
		if msg["text"] != "partial words" {
			t.Errorf("Expected text 'partial words', got %v", msg["text"])
		}
		if msg["source"] != "SYS" {
			t.Errorf("Expected source SYS, got %v", msg["source"])
		}
	}
}

func TestHub_EmitStatus(t *testing.T) {
	hub, _ := setupTestHub(t)

	client := newTestClient(hub, "c1", 8)
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.EmitStatus(repositories.StatusConnected)

	msg := receive(t, client.send)
	if msg["type"] != "status" || msg["status"] != "connected" {
		t.Errorf("Unexpected status message %v", msg)
	}
}

func TestHub_BroadcastAssist(t *testing.T) {
	hub, _ := setupTestHub(t)

	client := newTestClient(hub, "c1", 8)
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.BroadcastAssist("s1", entities.AILogEntry{Type: "recap", Text: "Agreed to ship"})

	msg := receive(t, client.send)
	if msg["type"] != "assist" || msg["kind"] != "recap" || msg["content"] != "Agreed to ship" {
		t.Errorf("Unexpected assist message %v", msg)
	}
	if msg["session_id"] != "s1" {
		t.Errorf("Expected session_id s1, got %v", msg["session_id"])
	}
}

func TestHub_Unregister(t *testing.T) {
	hub, _ := setupTestHub(t)

	client := newTestClient(hub, "c1", 8)
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.unregister <- client
	waitForClients(t, hub, 0)

	if _, ok := <-client.send; ok {
		t.Error("Expected send channel to be closed after unregister")
	}

	// a second unregister of the same client is harmless
	hub.unregister <- client
	waitForClients(t, hub, 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, _ := setupTestHub(t)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	hub.register <- slow
	hub.register <- fast
	waitForClients(t, hub, 2)

	hub.EmitStatus(repositories.StatusReconnecting)
	hub.EmitStatus(repositories.StatusConnected)

	waitForClients(t, hub, 1)
	hub.mu.RLock()
	_, ok := hub.clients["fast"]
	hub.mu.RUnlock()
	if !ok {
		t.Error("Fast client should still be registered")
	}

	first := receive(t, fast.send)
	second := receive(t, fast.send)
	if first["status"] != "reconnecting" || second["status"] != "connected" {
		t.Errorf("Expected statuses in order, got %v then %v", first["status"], second["status"])
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, cancel := setupTestHub(t)

	client := newTestClient(hub, "c1", 8)
	hub.register <- client
	waitForClients(t, hub, 1)

	cancel()

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("Hub did not stop")
	}
	if _, ok := <-client.send; ok {
		t.Error("Expected send channel to be closed on stop")
	}

	// broadcasting after stop must not block
	hub.EmitStatus(repositories.StatusDisconnected)
}

func TestServeViewer_EndToEnd(t *testing.T) {
	hub, _ := setupTestHub(t)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return ServeViewer(hub, c, "viewer-1", zap.NewNop())
	})
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	session := entities.NewSession("session-9")
	hub.BroadcastRecording(session, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var recording RecordingMessage
	if err := conn.ReadJSON(&recording); err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	if recording.Type != MessageTypeRecording || recording.SessionID != "session-9" {
		t.Errorf("Unexpected recording message %+v", recording)
	}
	if recording.State != entities.SessionStatusRecording {
		t.Errorf("Expected state recording, got %s", recording.State)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping", "data": "abc"}); err != nil {
		t.Fatalf("Failed to write ping: %v", err)
	}
	var pong PongMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}
	if pong.Type != MessageTypePong || pong.Data != "abc" {
		t.Errorf("Unexpected pong %+v", pong)
	}

	if err := conn.WriteJSON(map[string]string{"type": "audio_chunk"}); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	var errMsg ErrorMessage
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("Failed to read error reply: %v", err)
	}
	if errMsg.Type != MessageTypeError || errMsg.Code != "invalid_message" {
		t.Errorf("Unexpected error reply %+v", errMsg)
	}

	conn.Close()
	waitForClients(t, hub, 0)
}
