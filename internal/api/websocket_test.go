package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/bagwatch/internal/audio"
	"github.com/Spatial-NVR/bagwatch/internal/notify"
)

var (
	_ notify.Broadcaster = (*HubBroadcaster)(nil)
	_ audio.Broadcaster  = (*HubBroadcaster)(nil)
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(hub *Hub, subs ...string) *Client {
	subscriptions := make(map[string]bool)
	for _, s := range subs {
		subscriptions[s] = true
	}
	return &Client{
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: subscriptions,
	}
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("Expected message on client.send channel")
		return nil
	}
}

func TestMessageType_Constants(t *testing.T) {
	tests := []struct {
		msgType  MessageType
		expected string
	}{
		{MessageTypeAlert, "alert"},
		{MessageTypeAlertCancelled, "alert_cancelled"},
		{MessageTypeAudioCue, "audio_cue"},
		{MessageTypeTracks, "tracks"},
		{MessageTypeSettings, "settings"},
		{MessageTypePing, "ping"},
		{MessageTypePong, "pong"},
		{MessageTypeSubscribe, "subscribe"},
		{MessageTypeUnsubscribe, "unsubscribe"},
	}

	for _, tt := range tests {
		if string(tt.msgType) != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, tt.msgType)
		}
	}
}

func TestTracksMessage(t *testing.T) {
	msg := TracksMessage("lobby", 42, []int{1, 2})
	if msg.Type != MessageTypeTracks {
		t.Errorf("Expected type tracks, got %s", msg.Type)
	}
	data := msg.Data.(map[string]interface{})
	if data["camera_id"] != "lobby" || data["frame_number"] != int64(42) {
		t.Errorf("Unexpected data: %v", data)
	}
}

func TestHub_Run_RegisterUnregister(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "*")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := newTestClient(hub, "*")
	hub.register <- client
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-client.send; ok {
		t.Error("Expected client send channel to be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "*")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(SettingsMessage(map[string]int{"abandon_threshold": 30}))

	var received Message
	if err := json.Unmarshal(receive(t, client), &received); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if received.Type != MessageTypeSettings {
		t.Errorf("Expected type %s, got %s", MessageTypeSettings, received.Type)
	}
	if received.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestHub_BroadcastToCamera(t *testing.T) {
	hub := runHub(t)

	lobby := newTestClient(hub, "lobby")
	all := newTestClient(hub, "*")
	gate := newTestClient(hub, "gate")

	hub.register <- lobby
	hub.register <- all
	hub.register <- gate
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastToCamera("lobby", TracksMessage("lobby", 1, nil))

	receive(t, lobby)
	receive(t, all)
	select {
	case <-gate.send:
		t.Error("gate client should not receive lobby messages")
	default:
	}
}

func TestHubBroadcaster_NotifySink(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "lobby")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	sink := notify.NewUI(NewHubBroadcaster(hub))
	alert := notify.Alert{ID: "a-1"}
	alert.CameraID = "lobby"
	alert.TrackID = 5
	if err := sink.Alert(context.Background(), alert); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}

	var received struct {
		Type string       `json:"type"`
		Data notify.Alert `json:"data"`
	}
	if err := json.Unmarshal(receive(t, client), &received); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if received.Type != string(MessageTypeAlert) {
		t.Errorf("Expected alert message, got %s", received.Type)
	}
	if received.Data.ID != "a-1" || received.Data.TrackID != 5 {
		t.Errorf("Unexpected payload: %+v", received.Data)
	}
}

func TestHubBroadcaster_Broadcast(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "*")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	NewHubBroadcaster(hub).Broadcast(map[string]string{"test": "data"})

	var received map[string]string
	if err := json.Unmarshal(receive(t, client), &received); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if received["test"] != "data" {
		t.Errorf("Unexpected message: %v", received)
	}
}

func TestHub_HandleWebSocket(t *testing.T) {
	hub := runHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	if err := ws.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	var response Message
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}
	if response.Type != MessageTypePong {
		t.Errorf("Expected pong message, got %s", response.Type)
	}
}

func TestClient_HandleMessage_Subscriptions(t *testing.T) {
	client := newTestClient(NewHub())

	subscribe, _ := json.Marshal(Message{Type: MessageTypeSubscribe, Data: []interface{}{"lobby", "gate"}})
	client.handleMessage(subscribe)
	if !client.subscribed("lobby") || !client.subscribed("gate") {
		t.Error("Expected subscriptions to lobby and gate")
	}

	unsubscribe, _ := json.Marshal(Message{Type: MessageTypeUnsubscribe, Data: []interface{}{"lobby"}})
	client.handleMessage(unsubscribe)
	if client.subscribed("lobby") {
		t.Error("Expected lobby to be unsubscribed")
	}
	if !client.subscribed("gate") {
		t.Error("Expected gate to still be subscribed")
	}
}

func TestClient_HandleMessage_InvalidJSON(t *testing.T) {
	client := newTestClient(NewHub())
	client.handleMessage([]byte("invalid json"))
	if client.subscribed("anything") {
		t.Error("Invalid message should not change subscriptions")
	}
}
