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

	"github.com/nerrad567/ailink-bridge/internal/auth"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/config"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newMockClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
	return WSMessage{}
}

// ─── Hub ───────────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, ChannelStateChanged)

	hub.Broadcast(ChannelStateChanged, map[string]any{"device_id": "100"})

	if msg := receive(t, client); msg.EventType != ChannelStateChanged {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelStateChanged)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, ChannelDevicesChanged)

	hub.Broadcast(ChannelStateChanged, map[string]any{"device_id": "100"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newMockClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_HandleEvent(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, ChannelStateChanged, ChannelDevicesChanged)

	snap := heater("100")
	hub.HandleEvent(gateway.Event{
		Kind:     gateway.EventPolled,
		Snapshot: snap,
		Resolved: []device.PendingCommand{{ID: "c1", Status: device.PendingStatusConfirmed}},
	})

	msg := receive(t, client)
	if msg.EventType != ChannelStateChanged {
		t.Fatalf("event_type = %q", msg.EventType)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["device_id"] != "100" || payload["reason"] != string(gateway.EventPolled) {
		t.Errorf("payload = %v", payload)
	}
	if resolved, _ := payload["resolved"].([]any); len(resolved) != 1 {
		t.Errorf("resolved = %v", payload["resolved"])
	}

	hub.HandleEvent(gateway.Event{Kind: gateway.EventDevicesChanged, Diff: device.Diff{Removed: []string{"100"}}})

	msg = receive(t, client)
	if msg.EventType != ChannelDevicesChanged {
		t.Fatalf("event_type = %q", msg.EventType)
	}
	payload, _ = msg.Payload.(map[string]any)
	if removed, _ := payload["removed"].([]any); len(removed) != 1 || removed[0] != "100" {
		t.Errorf("removed = %v", payload["removed"])
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, ChannelStateChanged, ChannelDevicesChanged)
	client.devices = map[string]struct{}{"200": {}}

	hub.HandleEvent(gateway.Event{Kind: gateway.EventPolled, Snapshot: heater("100")})
	hub.HandleEvent(gateway.Event{Kind: gateway.EventPolled, Snapshot: heater("200")})

	msg := receive(t, client)
	payload, _ := msg.Payload.(map[string]any)
	if payload["device_id"] != "200" {
		t.Errorf("device_id = %v, want 200", payload["device_id"])
	}

	// Registry changes are never filtered by device.
	hub.HandleEvent(gateway.Event{Kind: gateway.EventDevicesChanged, Diff: device.Diff{Removed: []string{"100"}}})
	if msg := receive(t, client); msg.EventType != ChannelDevicesChanged {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelDevicesChanged)
	}
}

func TestHub_NoSendAfterUnregister(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, ChannelStateChanged)
	hub.Unregister(client)

	if client.trySend([]byte("{}")) {
		t.Error("trySend succeeded on a closed client")
	}
	hub.Broadcast(ChannelStateChanged, map[string]any{"device_id": "100"}) // must not panic
}

func TestHub_RunDisconnectsClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	client := newMockClient(hub, ChannelStateChanged)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel still open after Run returned")
	}
}

// ─── End to end ────────────────────────────────────────────────────

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _, h := testServer(t, true)
	ts := httptest.NewServer(h)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?access_token=" + token(t, auth.RoleViewer)
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var response WSMessage
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if response.Type != WSTypeResponse || response.ID != "sub-1" {
		t.Fatalf("response = %+v", response)
	}

	var snapshot WSMessage
	if err := ws.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != WSTypeSnapshot || snapshot.ID != "sub-1" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	payload, _ := snapshot.Payload.(map[string]any)
	if devices, _ := payload["devices"].([]any); len(devices) != 1 {
		t.Errorf("snapshot devices = %v, want 1", payload["devices"])
	}

	srv.hub.HandleEvent(gateway.Event{Kind: gateway.EventCommand, Snapshot: heater("100")})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelStateChanged {
		t.Errorf("event = %+v", event)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	_, _, h := testServer(t, false)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"scene.activated"}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var response WSMessage
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Type != WSTypeError {
		t.Errorf("type = %q, want error", response.Type)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	_, _, h := testServer(t, true)
	ts := httptest.NewServer(h)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err == nil {
		t.Fatal("expected error connecting without token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocket_SnapshotHonoursDeviceFilter(t *testing.T) {
	_, _, h := testServer(t, false)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}, Devices: []string{"999"}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var response, snapshot WSMessage
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if err := ws.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != WSTypeSnapshot {
		t.Fatalf("type = %q, want snapshot", snapshot.Type)
	}
	payload, _ := snapshot.Payload.(map[string]any)
	if devices, _ := payload["devices"].([]any); len(devices) != 0 {
		t.Errorf("snapshot devices = %v, want none", payload["devices"])
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, _, h := testServer(t, false)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}
