package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"waste-container-tracking-system/shared/logx"
)

func testHub() *Hub {
	return NewHub(logx.New("api", "test", "test", "error"), nil)
}

func addSubscriber(h *Hub, centerID string, buffer int) *subscriber {
	sub := &subscriber{
		send:  make(chan []byte, buffer),
		rooms: make(map[string]struct{}),
	}
	h.join(sub, RoomForCenter(centerID))
	return sub
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	h := testHub()
	inRoom := addSubscriber(h, "center-a", 4)
	otherRoom := addSubscriber(h, "center-b", 4)

	payload := map[string]string{"containerId": "c-1", "state": "full"}
	if err := h.Broadcast(context.Background(), "center-a", EventContainerStatusUpdated, payload); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case raw := <-inRoom.send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Event != EventContainerStatusUpdated {
			t.Fatalf("unexpected event %q", msg.Event)
		}
		if msg.Room != "center:center-a" {
			t.Fatalf("unexpected room %q", msg.Room)
		}
	default:
		t.Fatal("expected a message in the center-a room")
	}

	select {
	case <-otherRoom.send:
		t.Fatal("center-b subscriber should not receive center-a broadcasts")
	default:
	}
}

func TestBroadcastDropsSlowClients(t *testing.T) {
	h := testHub()
	slow := addSubscriber(h, "center-a", 1)
	slow.send <- []byte("backlog")

	if err := h.Broadcast(context.Background(), "center-a", EventContainerStatusUpdated, nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if n := h.RoomSize("center-a"); n != 0 {
		t.Fatalf("expected slow client to be dropped, room size %d", n)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := testHub()
	sub := addSubscriber(h, "center-a", 1)

	h.unregister(sub)
	h.unregister(sub)

	if n := h.RoomSize("center-a"); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
}

func TestJoinLeaveFrames(t *testing.T) {
	h := testHub()
	sub := newSubscriber()

	h.handleFrame(sub, []byte(`{"action":"join:center","centerId":"center-a"}`))
	h.handleFrame(sub, []byte(`{"action":"join:center","centerId":"center-b"}`))
	if n := h.RoomSize("center-a"); n != 1 {
		t.Fatalf("center-a size = %d, want 1", n)
	}
	if n := h.RoomSize("center-b"); n != 1 {
		t.Fatalf("center-b size = %d, want 1", n)
	}

	h.handleFrame(sub, []byte(`{"action":"leave:center","centerId":"center-a"}`))
	if n := h.RoomSize("center-a"); n != 0 {
		t.Fatalf("center-a size after leave = %d, want 0", n)
	}

	// Garbage and unknown actions are ignored.
	h.handleFrame(sub, []byte(`not json`))
	h.handleFrame(sub, []byte(`{"action":"join:center"}`))
	h.handleFrame(sub, []byte(`{"action":"shout","centerId":"center-c"}`))
	if n := h.RoomSize("center-c"); n != 0 {
		t.Fatalf("center-c size = %d, want 0", n)
	}

	h.unregister(sub)
	if n := h.RoomSize("center-b"); n != 0 {
		t.Fatalf("center-b size after unregister = %d, want 0", n)
	}
}

func TestJoinAfterUnregisterIsRefused(t *testing.T) {
	h := testHub()
	sub := addSubscriber(h, "center-a", 1)

	h.unregister(sub)
	// A join frame racing the disconnect must not put the subscriber back
	// into a room once its send channel is closed.
	h.handleFrame(sub, []byte(`{"action":"join:center","centerId":"center-a"}`))
	if n := h.RoomSize("center-a"); n != 0 {
		t.Fatalf("room size after closed join = %d, want 0", n)
	}

	if err := h.Broadcast(context.Background(), "center-a", EventContainerStatusUpdated, nil); err != nil {
		t.Fatalf("broadcast after closed join: %v", err)
	}
}

func TestBroadcastToEmptyRoom(t *testing.T) {
	h := testHub()
	if err := h.Broadcast(context.Background(), "center-x", EventContainerStatusUpdated, nil); err != nil {
		t.Fatalf("broadcast to empty room: %v", err)
	}
}

func TestServeWSRejectsBadOrigin(t *testing.T) {
	h := NewHub(logx.New("api", "test", "test", "error"), []string{"https://app.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/ws/centers/center-a", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	w := httptest.NewRecorder()

	if err := h.ServeWS(w, r, "center-a"); err == nil {
		t.Fatal("expected upgrade to fail for disallowed origin")
	}
}
