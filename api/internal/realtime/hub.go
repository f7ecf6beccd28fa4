package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"waste-container-tracking-system/shared/logx"
	"waste-container-tracking-system/shared/metricsx"
)

const (
	EventContainerStatusUpdated = "container.status.updated"

	ActionJoinCenter  = "join:center"
	ActionLeaveCenter = "leave:center"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

type Message struct {
	Event string `json:"event"`
	Room  string `json:"room"`
	Data  any    `json:"data"`
}

// clientFrame is the inbound control message clients send to manage their
// room membership.
type clientFrame struct {
	Action   string `json:"action"`
	CenterID string `json:"centerId"`
}

// Hub fans broadcast messages out to websocket clients grouped by center
// room. Delivery is best effort: slow clients are dropped, never waited on.
type Hub struct {
	logger   logx.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

// A subscriber may sit in several center rooms at once. Its rooms set and
// closed flag are guarded by the hub mutex.
type subscriber struct {
	send   chan []byte
	rooms  map[string]struct{}
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

func NewHub(l logx.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		logger: l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		rooms: make(map[string]map[*subscriber]struct{}),
	}
}

func RoomForCenter(centerID string) string {
	return "center:" + centerID
}

// ServeWS upgrades the request and pumps room broadcasts to the client
// until it disconnects. A non-empty centerID pre-joins that center's room;
// clients can adjust membership afterwards with join/leave frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, centerID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := newSubscriber()
	if centerID != "" {
		h.join(sub, RoomForCenter(centerID))
	}

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
	return nil
}

// Broadcast delivers the event to every client in the center room.
func (h *Hub) Broadcast(ctx context.Context, centerID string, event string, data any) error {
	room := RoomForCenter(centerID)
	raw, err := json.Marshal(Message{Event: event, Room: room, Data: data})
	if err != nil {
		return err
	}

	// Sends happen under the read lock so no subscriber channel can be
	// closed mid-broadcast.
	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.rooms[room] {
		select {
		case sub.send <- raw:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	dropped := len(slow)
	for _, sub := range slow {
		h.unregister(sub)
	}
	if dropped > 0 {
		metricsx.IncBroadcastFailure()
		h.logger.Warn(ctx, "ws_clients_dropped", "dropped slow websocket clients",
			slog.String("room", room),
			slog.Int("dropped", dropped),
		)
	}
	return nil
}

func (h *Hub) RoomSize(centerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomForCenter(centerID)])
}

func (h *Hub) join(sub *subscriber, room string) {
	h.mu.Lock()
	if sub.closed {
		h.mu.Unlock()
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*subscriber]struct{})
	}
	h.rooms[room][sub] = struct{}{}
	sub.rooms[room] = struct{}{}
	size := len(h.rooms[room])
	h.mu.Unlock()

	metricsx.SetWSClients(room, size)
}

func (h *Hub) leave(sub *subscriber, room string) {
	h.mu.Lock()
	size := h.removeLocked(sub, room)
	h.mu.Unlock()

	if size >= 0 {
		metricsx.SetWSClients(room, size)
	}
}

// unregister removes the subscriber from every room and closes its send
// channel. Safe to call more than once.
func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	sizes := make(map[string]int)
	for room := range sub.rooms {
		if size := h.removeLocked(sub, room); size >= 0 {
			sizes[room] = size
		}
	}
	// The channel is closed under the lock so a concurrent join cannot put
	// the subscriber back into a room with a dead send channel.
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
	h.mu.Unlock()

	for room, size := range sizes {
		metricsx.SetWSClients(room, size)
	}
}

func (h *Hub) removeLocked(sub *subscriber, room string) int {
	subs, ok := h.rooms[room]
	if !ok {
		return -1
	}
	if _, ok := subs[sub]; !ok {
		return -1
	}
	delete(subs, sub)
	delete(sub.rooms, room)
	size := len(subs)
	if size == 0 {
		delete(h.rooms, room)
	}
	return size
}

// handleFrame applies a join/leave control frame. Anything else is ignored.
func (h *Hub) handleFrame(sub *subscriber, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.CenterID == "" {
		return
	}
	switch frame.Action {
	case ActionJoinCenter:
		h.join(sub, RoomForCenter(frame.CenterID))
	case ActionLeaveCenter:
		h.leave(sub, RoomForCenter(frame.CenterID))
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				h.unregister(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(sub)
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.unregister(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(sub, raw)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
