package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meetsync/internal/models"
	"meetsync/internal/observability"
	"meetsync/internal/telemetry"
)

const writeWait = 5 * time.Second

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains one Q&A room per meeting.
type Hub struct {
	rooms  map[int]map[*websocket.Conn]*client
	mu     sync.RWMutex
	events *telemetry.ConnEmitter
}

// NewHub creates an empty hub. events may be nil.
func NewHub(events *telemetry.ConnEmitter) *Hub {
	return &Hub{
		rooms:  make(map[int]map[*websocket.Conn]*client),
		events: events,
	}
}

// Add registers a connection in a meeting room.
func (h *Hub) Add(meetingID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[meetingID]; !ok {
		h.rooms[meetingID] = make(map[*websocket.Conn]*client)
	}
	h.rooms[meetingID][conn] = &client{conn: conn, info: info}
}

// Remove drops a connection and the room once it is empty.
func (h *Hub) Remove(meetingID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[meetingID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, meetingID)
		}
	}
}

// Size returns the number of connections in a room.
func (h *Hub) Size(meetingID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[meetingID])
}

func (h *Hub) snapshot(meetingID int) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.rooms[meetingID]))
	for _, c := range h.rooms[meetingID] {
		out = append(out, c)
	}
	return out
}

// Broadcast sends ev to every connection in the room. Connections that fail are closed and removed.
func (h *Hub) Broadcast(meetingID int, ev models.QAEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range h.snapshot(meetingID) {
		if err := c.write(payload); err != nil {
			observability.Component("ws").WithError(err).WithField("meeting_id", meetingID).Warn("websocket write error")
			_ = c.conn.Close()
			h.Remove(meetingID, c.conn)
			h.publishWSError(meetingID, c.info, err)
		}
	}
	observability.IncQAEvent("server", ev.Type)
}

// Send writes ev to a single connection in the room.
func (h *Hub) Send(meetingID int, conn *websocket.Conn, ev models.QAEvent) error {
	h.mu.RLock()
	c, ok := h.rooms[meetingID][conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (h *Hub) publishWSError(meetingID int, info ConnInfo, err error) {
	h.events.Emit(context.Background(), info.RequestID, info.UserID, telemetry.ConnPayload{
		MeetingID:  meetingID,
		Event:      "ws_error",
		ConnID:     info.ConnID,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     err.Error(),
		DeviceID:   info.DeviceID,
		IP:         info.IP,
	})
	observability.IncQAEvent("server", "ws_error")
}
