package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Room event names delivered to subscribers.
const (
	// EventSnapshot is always the first message on a new subscription.
	EventSnapshot = "snapshot"
	// EventFeedbackAdded carries a newly committed feedback entry.
	EventFeedbackAdded = "feedback_added"
	// EventPresenceChanged carries the new live attendee count.
	EventPresenceChanged = "presence_changed"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes room events for other instances to rebroadcast.
type Publisher interface {
	PublishRoomEvent(roomCode, origin, event string, payload []byte) error
}

// Subscriber subscribes to a room's channel and invokes handler for
// incoming events from any instance.
type Subscriber interface {
	SubscribeRoom(roomCode string, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// roomState holds one room's subscribers. Its mutex serializes snapshot
// reads, registration, committed mutations and fan-out, which is what gives
// every subscriber of a room the same event order with no gap or overlap
// between snapshot and first event. Clients are keyed by a per-subscription
// key, not by connection ID, so two sockets presenting the same connection
// ID never displace each other.
type roomState struct {
	mu      sync.Mutex
	clients map[string]*Client
	cancel  func() // stops the Redis subscription, nil when bridge is off
	dead    bool   // set once the state has been removed from the hub map
}

// Hub maintains room code -> set of connections and broadcasts room events.
// Events for one room are delivered to all its subscribers in the order the
// underlying mutations committed.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*roomState
	logger     *zap.Logger
	pub        Publisher
	sub        Subscriber
	instanceID string
}

// NewHub creates a hub. pub/sub may be nil, making the hub local-only.
// instanceID tags published events so the bridge can skip this instance's
// own messages instead of delivering them twice.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber, instanceID string) *Hub {
	return &Hub{
		rooms:      make(map[string]*roomState),
		logger:     logger,
		pub:        pub,
		sub:        sub,
		instanceID: instanceID,
	}
}

func (h *Hub) room(code string) *roomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[code]
	if !ok {
		rs = &roomState{clients: make(map[string]*Client)}
		h.rooms[code] = rs
	}
	return rs
}

// lockRoom returns the room's state with its mutex held, retrying when the
// state was pruned between lookup and lock.
func (h *Hub) lockRoom(code string) *roomState {
	for {
		rs := h.room(code)
		rs.mu.Lock()
		if !rs.dead {
			return rs
		}
		rs.mu.Unlock()
	}
}

// release drops a room's state once it has no subscribers, no bridge
// subscription and the caller no longer holds its mutex.
func (h *Hub) release(code string, rs *roomState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[code]; !ok || cur != rs {
		return
	}
	rs.mu.Lock()
	if len(rs.clients) == 0 && rs.cancel == nil {
		rs.dead = true
		delete(h.rooms, code)
	}
	rs.mu.Unlock()
}

// Subscribe registers a client after enqueueing its snapshot. The snapshot
// function runs under the room lock, so no committed mutation between the
// snapshot read and the registration can be missed or applied twice.
func (h *Hub) Subscribe(c *Client, snapshot func() (interface{}, error)) error {
	rs := h.lockRoom(c.RoomCode)

	snap, err := snapshot()
	if err != nil {
		rs.mu.Unlock()
		h.release(c.RoomCode, rs)
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		rs.mu.Unlock()
		h.release(c.RoomCode, rs)
		return err
	}
	c.send <- WSMessage{Event: EventSnapshot, Data: data}
	c.key = uuid.NewString()
	rs.clients[c.key] = c

	if rs.cancel == nil && h.sub != nil {
		code := c.RoomCode
		cancel, err := h.sub.SubscribeRoom(code, func(origin, event string, payload []byte) {
			if origin == h.instanceID {
				return
			}
			h.deliverLocal(code, event, payload)
		})
		if err != nil {
			h.logger.Warn("room bridge subscribe failed", zap.String("room", code), zap.Error(err))
		} else {
			rs.cancel = cancel
		}
	}
	rs.mu.Unlock()

	h.logger.Debug("client subscribed",
		zap.String("client_id", c.ID), zap.String("room", c.RoomCode), zap.String("role", string(c.Role)))
	return nil
}

// Unsubscribe removes a client. The last client leaving a room cancels its
// bridge subscription and drops the room state.
func (h *Hub) Unsubscribe(c *Client) {
	rs := h.room(c.RoomCode)
	rs.mu.Lock()
	if cur, ok := rs.clients[c.key]; ok && cur == c {
		delete(rs.clients, c.key)
	}
	var cancel func()
	if len(rs.clients) == 0 {
		cancel = rs.cancel
		rs.cancel = nil
	}
	rs.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.release(c.RoomCode, rs)
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("room", c.RoomCode))
}

// Broadcast delivers an event to every subscriber of a room, then publishes
// it for other instances. Callers must invoke this only after the mutation
// behind the event has durably committed; mutations that race snapshots go
// through Commit instead.
func (h *Hub) Broadcast(roomCode, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal room event", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliverLocal(roomCode, event, data)
	h.publish(roomCode, event, data)
}

// Commit runs fn under the room lock and, when it succeeds, delivers its
// payload as event before the lock is released. A subscriber's snapshot and
// a committed mutation for the same room are therefore mutually exclusive:
// every subscriber sees each mutation exactly once, in its snapshot or as
// an event, never both. A failed fn delivers nothing.
func (h *Hub) Commit(roomCode, event string, fn func() (interface{}, error)) error {
	rs := h.lockRoom(roomCode)

	payload, err := fn()
	if err != nil {
		rs.mu.Unlock()
		h.release(roomCode, rs)
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		rs.mu.Unlock()
		h.release(roomCode, rs)
		h.logger.Error("marshal room event", zap.String("event", event), zap.Error(err))
		return nil
	}
	h.deliverLocked(rs, roomCode, event, data)
	rs.mu.Unlock()

	h.release(roomCode, rs)
	h.publish(roomCode, event, data)
	return nil
}

func (h *Hub) publish(roomCode, event string, data []byte) {
	if h.pub == nil {
		return
	}
	if err := h.pub.PublishRoomEvent(roomCode, h.instanceID, event, data); err != nil {
		h.logger.Warn("publish room event", zap.String("room", roomCode), zap.Error(err))
	}
}

func (h *Hub) deliverLocal(roomCode, event string, data []byte) {
	h.mu.RLock()
	rs, ok := h.rooms[roomCode]
	h.mu.RUnlock()
	if !ok {
		return
	}

	rs.mu.Lock()
	h.deliverLocked(rs, roomCode, event, data)
	rs.mu.Unlock()
}

// deliverLocked fans an event out to a room's subscribers. Caller holds
// rs.mu.
func (h *Hub) deliverLocked(rs *roomState, roomCode, event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}
	for key, c := range rs.clients {
		select {
		case c.send <- msg:
		default:
			// A subscriber that cannot keep up is disconnected rather than
			// skipped past: it re-snapshots on reconnect, which keeps the
			// no-dropped-events contract intact.
			delete(rs.clients, key)
			c.close()
			h.logger.Warn("dropping slow subscriber",
				zap.String("client_id", c.ID), zap.String("room", roomCode))
		}
	}
}

// SubscriberCount returns the number of connections subscribed to a room.
func (h *Hub) SubscriberCount(roomCode string) int {
	h.mu.RLock()
	rs, ok := h.rooms[roomCode]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.clients)
}
