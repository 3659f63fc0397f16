package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roompulse/backend/internal/models"
	"github.com/roompulse/backend/internal/presence"
	"github.com/roompulse/backend/internal/rooms"
	"github.com/roompulse/backend/pkg/response"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Snapshot is the first message on every subscription: the room's current
// state, read atomically with respect to the event stream. Feedback is
// included for creators only.
type Snapshot struct {
	RoomCode    string                 `json:"room_code"`
	ActiveUsers int                    `json:"active_users"`
	Feedback    []models.FeedbackEntry `json:"feedback,omitempty"`
}

// Deps are the collaborators a WebSocket connection needs. ListFeedback is
// a function value to keep the feedback package free to depend on the hub.
type Deps struct {
	GetRoom      func(ctx context.Context, code string) (*models.Room, error)
	ListFeedback func(ctx context.Context, code string) ([]models.FeedbackEntry, error)
	Tracker      *presence.Tracker
	Sessions     *presence.Repository
	Logger       *zap.Logger
}

// Client represents a single WebSocket connection in a room.
type Client struct {
	ID       string
	RoomCode string
	Role     rooms.Role
	JoinedAt time.Time
	key      string // hub registration key, set by Subscribe
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	done     chan struct{}
	closeOne sync.Once
}

func (c *Client) close() {
	c.closeOne.Do(func() { close(c.done) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// Attendee connections are counted as present in the room; creator
// connections only observe. The connection_id query param keeps a
// reconnecting attendee from double counting; absent, one is minted.
func ServeWs(hub *Hub, deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Query("code")
		if !rooms.ValidCode(code) {
			response.BadRequest(c, "room code must be 6 characters A-Z or 0-9")
			return
		}
		room, err := deps.GetRoom(c.Request.Context(), code)
		if errors.Is(err, rooms.ErrNotFound) {
			response.NotFound(c, "room not found")
			return
		}
		if err != nil {
			response.ServiceUnavailable(c, "storage unavailable, retry later")
			return
		}
		role := rooms.ResolveRole(room, c.Query("token"))
		connID := c.Query("connection_id")
		if connID == "" {
			connID = uuid.NewString()
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       connID,
			RoomCode: code,
			Role:     role,
			JoinedAt: time.Now(),
			hub:      hub,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			done:     make(chan struct{}),
		}

		// Presence joins before the subscription so the client's own
		// snapshot already reflects its count.
		if role == rooms.RoleAttendee {
			if deps.Tracker.Join(code, connID) && deps.Sessions != nil {
				logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := deps.Sessions.LogJoin(logCtx, code, connID); err != nil {
					deps.Logger.Warn("log presence join", zap.Error(err))
				}
				cancel()
			}
		}

		err = hub.Subscribe(client, func() (interface{}, error) {
			snap := Snapshot{RoomCode: code, ActiveUsers: deps.Tracker.Count(code)}
			if role == rooms.RoleCreator {
				entries, err := deps.ListFeedback(c.Request.Context(), code)
				if err != nil {
					return nil, err
				}
				snap.Feedback = entries
			}
			return snap, nil
		})
		if err != nil {
			deps.Logger.Error("subscribe snapshot", zap.String("room", code), zap.Error(err))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot unavailable"))
			_ = conn.Close()
			if role == rooms.RoleAttendee {
				if deps.Tracker.Leave(code, connID) && deps.Sessions != nil {
					logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = deps.Sessions.LogLeave(logCtx, code, connID)
					cancel()
				}
			}
			return
		}

		go client.writePump()
		client.readPump(deps)
	}
}

func (c *Client) readPump(deps Deps) {
	defer func() {
		c.hub.Unsubscribe(c)
		if c.Role == rooms.RoleAttendee {
			if deps.Tracker.Leave(c.RoomCode, c.ID) && deps.Sessions != nil {
				logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := deps.Sessions.LogLeave(logCtx, c.RoomCode, c.ID); err != nil {
					deps.Logger.Warn("log presence leave", zap.Error(err))
				}
				cancel()
			}
		}
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.Role == rooms.RoleAttendee {
			deps.Tracker.Touch(c.RoomCode, c.ID)
		}
		return nil
	})

	// Subscribers only listen; inbound frames matter solely for liveness
	// and close detection.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
