package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/models"
)

const (
	writeWait         = 10 * time.Second
	maxMessageSize    = 4096
	heartbeatThrottle = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Presence records viewer sessions for websocket connections.
type Presence interface {
	Connect(ctx context.Context, streamID uuid.UUID, sessionID string, viewer Viewer, meta models.ViewerMetadata) (string, error)
	Heartbeat(ctx context.Context, sessionID string) error
	Disconnect(ctx context.Context, sessionID string) error
}

// Viewer is the caller behind a websocket connection. UserID is nil for
// anonymous viewers.
type Viewer struct {
	UserID *uuid.UUID
	Admin  bool
}

// TokenValidator resolves a bearer token to a user.
type TokenValidator func(token string) (userID uuid.UUID, role string, err error)

// WSMessage is the envelope for messages that are not topic events.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection watching a stream.
type Client struct {
	SessionID string
	StreamID  uuid.UUID
	UserID    *uuid.UUID

	sub      *Subscription
	presence Presence
	conn     *websocket.Conn
	logger   *zap.Logger

	mu       sync.Mutex
	lastBeat time.Time
}

// ServeWs upgrades the request, joins the viewer to the stream and pumps
// topic events to the socket until either side goes away.
func ServeWs(hub *Hub, presence Presence, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamID, err := uuid.Parse(c.Query("stream_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid stream_id"})
			return
		}
		var viewer Viewer
		if token := c.Query("token"); token != "" && validate != nil {
			uid, role, err := validate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
				return
			}
			viewer = Viewer{UserID: &uid, Admin: role == auth.RoleAdmin}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		sub := hub.Subscribe(streamID)
		meta := models.ViewerMetadata{
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			DeviceType:     c.Query("device"),
			ConnectionType: "websocket",
		}
		ctx := context.WithoutCancel(c.Request.Context())
		sessionID, err := presence.Connect(ctx, streamID, c.Query("session_id"), viewer, meta)
		if err != nil {
			sub.Close()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			_ = conn.Close()
			return
		}

		client := &Client{
			SessionID: sessionID,
			StreamID:  streamID,
			UserID:    viewer.UserID,
			sub:       sub,
			presence:  presence,
			conn:      conn,
			logger:    logger,
			lastBeat:  time.Now(),
		}
		welcome, _ := json.Marshal(map[string]string{"session_id": sessionID})
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(WSMessage{Event: "session", Data: welcome}); err != nil {
			client.cleanup(ctx)
			return
		}
		go client.writePump()
		client.readPump(ctx)
	}
}

func (c *Client) cleanup(ctx context.Context) {
	c.sub.Close()
	if err := c.presence.Disconnect(ctx, c.SessionID); err != nil {
		c.logger.Warn("viewer disconnect failed", zap.String("session_id", c.SessionID), zap.Error(err))
	}
	_ = c.conn.Close()
}

func (c *Client) heartbeat(ctx context.Context, force bool) {
	c.mu.Lock()
	if !force && time.Since(c.lastBeat) < heartbeatThrottle {
		c.mu.Unlock()
		return
	}
	c.lastBeat = time.Now()
	c.mu.Unlock()
	if err := c.presence.Heartbeat(ctx, c.SessionID); err != nil {
		c.logger.Debug("heartbeat failed", zap.String("session_id", c.SessionID), zap.Error(err))
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.cleanup(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.heartbeat(ctx, false)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		switch msg.Event {
		case "heartbeat":
			c.heartbeat(ctx, true)
		case "leave":
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	events := c.sub.Events()
	for {
		select {
		case ev, ok := <-events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
