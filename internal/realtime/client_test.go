package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/models"
)

type fakePresence struct {
	mu          sync.Mutex
	connectErr  error
	viewer      Viewer
	heartbeats  int
	disconnects chan string
}

func newFakePresence() *fakePresence {
	return &fakePresence{disconnects: make(chan string, 1)}
}

func (f *fakePresence) Connect(_ context.Context, _ uuid.UUID, sessionID string, viewer Viewer, _ models.ViewerMetadata) (string, error) {
	if f.connectErr != nil {
		return "", f.connectErr
	}
	f.mu.Lock()
	f.viewer = viewer
	f.mu.Unlock()
	if sessionID == "" {
		sessionID = "sess-1"
	}
	return sessionID, nil
}

func (f *fakePresence) Heartbeat(context.Context, string) error {
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()
	return nil
}

func (f *fakePresence) Disconnect(_ context.Context, sessionID string) error {
	f.disconnects <- sessionID
	return nil
}

func newWSServer(t *testing.T, hub *Hub, p Presence, validate TokenValidator) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, p, validate, zap.NewNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func TestServeWs(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	p := newFakePresence()
	userID := uuid.New()
	validate := func(token string) (uuid.UUID, string, error) {
		if token != "good" {
			return uuid.Nil, "", errors.New("bad token")
		}
		return userID, "viewer", nil
	}
	srv := newWSServer(t, hub, p, validate)
	streamID := uuid.New()

	conn, err := dial(t, srv, "stream_id="+streamID.String()+"&token=good")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var welcome WSMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Event != "session" || !strings.Contains(string(welcome.Data), "sess-1") {
		t.Fatalf("Unexpected welcome %s %s", welcome.Event, welcome.Data)
	}
	p.mu.Lock()
	gotUser := p.viewer.UserID
	p.mu.Unlock()
	if gotUser == nil || *gotUser != userID {
		t.Errorf("Expected user %s attached, got %v", userID, gotUser)
	}

	t.Run("receives topic events", func(t *testing.T) {
		if err := hub.PublishPayload(context.Background(), streamID, EventChatMessage, map[string]string{"body": "hi"}); err != nil {
			t.Fatalf("PublishPayload() error: %v", err)
		}
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type != EventChatMessage || ev.Seq != 1 || ev.StreamID != streamID {
			t.Errorf("Unexpected event %+v", ev)
		}
	})

	t.Run("leave disconnects", func(t *testing.T) {
		if err := conn.WriteJSON(WSMessage{Event: "heartbeat"}); err != nil {
			t.Fatalf("write heartbeat: %v", err)
		}
		if err := conn.WriteJSON(WSMessage{Event: "leave"}); err != nil {
			t.Fatalf("write leave: %v", err)
		}
		select {
		case id := <-p.disconnects:
			if id != "sess-1" {
				t.Errorf("Expected sess-1 disconnected, got %s", id)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Expected disconnect after leave")
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.heartbeats != 1 {
			t.Errorf("Expected 1 heartbeat, got %d", p.heartbeats)
		}
	})
}

func TestServeWs_Rejections(t *testing.T) {
	hub := NewHub(nil, nil, zap.NewNop())
	validate := func(string) (uuid.UUID, string, error) { return uuid.Nil, "", errors.New("bad token") }

	t.Run("bad stream id", func(t *testing.T) {
		srv := newWSServer(t, hub, newFakePresence(), validate)
		if _, err := dial(t, srv, "stream_id=nope"); err == nil {
			t.Error("Expected handshake failure")
		}
	})

	t.Run("bad token", func(t *testing.T) {
		srv := newWSServer(t, hub, newFakePresence(), validate)
		if _, err := dial(t, srv, "stream_id="+uuid.NewString()+"&token=x"); err == nil {
			t.Error("Expected handshake failure")
		}
	})

	t.Run("stream not live", func(t *testing.T) {
		p := newFakePresence()
		p.connectErr = errors.New("stream is not live")
		srv := newWSServer(t, hub, p, validate)
		id := uuid.New()
		conn, err := dial(t, srv, "stream_id="+id.String())
		if err != nil {
			t.Fatalf("Dial() error: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Errorf("Expected policy violation close, got %v", err)
		}
		if n := hub.Subscribers(id); n != 0 {
			t.Errorf("Expected no subscribers, got %d", n)
		}
	})
}
