package streams

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/middleware"
	"github.com/aura-webinar/livestream/internal/models"
)

type fakePresigner struct {
	err   error
	calls int
}

func (f *fakePresigner) RecordingDownloadURL(_ context.Context, streamID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://signed.example/" + streamID, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// identity stands in for the JWT middleware.
func identity(c *gin.Context) {
	if id, err := uuid.Parse(c.GetHeader("X-Test-User")); err == nil {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = auth.RoleViewer
		}
		c.Set(middleware.ContextUserID, id)
		c.Set(middleware.ContextUserRole, role)
	}
	c.Next()
}

func newHandlerRouter(r *Registry, p RecordingPresigner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(r, p, "rtmp://ingest.local/live/", zap.NewNop())
	e := gin.New()
	e.Use(identity)
	e.POST("/streams", h.Create)
	e.GET("/streams", h.List)
	e.GET("/streams/:id", h.Get)
	e.GET("/streams/:id/ingest", h.Ingest)
	e.PATCH("/streams/:id", h.Update)
	e.POST("/streams/:id/cancel", h.Cancel)
	e.GET("/streams/:id/recording", h.RecordingURL)
	return e
}

func call(t *testing.T, h http.Handler, method, path, body string, user uuid.UUID, role string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set("X-Test-User", user.String())
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestHandler_OwnerOnlyOperations(t *testing.T) {
	r, _ := newTestRegistry(t)
	e := newHandlerRouter(r, nil)
	owner, stranger := uuid.New(), uuid.New()

	code, env := call(t, e, http.MethodPost, "/streams", `{"title":"Roadmap"}`, owner, auth.RoleBroadcaster)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Error)
	}
	var created struct {
		ID        uuid.UUID `json:"id"`
		IngestKey string    `json:"ingest_key"`
		IngestURL string    `json:"ingest_url"`
		OwnerID   uuid.UUID `json:"owner_id"`
	}
	_ = json.Unmarshal(env.Data, &created)
	if created.OwnerID != owner || created.IngestKey == "" {
		t.Fatalf("Expected owner %s with ingest key, got %+v", owner, created)
	}
	if created.IngestURL != "rtmp://ingest.local/live/"+created.IngestKey {
		t.Errorf("Expected ingest url under the base, got %q", created.IngestURL)
	}
	base := "/streams/" + created.ID.String()

	t.Run("get hides the ingest key", func(t *testing.T) {
		_, env := call(t, e, http.MethodGet, base, "", stranger, "")
		if strings.Contains(string(env.Data), created.IngestKey) {
			t.Errorf("Expected no ingest key in public view, got %s", env.Data)
		}
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"ingest", http.MethodGet, base + "/ingest", ""},
		{"update", http.MethodPatch, base, `{"title":"Renamed"}`},
		{"cancel", http.MethodPost, base + "/cancel", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name+" by stranger", func(t *testing.T) {
			if code, _ := call(t, e, tt.method, tt.path, tt.body, stranger, ""); code != http.StatusForbidden {
				t.Errorf("Expected 403, got %d", code)
			}
		})
	}

	t.Run("admin may update", func(t *testing.T) {
		code, env := call(t, e, http.MethodPatch, base, `{"title":"Renamed"}`, stranger, auth.RoleAdmin)
		if code != http.StatusOK || !strings.Contains(string(env.Data), "Renamed") {
			t.Errorf("Expected 200 with new title, got %d %s", code, env.Data)
		}
	})

	t.Run("owner cancels once", func(t *testing.T) {
		if code, _ := call(t, e, http.MethodPost, base+"/cancel", "", owner, ""); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if code, _ := call(t, e, http.MethodPost, base+"/cancel", "", owner, ""); code != http.StatusConflict {
			t.Errorf("Expected 409 on second cancel, got %d", code)
		}
	})

	t.Run("unknown stream", func(t *testing.T) {
		if code, _ := call(t, e, http.MethodGet, "/streams/"+uuid.NewString(), "", owner, ""); code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", code)
		}
		if code, _ := call(t, e, http.MethodGet, "/streams/nope", "", owner, ""); code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", code)
		}
	})
}

func TestHandler_PrivateVisibility(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	owner := uuid.New()
	private, err := r.Create(ctx, CreateInput{Title: "Board", OwnerID: owner, Visibility: models.VisibilityPrivate})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	public := createStream(t, r, models.CategoryEvent)
	presigner := &fakePresigner{}
	e := newHandlerRouter(r, presigner)

	tests := []struct {
		name string
		user uuid.UUID
		role string
		want int
	}{
		{"anonymous", uuid.Nil, "", http.StatusNotFound},
		{"other user", uuid.New(), "", http.StatusNotFound},
		{"owner", owner, "", http.StatusOK},
		{"admin", uuid.New(), auth.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := call(t, e, http.MethodGet, "/streams/"+private.ID.String(), "", tt.user, tt.role); code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, code)
			}
		})
	}

	t.Run("list hides private streams from others", func(t *testing.T) {
		_, env := call(t, e, http.MethodGet, "/streams", "", uuid.New(), "")
		if strings.Contains(string(env.Data), private.ID.String()) || !strings.Contains(string(env.Data), public.ID.String()) {
			t.Errorf("Expected only the public stream, got %s", env.Data)
		}
		_, env = call(t, e, http.MethodGet, "/streams", "", owner, "")
		if !strings.Contains(string(env.Data), private.ID.String()) {
			t.Errorf("Expected owner to see the private stream, got %s", env.Data)
		}
	})

	t.Run("recording", func(t *testing.T) {
		path := "/streams/" + private.ID.String() + "/recording"
		if code, _ := call(t, e, http.MethodGet, path, "", owner, ""); code != http.StatusNotFound {
			t.Errorf("Expected 404 before a recording exists, got %d", code)
		}
		live, err := r.Transition(ctx, private.ID, EventIngestStarted)
		if err != nil {
			t.Fatalf("Transition() error: %v", err)
		}
		if _, err := r.Transition(ctx, live.ID, EventIngestStopped); err != nil {
			t.Fatalf("Transition() error: %v", err)
		}
		if _, err := r.AttachRecording(ctx, private.ID, "https://bucket/recordings/x.mp4"); err != nil {
			t.Fatalf("AttachRecording() error: %v", err)
		}

		if code, _ := call(t, e, http.MethodGet, path, "", uuid.New(), ""); code != http.StatusNotFound {
			t.Errorf("Expected 404 for a stranger, got %d", code)
		}
		if presigner.calls != 0 {
			t.Errorf("Expected no link signed for a stranger, got %d", presigner.calls)
		}
		code, env := call(t, e, http.MethodGet, path, "", owner, "")
		if code != http.StatusOK || !strings.Contains(string(env.Data), "https://signed.example/"+private.ID.String()) {
			t.Errorf("Expected signed link, got %d %s", code, env.Data)
		}

		presigner.err = errors.New("s3 unavailable")
		if code, _ := call(t, e, http.MethodGet, path, "", owner, ""); code != http.StatusInternalServerError {
			t.Errorf("Expected 500 when signing fails, got %d", code)
		}
	})
}
