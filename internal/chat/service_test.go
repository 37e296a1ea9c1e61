package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/analytics"
	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/realtime"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

type fakePublisher struct {
	mu    sync.Mutex
	types []realtime.EventType
}

func (f *fakePublisher) PublishPayload(_ context.Context, _ uuid.UUID, t realtime.EventType, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, t)
	return nil
}

type fakeActivity struct {
	chat, reactions int
}

func (f *fakeActivity) RecordActivity(_ context.Context, _ string, chat, reactions int) error {
	f.chat += chat
	f.reactions += reactions
	return nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	streams  *streams.MemoryStore
	registry *streams.Registry
	pub      *fakePublisher
	activity *fakeActivity
	agg      *analytics.Aggregator
	owner    uuid.UUID
	stream   *models.Stream
}

func newFixture(t *testing.T, live bool) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	streamStore := streams.NewMemoryStore()
	reg := streams.NewRegistry(streamStore, nil, zap.NewNop())
	reg.SetClock(func() time.Time { return now })
	owner := uuid.New()
	pub := &fakePublisher{}
	act := &fakeActivity{}
	agg := analytics.NewAggregator(analytics.NewMemoryStore(), nil, zap.NewNop())
	store := NewMemoryStore(streamStore)
	svc := NewService(store, reg, pub, agg, act, zap.NewNop())
	svc.SetClock(func() time.Time { return now.Add(5 * time.Minute) })
	f := &fixture{svc: svc, store: store, streams: streamStore, registry: reg, pub: pub, activity: act, agg: agg, owner: owner}
	f.stream = f.newStream(t, live)
	return f
}

func (f *fixture) newStream(t *testing.T, live bool) *models.Stream {
	t.Helper()
	ctx := context.Background()
	s, err := f.registry.Create(ctx, streams.CreateInput{Title: "Weekly update", OwnerID: f.owner})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if live {
		if s, err = f.registry.Transition(ctx, s.ID, streams.EventIngestStarted); err != nil {
			t.Fatalf("Transition() error: %v", err)
		}
	}
	return s
}

// staleReader always reports the stream as it was when captured.
type staleReader struct{ s *models.Stream }

func (r staleReader) Get(context.Context, uuid.UUID) (*models.Stream, error) {
	cp := *r.s
	return &cp, nil
}

// flipReader reports Live on the first read and Ended afterwards.
type flipReader struct {
	mu    sync.Mutex
	reads int
	s     *models.Stream
}

func (r *flipReader) Get(context.Context, uuid.UUID) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	cp := *r.s
	if r.reads > 1 {
		cp.Status = models.StreamStatusEnded
	}
	return &cp, nil
}

func TestPost(t *testing.T) {
	t.Run("requires live", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.Post(context.Background(), PostInput{StreamID: f.stream.ID, Body: "hello"})
		if !errors.Is(err, apperr.ErrNotLive) {
			t.Errorf("Expected ErrNotLive, got %v", err)
		}
		if len(f.pub.types) != 0 {
			t.Errorf("Expected nothing published, got %v", f.pub.types)
		}
	})

	t.Run("stores publishes and counts", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		m, err := f.svc.Post(ctx, PostInput{StreamID: f.stream.ID, SessionID: "s1", Body: "  hello  "})
		if err != nil {
			t.Fatalf("Post() error: %v", err)
		}
		if m.Body != "hello" || m.Type != models.MessageTypeText {
			t.Errorf("Expected trimmed text message, got %q/%s", m.Body, m.Type)
		}
		if len(f.pub.types) != 1 || f.pub.types[0] != realtime.EventChatMessage {
			t.Errorf("Expected one chat_message event, got %v", f.pub.types)
		}
		if f.activity.chat != 1 {
			t.Errorf("Expected session chat count 1, got %d", f.activity.chat)
		}
		rows, _ := f.agg.GetAnalytics(ctx, f.stream.ID)
		if len(rows) != 1 || rows[0].ChatCount != 1 {
			t.Errorf("Expected one row with chat count 1, got %+v", rows)
		}
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, true)
		cases := []PostInput{
			{StreamID: f.stream.ID, Body: "   "},
			{StreamID: f.stream.ID, Body: strings.Repeat("x", maxBodyLength+1)},
			{StreamID: f.stream.ID, Body: "hi", Type: models.MessageTypeSystem},
			{StreamID: f.stream.ID, Body: "hi", Type: "shout"},
		}
		for _, in := range cases {
			if _, err := f.svc.Post(context.Background(), in); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput for %+v, got %v", in.Type, err)
			}
		}
	})

	t.Run("reply parent must exist", func(t *testing.T) {
		f := newFixture(t, true)
		other := newFixture(t, true)
		parent, _ := other.svc.Post(context.Background(), PostInput{StreamID: other.stream.ID, Body: "elsewhere"})
		_, err := f.svc.Post(context.Background(), PostInput{StreamID: f.stream.ID, Body: "re", ReplyTo: &parent.ID})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown parent, got %v", err)
		}
	})

	t.Run("reply must be on same stream", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		second := f.newStream(t, true)
		parent, err := f.svc.Post(ctx, PostInput{StreamID: second.ID, Body: "elsewhere"})
		if err != nil {
			t.Fatalf("Post() error: %v", err)
		}
		_, err = f.svc.Post(ctx, PostInput{StreamID: f.stream.ID, Body: "re", ReplyTo: &parent.ID})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for cross-stream reply, got %v", err)
		}
		if msgs, _ := f.svc.ListAll(ctx, f.stream.ID, 0); len(msgs) != 0 {
			t.Errorf("Expected no message stored, got %d", len(msgs))
		}
	})

	t.Run("stream ends after the status check", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		snapshot := *f.stream
		if _, err := f.registry.Transition(ctx, f.stream.ID, streams.EventIngestStopped); err != nil {
			t.Fatalf("Transition() error: %v", err)
		}
		svc := NewService(f.store, staleReader{s: &snapshot}, f.pub, f.agg, f.activity, zap.NewNop())
		_, err := svc.Post(ctx, PostInput{StreamID: f.stream.ID, Body: "late"})
		if !errors.Is(err, apperr.ErrNotLive) {
			t.Fatalf("Expected ErrNotLive, got %v", err)
		}
		if msgs, _ := f.store.ListMessages(ctx, f.stream.ID, 10, true); len(msgs) != 0 {
			t.Errorf("Expected no message stored, got %d", len(msgs))
		}
		if len(f.pub.types) != 0 || f.activity.chat != 0 {
			t.Errorf("Expected nothing published or counted, got %v and %d", f.pub.types, f.activity.chat)
		}
	})
}

func TestMemoryStore_UndoesInsertAfterStreamEnds(t *testing.T) {
	ctx := context.Background()
	s := &models.Stream{ID: uuid.New(), Status: models.StreamStatusLive}

	store := NewMemoryStore(&flipReader{s: s})
	err := store.InsertMessage(ctx, &models.ChatMessage{ID: uuid.New(), StreamID: s.ID, Body: "racing"})
	if !errors.Is(err, apperr.ErrNotLive) {
		t.Fatalf("Expected ErrNotLive, got %v", err)
	}
	if msgs, _ := store.ListMessages(ctx, s.ID, 10, true); len(msgs) != 0 {
		t.Errorf("Expected message removed, got %d", len(msgs))
	}

	store = NewMemoryStore(&flipReader{s: s})
	err = store.InsertReaction(ctx, &models.Reaction{ID: uuid.New(), StreamID: s.ID, Type: models.ReactionClap})
	if !errors.Is(err, apperr.ErrNotLive) {
		t.Fatalf("Expected ErrNotLive, got %v", err)
	}
	if counts, _ := store.ReactionCounts(ctx, s.ID); len(counts) != 0 {
		t.Errorf("Expected reaction removed, got %v", counts)
	}
}

func TestModerate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	m, err := f.svc.Post(ctx, PostInput{StreamID: f.stream.ID, Body: "spam"})
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	keep, _ := f.svc.Post(ctx, PostInput{StreamID: f.stream.ID, Body: "fine"})

	t.Run("viewer is rejected", func(t *testing.T) {
		_, err := f.svc.Moderate(ctx, ModerateInput{StreamID: f.stream.ID, MessageID: m.ID, ModeratorID: uuid.New(), Role: auth.RoleViewer})
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("owner moderates once", func(t *testing.T) {
		got, err := f.svc.Moderate(ctx, ModerateInput{StreamID: f.stream.ID, MessageID: m.ID, ModeratorID: f.owner, Reason: "spam"})
		if err != nil {
			t.Fatalf("Moderate() error: %v", err)
		}
		if !got.IsModerated || got.ModeratedBy == nil || *got.ModeratedBy != f.owner {
			t.Errorf("Expected message moderated by owner, got %+v", got)
		}
		if _, err := f.svc.Moderate(ctx, ModerateInput{StreamID: f.stream.ID, MessageID: m.ID, ModeratorID: uuid.New(), Role: auth.RoleModerator}); err != nil {
			t.Fatalf("Moderate() again error: %v", err)
		}
		n := 0
		for _, typ := range f.pub.types {
			if typ == realtime.EventMessageModerated {
				n++
			}
		}
		if n != 1 {
			t.Errorf("Expected 1 message_moderated event, got %d", n)
		}
	})

	t.Run("feeds", func(t *testing.T) {
		recent, _ := f.svc.ListRecent(ctx, f.stream.ID, 0)
		if len(recent) != 1 || recent[0].ID != keep.ID {
			t.Errorf("Expected only the unmoderated message, got %d messages", len(recent))
		}
		all, _ := f.svc.ListAll(ctx, f.stream.ID, 0)
		if len(all) != 2 || all[0].ID != m.ID {
			t.Errorf("Expected both messages oldest first, got %d", len(all))
		}
	})

	t.Run("message from another stream", func(t *testing.T) {
		other := newFixture(t, true)
		_, err := other.svc.Moderate(ctx, ModerateInput{StreamID: other.stream.ID, MessageID: keep.ID, ModeratorID: other.owner})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestReact(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, typ := range []models.ReactionType{models.ReactionClap, models.ReactionClap, models.ReactionLove} {
		if _, err := f.svc.React(ctx, ReactInput{StreamID: f.stream.ID, SessionID: "s", Type: typ}); err != nil {
			t.Fatalf("React() error: %v", err)
		}
	}
	if _, err := f.svc.React(ctx, ReactInput{StreamID: f.stream.ID, Type: "boo"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	counts, _ := f.svc.ReactionCounts(ctx, f.stream.ID)
	if counts[models.ReactionClap] != 2 || counts[models.ReactionLove] != 1 {
		t.Errorf("Expected clap 2 love 1, got %v", counts)
	}
	if f.activity.reactions != 3 {
		t.Errorf("Expected 3 session reactions, got %d", f.activity.reactions)
	}
	rows, _ := f.agg.GetAnalytics(ctx, f.stream.ID)
	if rows[0].ReactionCount != 3 {
		t.Errorf("Expected reaction count 3, got %d", rows[0].ReactionCount)
	}

	t.Run("requires live", func(t *testing.T) {
		g := newFixture(t, false)
		if _, err := g.svc.React(ctx, ReactInput{StreamID: g.stream.ID, Type: models.ReactionLike}); !errors.Is(err, apperr.ErrNotLive) {
			t.Errorf("Expected ErrNotLive, got %v", err)
		}
	})

	t.Run("stream ends after the status check", func(t *testing.T) {
		g := newFixture(t, true)
		snapshot := *g.stream
		if _, err := g.registry.Transition(ctx, g.stream.ID, streams.EventIngestStopped); err != nil {
			t.Fatalf("Transition() error: %v", err)
		}
		svc := NewService(g.store, staleReader{s: &snapshot}, g.pub, g.agg, g.activity, zap.NewNop())
		if _, err := svc.React(ctx, ReactInput{StreamID: g.stream.ID, Type: models.ReactionLike}); !errors.Is(err, apperr.ErrNotLive) {
			t.Errorf("Expected ErrNotLive, got %v", err)
		}
		if counts, _ := g.store.ReactionCounts(ctx, g.stream.ID); len(counts) != 0 {
			t.Errorf("Expected no reaction stored, got %v", counts)
		}
	})
}
