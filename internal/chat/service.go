// Package chat handles chat messages, moderation and reactions on Live streams.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/internal/analytics"
	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/realtime"
	"github.com/aura-webinar/livestream/pkg/apperr"
)

const (
	maxBodyLength    = 2000
	defaultListLimit = 50
	maxListLimit     = 200
)

// StreamReader loads streams.
type StreamReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// Publisher fans events out to stream subscribers.
type Publisher interface {
	PublishPayload(ctx context.Context, streamID uuid.UUID, t realtime.EventType, payload interface{}) error
}

// Recorder receives analytics deltas.
type Recorder interface {
	Record(ctx context.Context, streamID uuid.UUID, d analytics.Delta) error
}

// ActivityRecorder bumps per-session chat and reaction counters.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, sessionID string, chat, reactions int) error
}

// PostInput is a chat message from a viewer. Admin lets the caller post on
// private streams they do not own.
type PostInput struct {
	StreamID  uuid.UUID          `json:"-"`
	UserID    *uuid.UUID         `json:"-"`
	Admin     bool               `json:"-"`
	SessionID string             `json:"session_id"`
	Body      string             `json:"body" binding:"required"`
	Type      models.MessageType `json:"message_type"`
	ReplyTo   *uuid.UUID         `json:"reply_to"`
}

// ModerateInput hides a message from the public feed.
type ModerateInput struct {
	StreamID    uuid.UUID `json:"-"`
	MessageID   uuid.UUID `json:"-"`
	ModeratorID uuid.UUID `json:"-"`
	Role        string    `json:"-"`
	Reason      string    `json:"reason"`
}

// ReactInput is a reaction from a viewer.
type ReactInput struct {
	StreamID      uuid.UUID           `json:"-"`
	UserID        *uuid.UUID          `json:"-"`
	Admin         bool                `json:"-"`
	SessionID     string              `json:"session_id"`
	Type          models.ReactionType `json:"reaction_type" binding:"required"`
	OffsetSeconds *int                `json:"offset_seconds"`
}

// Service is the chat and reaction entry point.
type Service struct {
	store     Store
	streams   StreamReader
	publisher Publisher
	recorder  Recorder
	activity  ActivityRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a chat service. publisher, recorder and activity may be nil.
func NewService(store Store, streams StreamReader, publisher Publisher, recorder Recorder, activity ActivityRecorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		streams:   streams,
		publisher: publisher,
		recorder:  recorder,
		activity:  activity,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) requireLive(ctx context.Context, streamID uuid.UUID, userID *uuid.UUID, admin bool) (*models.Stream, error) {
	st, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !st.VisibleTo(userID, admin) {
		return nil, fmt.Errorf("%w: stream %s", apperr.ErrNotFound, streamID)
	}
	if st.Status != models.StreamStatusLive {
		return nil, fmt.Errorf("%w: stream is %s", apperr.ErrNotLive, st.Status)
	}
	return st, nil
}

// Post stores a message on a Live stream and publishes chat_message.
func (s *Service) Post(ctx context.Context, in PostInput) (*models.ChatMessage, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: message body required", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > maxBodyLength {
		return nil, fmt.Errorf("%w: message longer than %d characters", apperr.ErrInvalidInput, maxBodyLength)
	}
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if !in.Type.Valid() || in.Type == models.MessageTypeSystem {
		return nil, fmt.Errorf("%w: message type %q", apperr.ErrInvalidInput, in.Type)
	}
	if _, err := s.requireLive(ctx, in.StreamID, in.UserID, in.Admin); err != nil {
		return nil, err
	}
	if in.ReplyTo != nil {
		parent, err := s.store.GetMessage(ctx, *in.ReplyTo)
		if err != nil {
			return nil, err
		}
		if parent.StreamID != in.StreamID {
			return nil, fmt.Errorf("%w: reply_to belongs to another stream", apperr.ErrInvalidInput)
		}
	}

	m := &models.ChatMessage{
		ID:        uuid.New(),
		StreamID:  in.StreamID,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Body:      body,
		Type:      in.Type,
		ReplyTo:   in.ReplyTo,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	s.publish(ctx, m.StreamID, realtime.EventChatMessage, m)
	s.bumpActivity(ctx, in.SessionID, 1, 0)
	s.record(ctx, m.StreamID, analytics.Delta{At: m.CreatedAt, ChatCount: 1})
	return m, nil
}

// Moderate flags a message. Only the stream owner, admins and moderators may
// moderate. The flag is stored before message_moderated is published;
// moderating an already moderated message changes nothing.
func (s *Service) Moderate(ctx context.Context, in ModerateInput) (*models.ChatMessage, error) {
	st, err := s.streams.Get(ctx, in.StreamID)
	if err != nil {
		return nil, err
	}
	if st.OwnerID != in.ModeratorID && !auth.CanModerate(in.Role) {
		return nil, fmt.Errorf("%w: not allowed to moderate this stream", apperr.ErrUnauthorized)
	}
	cur, err := s.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	if cur.StreamID != in.StreamID {
		return nil, fmt.Errorf("%w: chat message", apperr.ErrNotFound)
	}
	m, applied, err := s.store.Moderate(ctx, in.MessageID, in.ModeratorID, strings.TrimSpace(in.Reason), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("moderate chat message: %w", err)
	}
	if !applied {
		return m, nil
	}
	s.logger.Info("chat message moderated",
		zap.String("stream_id", in.StreamID.String()),
		zap.String("message_id", in.MessageID.String()),
		zap.String("moderator_id", in.ModeratorID.String()))
	s.publish(ctx, in.StreamID, realtime.EventMessageModerated, realtime.ModerationPayload{
		MessageID:   m.ID,
		ModeratedBy: in.ModeratorID,
		Reason:      m.ModReason,
	})
	return m, nil
}

// ListRecent returns the newest visible messages, oldest first.
func (s *Service) ListRecent(ctx context.Context, streamID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	return s.store.ListMessages(ctx, streamID, clampLimit(limit), false)
}

// ListAll returns the newest messages including moderated ones.
func (s *Service) ListAll(ctx context.Context, streamID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	return s.store.ListMessages(ctx, streamID, clampLimit(limit), true)
}

// React stores a reaction on a Live stream and publishes reaction_added.
func (s *Service) React(ctx context.Context, in ReactInput) (*models.Reaction, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: reaction type %q", apperr.ErrInvalidInput, in.Type)
	}
	if in.OffsetSeconds != nil && *in.OffsetSeconds < 0 {
		return nil, fmt.Errorf("%w: negative offset", apperr.ErrInvalidInput)
	}
	if _, err := s.requireLive(ctx, in.StreamID, in.UserID, in.Admin); err != nil {
		return nil, err
	}
	r := &models.Reaction{
		ID:            uuid.New(),
		StreamID:      in.StreamID,
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		Type:          in.Type,
		OffsetSeconds: in.OffsetSeconds,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.InsertReaction(ctx, r); err != nil {
		return nil, fmt.Errorf("insert reaction: %w", err)
	}
	s.publish(ctx, r.StreamID, realtime.EventReactionAdded, r)
	s.bumpActivity(ctx, in.SessionID, 0, 1)
	s.record(ctx, r.StreamID, analytics.Delta{At: r.CreatedAt, ReactionCount: 1})
	return r, nil
}

// ReactionCounts returns reaction totals by type.
func (s *Service) ReactionCounts(ctx context.Context, streamID uuid.UUID) (map[models.ReactionType]int, error) {
	return s.store.ReactionCounts(ctx, streamID)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *Service) publish(ctx context.Context, streamID uuid.UUID, t realtime.EventType, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPayload(ctx, streamID, t, payload); err != nil {
		s.logger.Warn("publish chat event failed", zap.String("event", string(t)), zap.Error(err))
	}
}

func (s *Service) bumpActivity(ctx context.Context, sessionID string, chat, reactions int) {
	if s.activity == nil || sessionID == "" {
		return
	}
	if err := s.activity.RecordActivity(ctx, sessionID, chat, reactions); err != nil {
		s.logger.Warn("record session activity failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, streamID uuid.UUID, d analytics.Delta) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, streamID, d); err != nil {
		s.logger.Warn("record chat analytics failed", zap.String("stream_id", streamID.String()), zap.Error(err))
	}
}
