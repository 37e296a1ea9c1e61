package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestViewerSessionWatchSeconds(t *testing.T) {
	joined := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &ViewerSession{JoinedAt: joined}
	if got := s.WatchSeconds(); got != 0 {
		t.Errorf("Expected 0 while active, got %d", got)
	}
	left := joined.Add(95*time.Second + 900*time.Millisecond)
	s.LeftAt = &left
	if got := s.WatchSeconds(); got != 95 {
		t.Errorf("Expected whole seconds 95, got %d", got)
	}
	if s.Active() {
		t.Error("Expected session to be inactive after leave")
	}
}

func TestViewerKey(t *testing.T) {
	uid := uuid.New()
	anon := &ViewerSession{SessionID: "abc"}
	authed := &ViewerSession{SessionID: "abc", UserID: &uid}
	if anon.ViewerKey() == authed.ViewerKey() {
		t.Error("Expected user identity to take precedence over session id")
	}
	if anon.ViewerKey() != "session:abc" {
		t.Errorf("Expected session:abc, got %s", anon.ViewerKey())
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[StreamStatus]bool{
		StreamStatusScheduled: false,
		StreamStatusLive:      false,
		StreamStatusEnded:     true,
		StreamStatusCancelled: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s: expected terminal=%v, got %v", status, want, got)
		}
	}
}
