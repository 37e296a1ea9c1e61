package storage

import (
	"testing"
	"time"
)

func TestRecordingKey(t *testing.T) {
	got := RecordingKey("5f0c")
	if got != "recordings/5f0c.mp4" {
		t.Errorf("Expected recordings/5f0c.mp4, got %s", got)
	}
}

func TestPresignExpire(t *testing.T) {
	tests := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 15 * time.Minute},
		{-3, 15 * time.Minute},
		{60, time.Hour},
	}
	for _, tt := range tests {
		s := &S3{cfg: S3Config{PresignExpireMinutes: tt.minutes}}
		if got := s.PresignExpire(); got != tt.want {
			t.Errorf("PresignExpire(%d): expected %v, got %v", tt.minutes, tt.want, got)
		}
	}
}

func TestObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "eu-west-1", RecordingsBucket: "recs"}}
	want := "https://recs.s3.eu-west-1.amazonaws.com/recordings/x.mp4"
	if got := s.ObjectURL(RecordingKey("x")); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
