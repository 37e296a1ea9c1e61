package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

type fakeLive struct{ streams []models.Stream }

func (f fakeLive) ListLive(context.Context) ([]models.Stream, error) { return f.streams, nil }

type fakeViewers struct {
	live   map[uuid.UUID]int
	unique int
}

func (f fakeViewers) CurrentCount(_ context.Context, id uuid.UUID) (int, error) {
	return f.live[id], nil
}
func (f fakeViewers) UniqueViewersBetween(context.Context, uuid.UUID, time.Time, time.Time) (int, error) {
	return f.unique, nil
}

func TestSamplerSampleAll(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	agg := NewAggregator(NewMemoryStore(), nil, nil)
	s := NewSampler(agg,
		fakeLive{streams: []models.Stream{{ID: a}, {ID: b}}},
		fakeViewers{live: map[uuid.UUID]int{a: 4, b: 9}, unique: 12},
		time.Minute, nil)
	s.SetClock(func() time.Time { return base.Add(30 * time.Minute) })

	n, err := s.SampleAll(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 samples, got %d (%v)", n, err)
	}
	rows, _ := agg.GetAnalytics(context.Background(), b)
	if len(rows) != 1 || rows[0].ConcurrentViewers != 9 || rows[0].PeakConcurrent != 9 || rows[0].UniqueViewers != 12 {
		t.Errorf("unexpected row: %+v", rows)
	}
}

func TestSamplerFlushUsesEndTime(t *testing.T) {
	id := uuid.New()
	agg := NewAggregator(NewMemoryStore(), nil, nil)
	s := NewSampler(agg, fakeLive{}, fakeViewers{unique: 3}, time.Minute, nil)
	s.SetClock(func() time.Time { return base.Add(3 * time.Hour) })
	ended := base.Add(50 * time.Minute)

	if err := s.Flush(context.Background(), &models.Stream{ID: id, EndedAt: &ended}); err != nil {
		t.Fatal(err)
	}
	rows, _ := agg.GetAnalytics(context.Background(), id)
	if len(rows) != 1 || !rows[0].HourBucket.Equal(base) {
		t.Fatalf("Expected flush in the end hour, got %+v", rows)
	}
	if rows[0].ConcurrentViewers != 0 || rows[0].UniqueViewers != 3 {
		t.Errorf("Expected concurrent 0 unique 3, got %d %d", rows[0].ConcurrentViewers, rows[0].UniqueViewers)
	}
}
