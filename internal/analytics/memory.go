package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livestream/internal/models"
)

type rowKey struct {
	stream uuid.UUID
	hour   time.Time
}

// MemoryStore keeps hourly rows in process.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[rowKey]*models.HourlyAnalytics
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory analytics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[rowKey]*models.HourlyAnalytics), now: time.Now}
}

// Upsert merges d into its hourly row.
func (m *MemoryStore) Upsert(_ context.Context, streamID uuid.UUID, d Delta) (*models.HourlyAnalytics, error) {
	key := rowKey{stream: streamID, hour: HourBucket(d.At)}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[key]
	if !ok {
		r := NewRow(streamID, d)
		row = &r
		m.rows[key] = row
	} else {
		Merge(row, d)
	}
	row.UpdatedAt = m.now().UTC()
	out := copyRow(row)
	return &out, nil
}

// List returns the stream's rows by hour ascending.
func (m *MemoryStore) List(_ context.Context, streamID uuid.UUID) ([]models.HourlyAnalytics, error) {
	m.mu.Lock()
	var out []models.HourlyAnalytics
	for k, row := range m.rows {
		if k.stream == streamID {
			out = append(out, copyRow(row))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HourBucket.Before(out[j].HourBucket) })
	return out, nil
}

func copyRow(r *models.HourlyAnalytics) models.HourlyAnalytics {
	c := *r
	if r.QualityScore != nil {
		q := *r.QualityScore
		c.QualityScore = &q
	}
	if r.SampledAt != nil {
		t := *r.SampledAt
		c.SampledAt = &t
	}
	if r.QualitySampledAt != nil {
		t := *r.QualitySampledAt
		c.QualitySampledAt = &t
	}
	return c
}
