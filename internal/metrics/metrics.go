// Package metrics provides Prometheus collectors for the broadcast services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricPublishAttempts     = "broadcast_publish_attempts_total"
	MetricStreamTransitions   = "broadcast_stream_transitions_total"
	MetricViewerJoins         = "broadcast_viewer_joins_total"
	MetricViewerLeaves        = "broadcast_viewer_leaves_total"
	MetricViewersReaped       = "broadcast_viewers_reaped_total"
	MetricActiveViewers       = "broadcast_active_viewers"
	MetricFanoutPublished     = "broadcast_fanout_events_total"
	MetricFanoutDropped       = "broadcast_fanout_dropped_total"
	MetricNotifications       = "broadcast_notifications_total"
	MetricAnalyticsUpserts    = "broadcast_analytics_upserts_total"
	MetricRecordingUploads    = "broadcast_recording_uploads_total"
	MetricRecordingUploadTime = "broadcast_recording_upload_seconds"
)

// Metrics contains Prometheus metrics for the broadcast subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	publishAttempts     *prometheus.CounterVec
	streamTransitions   *prometheus.CounterVec
	viewerJoins         prometheus.Counter
	viewerLeaves        prometheus.Counter
	viewersReaped       prometheus.Counter
	activeViewers       prometheus.Gauge
	fanoutPublished     *prometheus.CounterVec
	fanoutDropped       *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	analyticsUpserts    prometheus.Counter
	recordingUploads    *prometheus.CounterVec
	recordingUploadTime prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPublishAttempts,
			Help: "Publish authorization attempts by result",
		}, []string{"result"}),
		streamTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStreamTransitions,
			Help: "Stream lifecycle transitions by target status",
		}, []string{"to"}),
		viewerJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewerJoins,
			Help: "Total number of viewer join events",
		}),
		viewerLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewerLeaves,
			Help: "Total number of viewer sessions closed",
		}),
		viewersReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewersReaped,
			Help: "Viewer sessions force-closed after the idle window",
		}),
		activeViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActiveViewers,
			Help: "Viewer sessions currently counted on this instance",
		}),
		fanoutPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFanoutPublished,
			Help: "Real-time events published by type",
		}, []string{"type"}),
		fanoutDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFanoutDropped,
			Help: "Real-time events dropped for a slow subscriber, by type",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNotifications,
			Help: "Notification dispatch outcomes by kind and result",
		}, []string{"kind", "result"}),
		analyticsUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAnalyticsUpserts,
			Help: "Hourly analytics upserts applied",
		}),
		recordingUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecordingUploads,
			Help: "Recording upload jobs by result",
		}, []string{"result"}),
		recordingUploadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRecordingUploadTime,
			Help:    "Duration of recording uploads to object storage in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.publishAttempts,
		m.streamTransitions,
		m.viewerJoins,
		m.viewerLeaves,
		m.viewersReaped,
		m.activeViewers,
		m.fanoutPublished,
		m.fanoutDropped,
		m.notifications,
		m.analyticsUpserts,
		m.recordingUploads,
		m.recordingUploadTime,
	}
}

// IncPublishAttempt records a publish authorization outcome ("accepted", "rejected", "pipeline_error").
func (m *Metrics) IncPublishAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// IncTransition records a lifecycle transition into status to.
func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.streamTransitions.WithLabelValues(to).Inc()
}

// IncViewerJoins increments the joins counter and the active gauge.
func (m *Metrics) IncViewerJoins() {
	if m == nil {
		return
	}
	m.viewerJoins.Inc()
	m.activeViewers.Inc()
}

// IncViewerLeaves increments the leaves counter and decrements the active gauge.
func (m *Metrics) IncViewerLeaves(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.viewerLeaves.Add(float64(n))
	m.activeViewers.Sub(float64(n))
}

// IncViewersReaped counts sessions closed by the idle reaper.
func (m *Metrics) IncViewersReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.viewersReaped.Add(float64(n))
}

// IncFanoutPublished counts a published real-time event.
func (m *Metrics) IncFanoutPublished(eventType string) {
	if m == nil {
		return
	}
	m.fanoutPublished.WithLabelValues(eventType).Inc()
}

// IncFanoutDropped counts an event not delivered to a full subscriber buffer.
func (m *Metrics) IncFanoutDropped(eventType string) {
	if m == nil {
		return
	}
	m.fanoutDropped.WithLabelValues(eventType).Inc()
}

// IncNotification records a notification outcome ("sent", "failed", "duplicate").
func (m *Metrics) IncNotification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// IncAnalyticsUpserts counts an applied analytics delta.
func (m *Metrics) IncAnalyticsUpserts() {
	if m == nil {
		return
	}
	m.analyticsUpserts.Inc()
}

// ObserveRecordingUpload records an upload result and its duration.
func (m *Metrics) ObserveRecordingUpload(result string, seconds float64) {
	if m == nil {
		return
	}
	m.recordingUploads.WithLabelValues(result).Inc()
	if result == "success" {
		m.recordingUploadTime.Observe(seconds)
	}
}
