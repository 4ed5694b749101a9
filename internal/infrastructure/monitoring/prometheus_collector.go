package monitoring

import (
	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	// Counters
	notificationsTotal  *prometheus.CounterVec
	joinsTotal          *prometheus.CounterVec
	directivesTotal     *prometheus.CounterVec
	captureFailures     *prometheus.CounterVec
	capFailuresTotal    prometheus.Counter
	streamsOpenedTotal  *prometheus.CounterVec

	// Gauges
	streamsActive *prometheus.GaugeVec
	connected     prometheus.Gauge

	// Histograms
	appliedCapBps prometheus.Histogram
}

// NewPrometheusCollector registers the session metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrite_notifications_total",
			Help: "Notifications shown to the user, by level",
		}, []string{"level"}),

		joinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrite_join_events_total",
			Help: "Joined events received from the server, by kind",
		}, []string{"kind"}),

		directivesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrite_directives_total",
			Help: "User messages received, by kind and privilege",
		}, []string{"kind", "privileged"}),

		captureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrite_capture_failures_total",
			Help: "Failed media acquisitions, by source",
		}, []string{"source"}),

		capFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyrite_bandwidth_cap_failures_total",
			Help: "Sender parameter commits rejected by the transport",
		}),

		streamsOpenedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrite_streams_opened_total",
			Help: "Streams registered, by direction and kind",
		}, []string{"direction", "kind"}),

		streamsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pyrite_streams_active",
			Help: "Streams currently registered, by direction and kind",
		}, []string{"direction", "kind"}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pyrite_connected",
			Help: "1 while the signaling connection is open",
		}),

		appliedCapBps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyrite_bandwidth_cap_bps",
			Help:    "Bitrate caps applied to video senders",
			Buckets: []float64{100000, 200000, 500000, 700000, 1000000, 2000000, 5000000},
		}),
	}
}

func (p *PrometheusCollector) RecordNotification(level domain.NotificationLevel) {
	p.notificationsTotal.WithLabelValues(string(level)).Inc()
}

func (p *PrometheusCollector) RecordStreamOpened(direction domain.Direction, kind domain.KindName) {
	p.streamsOpenedTotal.WithLabelValues(string(direction), string(kind)).Inc()
	p.streamsActive.WithLabelValues(string(direction), string(kind)).Inc()
}

func (p *PrometheusCollector) RecordStreamClosed(direction domain.Direction, kind domain.KindName) {
	p.streamsActive.WithLabelValues(string(direction), string(kind)).Dec()
}

// RecordCapApplied ignores zero, which means uncapped.
func (p *PrometheusCollector) RecordCapApplied(bps uint64) {
	if bps == 0 {
		return
	}
	p.appliedCapBps.Observe(float64(bps))
}

func (p *PrometheusCollector) RecordCapFailure() {
	p.capFailuresTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionState(connected bool) {
	if connected {
		p.connected.Set(1)
	} else {
		p.connected.Set(0)
	}
}

func (p *PrometheusCollector) RecordJoin(kind domain.JoinKind) {
	p.joinsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordDirective(kind domain.DirectiveKind, privileged bool) {
	label := "false"
	if privileged {
		label = "true"
	}
	p.directivesTotal.WithLabelValues(kind.String(), label).Inc()
}

func (p *PrometheusCollector) RecordCaptureFailure(source string) {
	p.captureFailures.WithLabelValues(source).Inc()
}
