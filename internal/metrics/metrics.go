// Package metrics exposes per-queue prometheus collectors.
package metrics

import (
	stdErrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const namespace = "persistq"

// Metrics holds the collectors of one open queue. Every collector carries a constant
// "queue" label so several queues can share a registry.
type Metrics struct {
	RecordsWritten     prometheus.Counter
	BytesWritten       prometheus.Counter
	RecordsPopped      prometheus.Counter
	BytesPopped        prometheus.Counter
	EmptyPops          prometheus.Counter
	SegmentsCreated    prometheus.Counter
	SegmentsReclaimed  prometheus.Counter
	Syncs              *prometheus.CounterVec
	SyncDuration       prometheus.Histogram
	LiveSegments       prometheus.Gauge
	OutstandingCursors prometheus.Gauge

	registerer prometheus.Registerer
}

// New builds the collectors for queue. They are not registered.
func New(queue string) *Metrics {
	labels := prometheus.Labels{"queue": queue}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Metrics{
		RecordsWritten:    counter("records_written_total", "Total records appended to the queue."),
		BytesWritten:      counter("bytes_written_total", "Total payload bytes appended to the queue."),
		RecordsPopped:     counter("records_popped_total", "Total records popped from the queue."),
		BytesPopped:       counter("bytes_popped_total", "Total payload bytes popped from the queue."),
		EmptyPops:         counter("empty_pops_total", "Total pops that found the queue empty."),
		SegmentsCreated:   counter("segments_created_total", "Total segment files created."),
		SegmentsReclaimed: counter("segments_reclaimed_total", "Total drained segment files deleted."),
		Syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "syncs_total",
				Help:        "Total syncs by mode.",
				ConstLabels: labels,
			},
			[]string{"mode"},
		),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "sync_duration_seconds",
			Help:        "Sync latency in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		LiveSegments:       gauge("live_segments", "Segments currently holding unconsumed records."),
		OutstandingCursors: gauge("outstanding_cursors", "Popped records whose cursor has not been released."),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsWritten,
		m.BytesWritten,
		m.RecordsPopped,
		m.BytesPopped,
		m.EmptyPops,
		m.SegmentsCreated,
		m.SegmentsReclaimed,
		m.Syncs,
		m.SyncDuration,
		m.LiveSegments,
		m.OutstandingCursors,
	}
}

// Register adds every collector to r. A nil registerer is a no-op. Collectors registered
// before a failure are removed again.
func (m *Metrics) Register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}

	for i, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if stdErrors.As(err, &are) {
				err = multierr.Append(err, stdErrors.New("a queue with the same name is already registered"))
			}

			for _, done := range m.collectors()[:i] {
				r.Unregister(done)
			}
			return err
		}
	}

	m.registerer = r
	return nil
}

// Unregister removes the collectors from the registerer they were added to.
func (m *Metrics) Unregister() {
	if m.registerer == nil {
		return
	}

	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
	m.registerer = nil
}

// ObserveSync records one completed sync.
func (m *Metrics) ObserveSync(mode string, started time.Time) {
	m.Syncs.WithLabelValues(mode).Inc()
	m.SyncDuration.Observe(time.Since(started).Seconds())
}
