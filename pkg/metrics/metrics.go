// Package metrics exposes the progress of conversion runs as Prometheus
// metrics.
//
// A Collector registers its metrics in a caller-supplied registry, so tests
// and embedding programs can keep runs isolated from the global default
// registry. A nil *Collector is valid and records nothing.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewCollector(reg)
//
//	m.RowsRead(len(batch))
//	timer := metrics.NewTimer()
//	coerce(batch)
//	m.BatchCoerced(timer.Stop())
//
// The CLI serves the registry on /metrics with promhttp while a run is in
// progress.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sheetpipe"

// Outcomes recorded by Done.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Collector holds the metrics of conversion runs.
type Collector struct {
	rowsRead        prometheus.Counter
	rowsSkipped     prometheus.Counter
	rowsWritten     prometheus.Counter
	batchesCoerced  prometheus.Counter
	rowGroups       prometheus.Counter
	warnings        *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	reorderPending  prometheus.Gauge
	throughput      prometheus.Gauge
	coerceLatency   prometheus.Histogram
	rowGroupLatency prometheus.Histogram
	runDuration     *prometheus.HistogramVec
}

// NewCollector creates the run metrics and registers them with reg.
// Registering twice with the same registry panics, as with promauto.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		rowsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Rows read from source sheets, including skipped rows",
		}),
		rowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Leading rows discarded by skip_rows",
		}),
		rowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to output row groups",
		}),
		batchesCoerced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_coerced_total",
			Help:      "Batches converted to typed columns",
		}),
		rowGroups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_groups_written_total",
			Help:      "Row groups written to output files",
		}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal conversion warnings by kind",
		}, []string{"kind"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "work_queue_depth",
			Help:      "Batches waiting for a coercion worker",
		}),
		reorderPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reorder_buffer_batches",
			Help:      "Coerced batches held back waiting for an earlier batch",
		}),
		throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_rows_per_second",
			Help:      "Rows written per second over the last reporting window",
		}),
		coerceLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_coerce_seconds",
			Help:      "Time to coerce one batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		rowGroupLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "row_group_write_seconds",
			Help:      "Time to encode and write one row group",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of conversion runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"outcome"}),
	}
}

// RowsRead counts rows pulled from the source.
func (c *Collector) RowsRead(n int) {
	if c != nil {
		c.rowsRead.Add(float64(n))
	}
}

// RowsSkipped counts rows discarded before the data.
func (c *Collector) RowsSkipped(n int) {
	if c != nil {
		c.rowsSkipped.Add(float64(n))
	}
}

// BatchCoerced records one coerced batch.
func (c *Collector) BatchCoerced(took time.Duration) {
	if c != nil {
		c.batchesCoerced.Inc()
		c.coerceLatency.Observe(took.Seconds())
	}
}

// RowGroupWritten records one flushed row group.
func (c *Collector) RowGroupWritten(rows int, took time.Duration) {
	if c != nil {
		c.rowGroups.Inc()
		c.rowsWritten.Add(float64(rows))
		c.rowGroupLatency.Observe(took.Seconds())
	}
}

// Warning counts one warning of the given kind.
func (c *Collector) Warning(kind string) {
	if c != nil {
		c.warnings.WithLabelValues(kind).Inc()
	}
}

// QueueDepth sets the number of batches waiting for a worker.
func (c *Collector) QueueDepth(n int) {
	if c != nil {
		c.queueDepth.Set(float64(n))
	}
}

// ReorderPending sets the number of batches held in the reorder buffer.
func (c *Collector) ReorderPending(n int) {
	if c != nil {
		c.reorderPending.Set(float64(n))
	}
}

// Done records the duration and outcome of a run.
func (c *Collector) Done(outcome string, took time.Duration) {
	if c != nil {
		c.runDuration.WithLabelValues(outcome).Observe(took.Seconds())
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over time windows and reports
// it to a Collector. Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	collector *Collector
}

// NewThroughputTracker creates a tracker reporting to c, which may be nil.
func NewThroughputTracker(c *Collector) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		collector: c,
	}
}

// Increment adds n to the row count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput since the last call, updates the
// gauge, resets the counter and returns the throughput.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	if t.collector != nil {
		t.collector.throughput.Set(throughput)
	}
	return throughput
}
