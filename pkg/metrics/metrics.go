package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "usb_flasher"

// Metrics holds the collectors of one flasher process. All methods are safe
// on a nil receiver so callers can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	jobs          *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	bytesWritten  prometheus.Counter
	stageDuration *prometheus.HistogramVec
	drives        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Number of finished flash jobs",
			},
			[]string{"kind", "result"},
		),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of flash jobs in progress",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_bytes_written_total",
			Help:      "Bytes written to raw devices",
		}),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each flash stage",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"kind", "stage"},
		),
		drives: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usb_drives",
			Help:      "USB drives seen by the last enumeration",
		}),
	}
	m.Registry.MustRegister(
		m.jobs,
		m.activeJobs,
		m.bytesWritten,
		m.stageDuration,
		m.drives,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) JobFinished(kind, result string) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobs.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AddBytesWritten(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) ObserveStage(kind, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(kind, stage).Observe(d.Seconds())
}

func (m *Metrics) SetDrives(n int) {
	if m == nil {
		return
	}
	m.drives.Set(float64(n))
}
