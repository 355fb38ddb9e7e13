package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/snapshot"
)

const metricsNamespace = "commandstate"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	counter := func(subsystem, name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, value)
	}

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		counter("ws", "connections_total", "Total WebSocket connections accepted since start.", func() float64 {
			return float64(s.wsTotal.Load())
		}),
		counter("ws", "rejected_total", "Total WebSocket connection attempts rejected due to capacity.", func() float64 {
			return float64(s.wsRejected.Load())
		}),
		counter("ws", "messages_sent_total", "Total WebSocket messages sent to clients.", func() float64 {
			return float64(s.wsSent.Load())
		}),
		counter("ws", "messages_dropped_total", "Total WebSocket messages dropped due to backpressure.", func() float64 {
			return float64(s.wsDropped.Load())
		}),
		counter("signals", "delivered_total", "Total signals delivered on behalf of clients.", func() float64 {
			return float64(s.signalsSent.Load())
		}),
		counter("refresh", "captures_total", "Total successful snapshot captures.", func() float64 {
			return float64(s.engine.Stats().Captures)
		}),
		counter("refresh", "failures_total", "Total failed snapshot captures.", func() float64 {
			return float64(s.engine.Stats().Failures)
		}),
		counter("refresh", "dropped_total", "Total refresh requests folded into an in-flight capture.", func() float64 {
			return float64(s.engine.Stats().Dropped)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "refresh",
			Name:      "last_duration_seconds",
			Help:      "Duration of the most recent capture.",
		}, func() float64 {
			return s.engine.Stats().LastDuration.Seconds()
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "refresh",
			Name:      "last_capture_timestamp_seconds",
			Help:      "Unix time the most recent capture attempt started, 0 before the first one.",
		}, func() float64 {
			at := s.engine.Stats().LastCaptureAt
			if at.IsZero() {
				return 0
			}
			return float64(at.UnixNano()) / float64(time.Second)
		}),
		newSnapshotCollector(s.engine),
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	collectors = append(collectors, s.requests)

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// snapshotCollector exports the latest snapshot's system metrics.
type snapshotCollector struct {
	engine  *engine.Engine
	metrics []snapshotMetric
	byState *prometheus.Desc
}

type snapshotMetric struct {
	desc    *prometheus.Desc
	extract func(snap *snapshot.Snapshot) (float64, bool)
}

func newSnapshotCollector(eng *engine.Engine) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "system", name), help, nil, nil)
	}
	always := func(f func(sys snapshot.SystemMetrics) float64) func(*snapshot.Snapshot) (float64, bool) {
		return func(snap *snapshot.Snapshot) (float64, bool) {
			return f(snap.System), true
		}
	}

	return &snapshotCollector{
		engine: eng,
		byState: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "system", "processes"),
			"Processes in the latest snapshot by status.",
			[]string{"status"},
			nil,
		),
		metrics: []snapshotMetric{
			{desc("cpu_percent", "System-wide CPU utilisation percentage."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.CPUPercent })},
			{desc("memory_percent", "Physical memory utilisation percentage."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.MemoryPercent })},
			{desc("swap_percent", "Swap utilisation percentage."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.SwapPercent })},
			{desc("memory_total_bytes", "Physical memory capacity in bytes."),
				always(func(sys snapshot.SystemMetrics) float64 { return float64(sys.MemoryTotalBytes) })},
			{desc("uptime_seconds", "Host uptime in seconds."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.Uptime.Seconds() })},
			{desc("load1", "One minute load average."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.Load1 })},
			{desc("load5", "Five minute load average."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.Load5 })},
			{desc("load15", "Fifteen minute load average."),
				always(func(sys snapshot.SystemMetrics) float64 { return sys.Load15 })},
			{desc("snapshot_age_seconds", "Seconds elapsed since the latest snapshot was captured."),
				func(snap *snapshot.Snapshot) (float64, bool) {
					if snap.Timestamp.IsZero() {
						return 0, false
					}
					return max(time.Since(snap.Timestamp).Seconds(), 0), true
				}},
		},
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
	ch <- c.byState
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Latest()
	if snap == nil {
		return
	}
	for _, metric := range c.metrics {
		value, ok := metric.extract(snap)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value)
	}

	counts := make(map[snapshot.Status]int)
	for _, proc := range snap.Processes {
		counts[proc.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.byState, prometheus.GaugeValue, float64(n), string(status))
	}
}
