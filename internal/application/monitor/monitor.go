// Package monitor tracks coordination performance metrics and raises alerts
// when configured thresholds are breached.
package monitor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Metrics is the prometheus surface for the monitor.
type Metrics struct {
	Latency    prometheus.Gauge
	Memory     prometheus.Gauge
	CPU        prometheus.Gauge
	Custom     *prometheus.GaugeVec
	AlertTotal prometheus.Counter
}

// NewMetrics registers the monitor gauges with reg. A nil registerer gets a
// private registry so the monitor works without a metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Latency: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rhema_coordination_latency_ms",
			Help: "Last reported coordination latency in milliseconds.",
		}),
		Memory: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rhema_coordination_memory_mb",
			Help: "Last reported memory usage in megabytes.",
		}),
		CPU: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rhema_coordination_cpu_percent",
			Help: "Last reported CPU utilization percentage.",
		}),
		Custom: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rhema_coordination_custom_metric",
			Help: "Last reported value of application-defined metrics.",
		}, []string{"metric"}),
		AlertTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rhema_coordination_alerts_total",
			Help: "Total number of performance alerts raised.",
		}),
	}
}

// Monitor stores the latest performance snapshot and the alert history.
type Monitor struct {
	mu sync.RWMutex

	cfg         shared.MonitorConfig
	latest      shared.PerformanceSnapshot
	lastUpdated int64
	alerts      []shared.PerformanceAlert

	metrics *Metrics
	sink    chan shared.PerformanceAlert
	logger  *zap.Logger
}

// New creates a Monitor. reg may be nil.
func New(cfg shared.MonitorConfig, reg prometheus.Registerer, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		alerts:  make([]shared.PerformanceAlert, 0),
		metrics: NewMetrics(reg),
		sink:    make(chan shared.PerformanceAlert, 64),
		logger:  logger,
	}
}

// UpdateMetrics stores a new snapshot, exports it to prometheus, and checks
// the alerting thresholds.
func (m *Monitor) UpdateMetrics(snap shared.PerformanceSnapshot) {
	if snap.Timestamp == 0 {
		snap.Timestamp = shared.Now()
	}

	m.mu.Lock()
	m.latest = snap
	m.lastUpdated = snap.Timestamp
	m.mu.Unlock()

	m.metrics.Latency.Set(snap.LatencyMs)
	m.metrics.Memory.Set(snap.MemoryMB)
	m.metrics.CPU.Set(snap.CPUPercent)
	for name, value := range snap.Custom {
		m.metrics.Custom.WithLabelValues(name).Set(value)
	}

	if !m.cfg.AlertingEnabled {
		return
	}
	m.checkThreshold("latency_ms", snap.LatencyMs, m.cfg.LatencyThresholdMs, snap.Timestamp)
	m.checkThreshold("memory_mb", snap.MemoryMB, m.cfg.MemoryThresholdMB, snap.Timestamp)
	m.checkThreshold("cpu_percent", snap.CPUPercent, m.cfg.CPUThresholdPct, snap.Timestamp)
}

func (m *Monitor) checkThreshold(metric string, value, threshold float64, ts int64) {
	if threshold <= 0 || value <= threshold {
		return
	}

	alert := shared.PerformanceAlert{
		ID:        uuid.NewString(),
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Message:   "threshold exceeded",
		Timestamp: ts,
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if m.cfg.MaxAlerts > 0 && len(m.alerts) > m.cfg.MaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.cfg.MaxAlerts:]
	}
	m.mu.Unlock()

	m.metrics.AlertTotal.Inc()
	m.logger.Warn("performance alert",
		zap.String("metric", metric),
		zap.Float64("value", value),
		zap.Float64("threshold", threshold))

	// Slow consumers must not block metric ingestion.
	select {
	case m.sink <- alert:
	default:
	}
}

// Metrics returns the most recent snapshot and its arrival time.
func (m *Monitor) Metrics() (shared.PerformanceSnapshot, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.latest
	if m.latest.Custom != nil {
		snap.Custom = shared.CloneFloatMap(m.latest.Custom)
	}
	return snap, m.lastUpdated
}

// Alerts returns a copy of the alert history, oldest first.
func (m *Monitor) Alerts() []shared.PerformanceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]shared.PerformanceAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// AlertSink exposes the alert channel. Alerts are dropped when the channel
// is full.
func (m *Monitor) AlertSink() <-chan shared.PerformanceAlert {
	return m.sink
}
