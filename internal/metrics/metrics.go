// Package metrics holds the Prometheus collectors for classification runs.
//
// A batch run writes the registry to a node-exporter textfile when it
// finishes; a long-running process can serve it over HTTP instead.
package metrics

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/ancillary"
	"github.com/chesapeake-lu/landuse/internal/cascade"
)

const namespace = "landuse"

// Bucket layouts.
const (
	bucketStart10ms = 0.01
	bucketStart1s   = 1
	bucketFactor2   = 2
	bucketCount14   = 14
)

// Metrics implements cascade.Observer and records per-county outcomes.
type Metrics struct {
	registry *prometheus.Registry

	ruleDuration *prometheus.HistogramVec
	ruleOutcomes *prometheus.CounterVec
	ruleAssigned *prometheus.CounterVec

	countyDuration     *prometheus.HistogramVec
	countyRows         *prometheus.GaugeVec
	countyUnclassified *prometheus.GaugeVec
	countyOutcomes     *prometheus.CounterVec

	ancillaryCache *prometheus.GaugeVec
	processRSS     prometheus.Gauge
	poolRunning    prometheus.Gauge
}

var _ cascade.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a fresh registry.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on registry.
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, eris.Wrap(err, "metrics: register")
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.ruleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_duration_seconds",
			Help:      "Time spent evaluating and applying one cascade rule",
			Buckets:   prometheus.ExponentialBuckets(bucketStart10ms, bucketFactor2, bucketCount14), // 10ms to ~80s
		},
		[]string{"step", "rule", "kind"},
	)
	m.ruleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_outcomes_total",
			Help:      "Cascade rule executions by status",
		},
		[]string{"rule", "status"}, // status: ok, skipped, failed, timeout
	)
	m.ruleAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_assigned_total",
			Help:      "Rows labelled by each cascade rule",
		},
		[]string{"rule"},
	)

	m.countyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "county_duration_seconds",
			Help:      "Wall time of a full county run",
			Buckets:   prometheus.ExponentialBuckets(bucketStart1s, bucketFactor2, bucketCount14), // 1s to ~4.5h
		},
		[]string{"status"},
	)
	m.countyRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "county_rows",
			Help:      "Pseg rows classified in the last run of a county",
		},
		[]string{"county"},
	)
	m.countyUnclassified = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "county_unclassified_before_catch_all_ratio",
			Help:      "Fraction of rows left for the catch-all rule",
		},
		[]string{"county"},
	)
	m.countyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "county_runs_total",
			Help:      "County runs by status",
		},
		[]string{"status"}, // status: success, error
	)

	m.ancillaryCache = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ancillary_cache",
			Help:      "Ancillary resolver cache counters",
		},
		[]string{"counter"}, // counter: hits, misses, loads
	)
	m.processRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_resident_bytes",
		Help:      "Resident set size sampled after each county",
	})
	m.poolRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workpool_running",
		Help:      "Busy workers when last sampled",
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ruleDuration, m.ruleOutcomes, m.ruleAssigned,
		m.countyDuration, m.countyRows, m.countyUnclassified, m.countyOutcomes,
		m.ancillaryCache, m.processRSS, m.poolRunning,
	}
}

// ObserveRule records one rule result.
func (m *Metrics) ObserveRule(_ string, res cascade.RuleResult) {
	m.ruleDuration.WithLabelValues(strconv.Itoa(res.Step), res.Name, res.Kind.String()).Observe(res.Duration.Seconds())
	m.ruleOutcomes.WithLabelValues(res.Name, string(res.Status)).Inc()
	if res.Assigned > 0 {
		m.ruleAssigned.WithLabelValues(res.Name).Add(float64(res.Assigned))
	}
}

// ObserveCounty records a finished county. rep may be nil when the run
// failed before the cascade.
func (m *Metrics) ObserveCounty(county string, rep *cascade.Report, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.countyDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.countyOutcomes.WithLabelValues(status).Inc()
	if rep != nil {
		m.countyRows.WithLabelValues(county).Set(float64(rep.Rows))
		m.countyUnclassified.WithLabelValues(county).Set(rep.UnclassifiedFraction())
	}
}

// ObserveAncillary copies the resolver's cache counters.
func (m *Metrics) ObserveAncillary(s ancillary.Stats) {
	m.ancillaryCache.WithLabelValues("hits").Set(float64(s.Hits))
	m.ancillaryCache.WithLabelValues("misses").Set(float64(s.Misses))
	m.ancillaryCache.WithLabelValues("loads").Set(float64(s.Loads))
}

// ObservePool records the busy worker count.
func (m *Metrics) ObservePool(running int) {
	m.poolRunning.Set(float64(running))
}

// SampleProcess records the current process RSS. Failures are logged and
// leave the gauge unchanged.
func (m *Metrics) SampleProcess() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		zap.L().Debug("metrics: process handle unavailable", zap.Error(err))
		return
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		zap.L().Debug("metrics: memory info unavailable", zap.Error(err))
		return
	}
	m.processRSS.Set(float64(mem.RSS))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers mounts the handler at /metrics.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}

// WriteTextfile writes the registry for the node-exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
