// Package metrics records run statistics in a Prometheus registry and writes
// them for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dnscacher"

// Metrics holds the collectors of one process. Each Metrics has its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	lookups   *prometheus.CounterVec
	domains   prometheus.Gauge
	ips       prometheus.Gauge
	reconcile *prometheus.GaugeVec
	duration  prometheus.Gauge
	lastRun   prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Domain lookups by outcome",
			},
			[]string{"result"},
		),
		domains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domains",
			Help:      "Domains in the stored mapping",
		}),
		ips: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ips",
			Help:      "Distinct addresses in the stored mapping",
		}),
		reconcile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "domains",
				Help:      "Domains handled by the last run by kind",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Wall time of the last run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	m.registry.MustRegister(m.lookups, m.domains, m.ips, m.reconcile, m.duration, m.lastRun)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveLookups adds lookup outcomes.
func (m *Metrics) ObserveLookups(resolved, empty, failed int64) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("resolved").Add(float64(resolved))
	m.lookups.WithLabelValues("empty").Add(float64(empty))
	m.lookups.WithLabelValues("failed").Add(float64(failed))
}

// ObserveMapping records the size of the stored mapping.
func (m *Metrics) ObserveMapping(domains, ips int) {
	if m == nil {
		return
	}
	m.domains.Set(float64(domains))
	m.ips.Set(float64(ips))
}

// ObserveRun records the plan sizes and duration of a finished run.
func (m *Metrics) ObserveRun(newDomains, refreshed, stale int, took time.Duration, now time.Time) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues("new").Set(float64(newDomains))
	m.reconcile.WithLabelValues("refreshed").Set(float64(refreshed))
	m.reconcile.WithLabelValues("stale").Set(float64(stale))
	m.duration.Set(took.Seconds())
	m.lastRun.Set(float64(now.Unix()))
}

// WriteTextfile writes every metric to path in the text exposition format.
// An empty path does nothing.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
