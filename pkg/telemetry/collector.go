// Package telemetry exposes run statistics as Prometheus metrics, written to
// a textfile for the node exporter textfile collector after each run.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"mrivolumes/pkg/reconstruction"
)

const namespace = "mrivolumes"

// Collector accumulates the metrics of one process. It implements
// reconstruction.Recorder.
type Collector struct {
	registry *prometheus.Registry

	groups       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	volumes      *prometheus.CounterVec
	bytesWritten prometheus.Counter
	duration     *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_total",
			Help:      "Series processed by the converter, by outcome.",
		}, []string{"status"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Slice files left out of a volume, by failure kind.",
		}, []string{"kind"}),
		volumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volumes_total",
			Help:      "Volumes handled by the batch transforms, by command and outcome.",
		}, []string{"command", "status"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes of volume files written.",
		}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}, []string{"command"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last run finished.",
		}, []string{"command"}),
	}
	c.registry.MustRegister(c.groups, c.skipped, c.volumes, c.bytesWritten, c.duration, c.lastRun)
	return c
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordGroup counts the outcome of one series.
func (c *Collector) RecordGroup(result reconstruction.GroupResult) error {
	c.groups.WithLabelValues(result.Status()).Inc()
	if n := len(result.Dropped); n > 0 {
		c.skipped.WithLabelValues("decode").Add(float64(n))
	}
	if result.Bytes > 0 {
		c.bytesWritten.Add(float64(result.Bytes))
	}
	return nil
}

// ObserveConversion records the discovery skips and timing of a convert run.
// Per-series counts come through RecordGroup.
func (c *Collector) ObserveConversion(summary *reconstruction.Summary) {
	if n := len(summary.Skipped); n > 0 {
		c.skipped.WithLabelValues("header_read").Add(float64(n))
	}
	c.duration.WithLabelValues("convert").Set(summary.Duration.Seconds())
	c.lastRun.WithLabelValues("convert").SetToCurrentTime()
}

// ObserveBatch records the outcome of a resample or resize run.
func (c *Collector) ObserveBatch(command string, summary *reconstruction.BatchSummary, seconds float64) {
	for _, r := range summary.Results {
		status := "ok"
		switch {
		case r.Skipped:
			status = "skipped"
		case r.Err != nil:
			status = "failed"
		default:
			c.bytesWritten.Add(float64(r.Bytes))
		}
		c.volumes.WithLabelValues(command, status).Inc()
	}
	c.duration.WithLabelValues(command).Set(seconds)
	c.lastRun.WithLabelValues(command).SetToCurrentTime()
}

// WriteTextfile writes the metrics in the text exposition format. The file
// is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
