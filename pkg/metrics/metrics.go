// Package metrics records device lifecycle events as Prometheus collectors on
// a private registry. Test runs are short-lived, so the registry is dumped
// to a node-exporter textfile instead of being scraped.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder owns the collectors.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	artifacts   *prometheus.CounterVec
	copies      prometheus.Counter
	setup       prometheus.Histogram
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicelab_device_transitions_total",
				Help: "Device start/stop/restart attempts by outcome",
			},
			[]string{"op", "result"},
		),
		artifacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicelab_artifacts_total",
				Help: "Diagnostic artifact captures by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		copies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicelab_deploy_copies_total",
			Help: "Numbered on-device file copies produced by deployments",
		}),
		setup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devicelab_setup_duration_seconds",
			Help:    "Test setup duration, including any device reset",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	r.registry.MustRegister(r.transitions, r.artifacts, r.copies, r.setup)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Transition counts one device transition attempt.
func (r *Recorder) Transition(op string, err error) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(op, result(err)).Inc()
}

// Artifact counts one diagnostic capture attempt.
func (r *Recorder) Artifact(kind string, err error) {
	if r == nil {
		return
	}
	r.artifacts.WithLabelValues(kind, result(err)).Inc()
}

// Copy counts one numbered deploy copy.
func (r *Recorder) Copy() {
	if r == nil {
		return
	}
	r.copies.Inc()
}

// Setup observes a setup duration.
func (r *Recorder) Setup(d time.Duration) {
	if r == nil {
		return
	}
	r.setup.Observe(d.Seconds())
}

// WriteFile writes the registry in text exposition format to path.
func (r *Recorder) WriteFile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
