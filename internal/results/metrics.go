package results

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds run metrics in a private registry. They are written as a
// node_exporter textfile at the end of a run.
type Metrics struct {
	registry *prometheus.Registry

	ScenariosTotal   *prometheus.CounterVec
	ScenarioDuration *prometheus.HistogramVec
	InstancesTotal   *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates and registers the harness metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ScenariosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sipharness_scenarios_total",
				Help: "Total number of scenarios run, by result",
			},
			[]string{"result"},
		),
		ScenarioDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sipharness_scenario_duration_seconds",
				Help:    "Scenario run time including teardown",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"result"},
		),
		InstancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sipharness_instances_total",
				Help: "Total number of endpoint instances, by outcome",
			},
			[]string{"outcome"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sipharness_instance_failures_total",
				Help: "Instance failures by kind",
			},
			[]string{"kind"},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sipharness_last_scenario_timestamp_seconds",
				Help: "Unix time the most recent scenario finished",
			},
		),
	}

	m.registry.MustRegister(
		m.ScenariosTotal,
		m.ScenarioDuration,
		m.InstancesTotal,
		m.FailuresTotal,
		m.LastRunTimestamp,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe updates the metrics from one verdict.
func (m *Metrics) Observe(v *Verdict) {
	result := "passed"
	if !v.Passed {
		result = "failed"
	}
	m.ScenariosTotal.WithLabelValues(result).Inc()
	m.ScenarioDuration.WithLabelValues(result).Observe(v.Duration.Seconds())
	for _, r := range v.Instances {
		m.InstancesTotal.WithLabelValues(string(r.Outcome)).Inc()
		if r.Kind != KindNone {
			m.FailuresTotal.WithLabelValues(string(r.Kind)).Inc()
		}
	}
	end := v.StartTime.Add(v.Duration)
	m.LastRunTimestamp.Set(float64(end.UnixNano()) / 1e9)
}

// WriteTextfile writes the metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
