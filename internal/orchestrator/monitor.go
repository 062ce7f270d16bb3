// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/cobaltcore-dev/conductor/pkg/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

// Collection of Prometheus metrics to monitor instance compilation.
type Monitor struct {
	// Counter of compiled instance actions by kind and result.
	compilations *prometheus.CounterVec
	// Counter of scheduled tasks by action kind.
	tasks *prometheus.CounterVec
	// Counter of rollbacks by result.
	rollbacks *prometheus.CounterVec
	// A histogram to measure how long compilation takes, by action kind.
	compileTimer *prometheus.HistogramVec
}

// Create a new compiler monitor and register the necessary Prometheus metrics.
func NewMonitor(registry *monitoring.Registry) Monitor {
	compilations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_compilations_total",
		Help: "Total number of compiled instance actions",
	}, []string{"kind", "result"})
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_scheduled_tasks_total",
		Help: "Total number of tasks scheduled for vim and wan workers",
	}, []string{"kind"})
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_rollbacks_total",
		Help: "Total number of rollbacks after failed compilations",
	}, []string{"result"})
	compileTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_compilation_duration_seconds",
		Help:    "Duration of instance action compilation",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	registry.MustRegister(compilations, tasks, rollbacks, compileTimer)
	return Monitor{
		compilations: compilations,
		tasks:        tasks,
		rollbacks:    rollbacks,
		compileTimer: compileTimer,
	}
}

// Start a timer for a compilation of the given kind.
func (m *Monitor) timer(kind string) func() {
	if m.compileTimer == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.compileTimer.WithLabelValues(kind))
	return func() { timer.ObserveDuration() }
}

func (m *Monitor) observeCompilation(kind string, tasks int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	if m.compilations != nil {
		m.compilations.WithLabelValues(kind, result).Inc()
	}
	if m.tasks != nil && err == nil {
		m.tasks.WithLabelValues(kind).Add(float64(tasks))
	}
}

func (m *Monitor) observeRollback(ok bool) {
	if m.rollbacks == nil {
		return
	}
	result := "complete"
	if !ok {
		result = "partial"
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
