// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"github.com/cobaltcore-dev/conductor/pkg/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
	// Observes how long the queries of a given group take to run.
	queryTimer *prometheus.HistogramVec
}

func NewDBMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_db_connection_attempts_total",
		Help: "Total number of attempts to connect to the database",
	})
	queryTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_db_query_duration_seconds",
		Help:    "Duration of database queries in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"group", "query"})
	registry.MustRegister(connectionAttempts, queryTimer)
	return Monitor{
		connectionAttempts: connectionAttempts,
		queryTimer:         queryTimer,
	}
}
