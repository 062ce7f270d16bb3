// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/cobaltcore-dev/conductor/pkg/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
	publishes          *prometheus.CounterVec
}

func NewMQTTMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_mqtt_connection_attempts_total",
		Help: "Total number of attempts to connect to the MQTT broker",
	})
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_mqtt_publishes_total",
		Help: "Total number of messages published to the MQTT broker",
	}, []string{"topic", "result"})
	registry.MustRegister(connectionAttempts, publishes)
	return Monitor{
		connectionAttempts: connectionAttempts,
		publishes:          publishes,
	}
}
