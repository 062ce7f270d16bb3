// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package monitoring provides the prometheus registry shared by all
// components of the service.
package monitoring

import (
	"slices"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/sapcc/go-api-declarations/bininfo"
)

// Registry is a prometheus registry that stamps the configured labels on
// every gathered metric.
type Registry struct {
	*prometheus.Registry
	config conf.MonitoringConfig
	// Label names in stable order.
	labelNames []string
}

// NewRegistry registers the go, process and build info collectors.
func NewRegistry(config conf.MonitoringConfig) *Registry {
	registry := &Registry{
		Registry: prometheus.NewRegistry(),
		config:   config,
	}
	for name := range config.Labels {
		registry.labelNames = append(registry.labelNames, name)
	}
	slices.Sort(registry.labelNames)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(newBuildInfo())
	return registry
}

func newBuildInfo() prometheus.Collector {
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_build_info",
		Help: "Version of the running binary, always 1",
	}, []string{"component", "version"})
	buildInfo.WithLabelValues(bininfo.Component(), bininfo.VersionOr("rolling")).Set(1)
	return buildInfo
}

// Gather adds the configured labels to all metrics. Labels a metric already
// carries are left untouched.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	families, err := r.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, family := range families {
		for _, metric := range family.Metric {
			for _, name := range r.labelNames {
				if hasLabel(metric, name) {
					continue
				}
				value := r.config.Labels[name]
				metric.Label = append(metric.Label, &dto.LabelPair{Name: &name, Value: &value})
			}
		}
	}
	return families, nil
}

func hasLabel(metric *dto.Metric, name string) bool {
	for _, l := range metric.Label {
		if l.GetName() == name {
			return true
		}
	}
	return false
}
