// Package metrics exposes offline storage state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	registry         *prometheus.Registry
	offlineCollector *OfflineCollector
}

func NewManager(source Source, logger *logrus.Logger) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	offlineCollector := NewOfflineCollector(source)
	registry.MustRegister(offlineCollector)

	if logger != nil {
		logger.Info("metrics manager initialized with offline collector")
	}

	return &Manager{
		registry:         registry,
		offlineCollector: offlineCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
