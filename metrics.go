package shufflemeta

import "github.com/prometheus/client_golang/prometheus"

// RegistryCollector exposes a Registry's occupancy as prometheus
// gauges. Register it with any prometheus.Registerer; collection takes
// the registry read lock briefly and never touches status contents.
type RegistryCollector struct {
	reg *Registry

	shufflesDesc *prometheus.Desc
	statusesDesc *prometheus.Desc
}

var _ prometheus.Collector = (*RegistryCollector)(nil)

// NewRegistryCollector wraps a registry for metric scraping.
func NewRegistryCollector(reg *Registry) *RegistryCollector {
	return &RegistryCollector{
		reg: reg,
		shufflesDesc: prometheus.NewDesc(
			"shufflemeta_registered_shuffles",
			"Number of shuffles currently registered.",
			nil, nil,
		),
		statusesDesc: prometheus.NewDesc(
			"shufflemeta_registered_statuses",
			"Total map output statuses held across all registered shuffles.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.shufflesDesc
	ch <- c.statusesDesc
}

// Collect implements prometheus.Collector.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	shuffles, statuses := c.reg.counts()
	ch <- prometheus.MustNewConstMetric(c.shufflesDesc, prometheus.GaugeValue, float64(shuffles))
	ch <- prometheus.MustNewConstMetric(c.statusesDesc, prometheus.GaugeValue, float64(statuses))
}
