package metric

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Bridge exposes a Collector's metrics to a Prometheus scrape. It reports
// the latest observed value per metric and label set; counters export as
// Prometheus counters, everything else as gauges.
//
// Register it on a prometheus.Registry:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metric.NewBridge(collector))
type Bridge struct {
	collector *Collector
}

// NewBridge wraps a collector for scraping.
func NewBridge(c *Collector) *Bridge {
	return &Bridge{collector: c}
}

// Describe implements prometheus.Collector. The metric set is dynamic, so
// the bridge is an unchecked collector and sends no descriptors.
func (b *Bridge) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (b *Bridge) Collect(ch chan<- prometheus.Metric) {
	for _, name := range b.collector.Names() {
		points := b.collector.Points(name)
		if len(points) == 0 {
			continue
		}
		valueType := prometheus.GaugeValue
		if b.collector.Type(name) == TypeCounter {
			valueType = prometheus.CounterValue
		}
		for key, p := range latestByLabelSet(points) {
			keys, values := splitLabels(key, p.Labels)
			desc := prometheus.NewDesc(name, b.collector.Help(name), keys, nil)
			m, err := prometheus.NewConstMetric(desc, valueType, p.Value, values...)
			if err != nil {
				continue
			}
			ch <- m
		}
	}
}

// latestByLabelSet keeps the newest point per distinct label combination.
func latestByLabelSet(points []Point) map[string]Point {
	out := make(map[string]Point)
	for _, p := range points {
		key := labelKey(p.Labels)
		if prev, ok := out[key]; !ok || p.Timestamp.After(prev.Timestamp) {
			out[key] = p
		}
	}
	return out
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb []byte
	for _, k := range keys {
		sb = append(sb, k...)
		sb = append(sb, '=')
		sb = append(sb, labels[k]...)
		sb = append(sb, ',')
	}
	return string(sb)
}

func splitLabels(_ string, labels map[string]string) (keys, values []string) {
	keys = make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}
