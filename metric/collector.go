// Package metric provides in-process metric collection, tiered retention,
// aggregation, and a small PromQL-style query surface, plus a bridge that
// exposes collected metrics to a Prometheus scrape.
package metric

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type classifies a registered metric.
type Type string

const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
	TypeSummary   Type = "summary"
)

// Point is one observation of a metric.
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// DefaultBufferLimit bounds the points retained per metric in the collector.
const DefaultBufferLimit = 10000

type series struct {
	name   string
	typ    Type
	help   string
	points []Point
}

// Collector registers typed metrics and buffers their observations. It also
// maintains a label index (key to value to metric names) so query filters can
// find candidate metrics without scanning every series.
type Collector struct {
	mu          sync.RWMutex
	metrics     map[string]*series
	labelIndex  map[string]map[string]map[string]struct{}
	bufferLimit int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		metrics:     make(map[string]*series),
		labelIndex:  make(map[string]map[string]map[string]struct{}),
		bufferLimit: DefaultBufferLimit,
	}
}

// SetBufferLimit changes the per-metric point bound. Values below 1 are
// ignored.
func (c *Collector) SetBufferLimit(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.bufferLimit = n
	c.mu.Unlock()
}

// Register declares a metric before its first observation. Registering an
// existing name with a different type is an error; re-registering with the
// same type is a no-op.
func (c *Collector) Register(name string, typ Type, help string) error {
	switch typ {
	case TypeCounter, TypeGauge, TypeHistogram, TypeSummary:
	default:
		return fmt.Errorf("metric %s: unknown type %q", name, typ)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.metrics[name]; ok {
		if existing.typ != typ {
			return fmt.Errorf("metric %s already registered as %s", name, existing.typ)
		}
		return nil
	}
	c.metrics[name] = &series{name: name, typ: typ, help: help}
	return nil
}

// Record appends an observation. The metric must be registered. Counters
// reject negative values.
func (c *Collector) Record(name string, value float64, labels map[string]string) error {
	return c.RecordAt(name, value, labels, time.Now().UTC())
}

// RecordAt appends an observation with an explicit timestamp.
func (c *Collector) RecordAt(name string, value float64, labels map[string]string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.metrics[name]
	if !ok {
		return fmt.Errorf("metric %s not registered", name)
	}
	if s.typ == TypeCounter && value < 0 {
		return fmt.Errorf("metric %s: counter observation below zero", name)
	}
	s.points = append(s.points, Point{Timestamp: at, Value: value, Labels: labels})
	if len(s.points) > c.bufferLimit {
		s.points = s.points[len(s.points)-c.bufferLimit:]
	}
	for k, v := range labels {
		values, ok := c.labelIndex[k]
		if !ok {
			values = make(map[string]map[string]struct{})
			c.labelIndex[k] = values
		}
		names, ok := values[v]
		if !ok {
			names = make(map[string]struct{})
			values[v] = names
		}
		names[name] = struct{}{}
	}
	return nil
}

// Points returns a copy of the retained observations for a metric.
func (c *Collector) Points(name string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.metrics[name]
	if !ok {
		return nil
	}
	return append([]Point(nil), s.points...)
}

// Type returns the registered type of a metric, or "" when unknown.
func (c *Collector) Type(name string) Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.metrics[name]; ok {
		return s.typ
	}
	return ""
}

// Help returns the registered help text of a metric.
func (c *Collector) Help(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.metrics[name]; ok {
		return s.help
	}
	return ""
}

// Names returns the registered metric names, sorted.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MetricsWithLabel returns the names of metrics that have recorded at least
// one point carrying the given label pair, sorted.
func (c *Collector) MetricsWithLabel(key, value string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.labelIndex[key][value]
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LabelValues returns the observed values of a label key, sorted.
func (c *Collector) LabelValues(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.labelIndex[key]))
	for v := range c.labelIndex[key] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
