// Package promstats exposes stats.Tracker metrics with Prometheus.
package promstats

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bool64/stats"
	"github.com/prometheus/client_golang/prometheus"
)

var _ stats.Tracker = &Tracker{}

// Tracker registers Prometheus collectors lazily on first use of a metric name.
//
// Counters are exposed with "_total" suffix.
//
// Metric names and label sets are expected to be stable, a metric that
// conflicts with already registered collector is skipped.
type Tracker struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// New creates tracker that registers collectors in reg.
func New(reg prometheus.Registerer) *Tracker {
	return &Tracker{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Add increments counter.
func (t *Tracker) Add(_ context.Context, name string, increment float64, labelsAndValues ...string) {
	if increment < 0 {
		return
	}

	labels, values := split(labelsAndValues)

	c := t.counter(name, labels)
	if c == nil {
		return
	}

	if cc, err := c.GetMetricWithLabelValues(values...); err == nil {
		cc.Add(increment)
	}
}

// Set sets gauge value.
func (t *Tracker) Set(_ context.Context, name string, absolute float64, labelsAndValues ...string) {
	labels, values := split(labelsAndValues)

	g := t.gauge(name, labels)
	if g == nil {
		return
	}

	if gg, err := g.GetMetricWithLabelValues(values...); err == nil {
		gg.Set(absolute)
	}
}

func (t *Tracker) counter(name string, labels []string) *prometheus.CounterVec {
	if !strings.HasSuffix(name, "_total") {
		name += "_total"
	}

	k := key(name, labels)

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.counters[k]; ok {
		return c
	}

	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labels)
	if c = register(t.reg, c); c != nil {
		t.counters[k] = c
	}

	return c
}

func (t *Tracker) gauge(name string, labels []string) *prometheus.GaugeVec {
	k := key(name, labels)

	t.mu.Lock()
	defer t.mu.Unlock()

	if g, ok := t.gauges[k]; ok {
		return g
	}

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labels)
	if g = register(t.reg, g); g != nil {
		t.gauges[k] = g
	}

	return g
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}

		var zero C

		return zero
	}

	return c
}

func key(name string, labels []string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

func split(labelsAndValues []string) (labels, values []string) {
	if len(labelsAndValues)%2 != 0 {
		labelsAndValues = labelsAndValues[:len(labelsAndValues)-1]
	}

	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
		values = append(values, labelsAndValues[i+1])
	}

	return labels, values
}
