// Package stats provides a minimal metrics interface backed by
// go-metrics. It exists so library code can record counters and
// latencies without leaking the go-metrics dependency to callers, and
// so a receiver can be scoped as it is passed down a call tree.
package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

// StatsReceiver hands out instruments, namespaced by scope.
type StatsReceiver interface {
	// Scope returns a receiver that prefixes every instrument name with
	// the given scope elements:
	//
	//   stat.Scope("container").Counter("resolves") // == counter "container/resolves"
	//
	Scope(scope ...string) StatsReceiver

	// Counter provides a monotonically increasing event counter.
	Counter(name ...string) Counter

	// Gauge holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Latency records call-site durations in a histogram, nanoseconds.
	Latency(name ...string) Latency

	// Render dumps all instruments as JSON.
	Render(pretty bool) []byte
}

type Counter interface {
	Inc(int64)
	Count() int64
}

type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency is used as: defer stat.Latency("foo_ns").Time().Stop()
type Latency interface {
	Time() Latency
	Stop()
	Percentile(p float64) float64
}

// DefaultStatsReceiver returns a receiver over a fresh registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver returns a receiver that discards everything. Useful
// as a default so callers never nil-check.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	mk := func() interface{} {
		return newLatency()
	}
	return s.registry.GetOrRegister(s.scopedName(name...), mk).(*latency)
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	out := map[string]interface{}{}
	s.registry.Each(func(name string, instrument interface{}) {
		switch m := instrument.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		case *latency:
			out[name] = map[string]float64{
				"p50": m.Percentile(0.5),
				"p90": m.Percentile(0.9),
				"p99": m.Percentile(0.99),
			}
		}
	})
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(out, "", "  ")
	} else {
		b, err = json.Marshal(out)
	}
	if err != nil {
		return []byte{}
	}
	return b
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(append(append([]string{}, s.scope...), name...), "/")
}

// latency wraps a go-metrics histogram with start/stop bookkeeping.
type latency struct {
	hist  metrics.Histogram
	mu    sync.Mutex
	start time.Time
}

func newLatency() *latency {
	return &latency{hist: metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))}
}

func (l *latency) Time() Latency {
	l.mu.Lock()
	l.start = time.Now()
	l.mu.Unlock()
	return l
}

func (l *latency) Stop() {
	l.mu.Lock()
	start := l.start
	l.mu.Unlock()
	l.hist.Update(time.Since(start).Nanoseconds())
}

func (l *latency) Percentile(p float64) float64 {
	return l.hist.Percentile(p)
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter      { return &nilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge          { return &nilGauge{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency      { return &nilLatency{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte           { return []byte{} }

type nilCounter struct{}

func (c *nilCounter) Inc(int64)    {}
func (c *nilCounter) Count() int64 { return 0 }

type nilGauge struct{}

func (g *nilGauge) Update(int64) {}
func (g *nilGauge) Value() int64 { return 0 }

type nilLatency struct{}

func (l *nilLatency) Time() Latency                { return l }
func (l *nilLatency) Stop()                        {}
func (l *nilLatency) Percentile(p float64) float64 { return 0 }
