package observ

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxSamples bounds each histogram series; older samples are dropped.
const maxSamples = 1024

// series maps a canonical label key to a value, per metric name.
type series[V any] map[string]map[string]V

func (s series[V]) at(name string, labels map[string]string) (map[string]V, string) {
	m, ok := s[name]
	if !ok {
		m = map[string]V{}
		s[name] = m
	}
	return m, labelKey(labels)
}

type registry struct {
	mu       sync.Mutex
	counters series[int64]
	gauges   series[float64]
	hist     series[[]float64]
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: series[int64]{},
		gauges:   series[float64]{},
		hist:     series[[]float64]{},
	}
}

// labelKey renders labels as "k1=v1,k2=v2" in key order.
func labelKey(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(lbl))
	for k, v := range lbl {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// IncCounter adds one to a labelled counter.
func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	m, k := reg.counters.at(name, labels)
	m[k] += value
	reg.mu.Unlock()
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	m, k := reg.gauges.at(name, labels)
	m[k] = value
	reg.mu.Unlock()
}

// Observe appends a histogram sample, keeping the newest maxSamples.
func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, k := reg.hist.at(name, labels)
	samples := append(m[k], value)
	if n := len(samples); n > maxSamples {
		samples = samples[n-maxSamples:]
	}
	m[k] = samples
}

// RecordDuration records a duration metric in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Counter returns the value of one labelled counter series.
func Counter(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][labelKey(labels)]
}

// CounterTotal sums a counter across all label sets.
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return sumCounter(name)
}

// Reset clears every metric. Tests only.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters, reg.gauges, reg.hist = fresh.counters, fresh.gauges, fresh.hist
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Handler serves a JSON snapshot of every series. Histograms are reduced
// to count and p95.
func Handler() http.Handler {
	type summary struct {
		Count int     `json:"count"`
		P95   float64 `json:"p95"`
	}
	type snapshot struct {
		Counters series[int64]   `json:"counters"`
		Gauges   series[float64] `json:"gauges"`
		Hist     series[summary] `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		out := snapshot{Counters: series[int64]{}, Gauges: series[float64]{}, Hist: series[summary]{}}
		for name, m := range reg.counters {
			out.Counters[name] = maps.Clone(m)
		}
		for name, m := range reg.gauges {
			out.Gauges[name] = maps.Clone(m)
		}
		for name, m := range reg.hist {
			h := map[string]summary{}
			for k, samples := range m {
				h[k] = summary{Count: len(samples), P95: p95(samples)}
			}
			out.Hist[name] = h
		}
		reg.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

// HealthStatus represents overall service health.
type HealthStatus struct {
	Status    string         `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"` // RFC 3339
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Metrics   HealthMetrics  `json:"metrics"`
	Details   map[string]any `json:"details"`
}

// HealthMetrics are the figures the status is derived from.
type HealthMetrics struct {
	QuotesServed        int64    `json:"quotes_served"`
	SyntheticShare      float64  `json:"synthetic_share"`    // share of quotes from the synthetic tier
	ProbeFailureRate    float64  `json:"probe_failure_rate"` // failed candidate attempts / all attempts
	TierLatencyP95Ms    int64    `json:"tier_latency_p95_ms"`
	ResolveLatencyP95Ms int64    `json:"resolve_latency_p95_ms"`
	UnhealthyProviders  []string `json:"unhealthy_providers"`
}

// HealthDetail contributes one named entry to the health report, e.g. the
// gateway session state.
type HealthDetail func(ctx context.Context) (name string, value any)

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler reports service health. Degraded is served with 200 since
// the service still answers with synthetic data; failed is 503.
func HealthHandler(details ...HealthDetail) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		extra := map[string]any{}
		for _, d := range details {
			name, v := d(r.Context())
			extra[name] = v
		}

		reg.mu.Lock()
		m := calculateHealthMetrics()
		reg.mu.Unlock()

		health := HealthStatus{
			Status:    overallStatus(m),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Version:   version,
			Metrics:   m,
			Details:   extra,
		}

		statusCode := http.StatusOK
		if health.Status == "failed" {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// caller holds reg.mu
func calculateHealthMetrics() HealthMetrics {
	m := HealthMetrics{UnhealthyProviders: []string{}}

	m.QuotesServed = sumCounter("quote_source_total")
	if m.QuotesServed > 0 {
		m.SyntheticShare = float64(reg.counters["quote_source_total"]["tier=synthetic"]) / float64(m.QuotesServed)
	}

	var attempts, failures int64
	for k, v := range reg.counters["probe_attempts_total"] {
		attempts += v
		if !strings.Contains(k, "outcome=success") {
			failures += v
		}
	}
	if attempts > 0 {
		m.ProbeFailureRate = float64(failures) / float64(attempts)
	}

	var tierSamples []float64
	for _, s := range reg.hist["quote_tier_latency_ms"] {
		tierSamples = append(tierSamples, s...)
	}
	m.TierLatencyP95Ms = int64(p95(tierSamples))

	var resolveSamples []float64
	for _, s := range reg.hist["resolve_latency_ms"] {
		resolveSamples = append(resolveSamples, s...)
	}
	m.ResolveLatencyP95Ms = int64(p95(resolveSamples))

	for k, v := range reg.gauges["provider_health_status"] {
		if v == 0 {
			m.UnhealthyProviders = append(m.UnhealthyProviders, strings.TrimPrefix(k, "provider="))
		}
	}
	sort.Strings(m.UnhealthyProviders)
	return m
}

func overallStatus(m HealthMetrics) string {
	switch {
	case m.QuotesServed >= 20 && m.SyntheticShare == 1:
		return "failed"
	case len(m.UnhealthyProviders) > 0, m.SyntheticShare > 0.5:
		return "degraded"
	default:
		return "healthy"
	}
}
