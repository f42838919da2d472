package observ

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesEventLine(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewLoggerTo(&buf, "info"))
	t.Cleanup(func() { SetLogger(prev) })

	Log("probe_candidate_failed", map[string]any{"candidate": "bridge", "error": errors.New("refused")})
	Debug("hidden", nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "probe_candidate_failed", line["event"])
	assert.Equal(t, "bridge", line["candidate"])
	assert.Equal(t, "refused", line["error"])
	assert.Contains(t, line, "ts")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "ab****yz", MaskAPIKey("abcdefyz"))
	assert.Equal(t, "***", MaskAPIKey("abc"))
}

func TestCounters(t *testing.T) {
	Reset()
	IncCounter("quote_source_total", map[string]string{"tier": "gateway"})
	IncCounter("quote_source_total", map[string]string{"tier": "gateway"})
	IncCounterBy("quote_source_total", map[string]string{"tier": "synthetic"}, 3)

	assert.Equal(t, int64(2), Counter("quote_source_total", map[string]string{"tier": "gateway"}))
	assert.Equal(t, int64(5), CounterTotal("quote_source_total"))
}

func TestMetricsHandler(t *testing.T) {
	Reset()
	IncCounter("resolve_total", map[string]string{"state": "resolved", "source": "cache"})
	for i := 1; i <= 20; i++ {
		Observe("resolve_latency_ms", float64(i), nil)
	}
	SetGauge("stream_clients", 2, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Counters map[string]map[string]int64   `json:"counters"`
		Gauges   map[string]map[string]float64 `json:"gauges"`
		Hist     map[string]map[string]struct {
			Count int     `json:"count"`
			P95   float64 `json:"p95"`
		} `json:"histograms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.Counters["resolve_total"]["source=cache,state=resolved"])
	assert.Equal(t, 2.0, got.Gauges["stream_clients"][""])
	assert.Equal(t, 20, got.Hist["resolve_latency_ms"][""].Count)
	assert.Equal(t, 20.0, got.Hist["resolve_latency_ms"][""].P95)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		setup  func()
		status string
		code   int
	}{
		{
			name:   "no traffic",
			setup:  func() {},
			status: "healthy",
			code:   http.StatusOK,
		},
		{
			name: "mostly synthetic",
			setup: func() {
				IncCounterBy("quote_source_total", map[string]string{"tier": "synthetic"}, 6)
				IncCounterBy("quote_source_total", map[string]string{"tier": "gateway"}, 4)
			},
			status: "degraded",
			code:   http.StatusOK,
		},
		{
			name: "provider down",
			setup: func() {
				SetGauge("provider_health_status", 0, map[string]string{"provider": "polygon"})
			},
			status: "degraded",
			code:   http.StatusOK,
		},
		{
			name: "only synthetic",
			setup: func() {
				IncCounterBy("quote_source_total", map[string]string{"tier": "synthetic"}, 25)
			},
			status: "failed",
			code:   http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			tt.setup()

			gateway := func(context.Context) (string, any) { return "gateway", map[string]any{"connected": false} }
			rec := httptest.NewRecorder()
			HealthHandler(gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var got HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.status, got.Status)
			assert.Contains(t, got.Details, "gateway")
		})
	}
}
