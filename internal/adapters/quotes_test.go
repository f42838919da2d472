package adapters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

// upstream is an httptest fake answering every request with status and body.
type upstream struct {
	srv  *httptest.Server
	hits atomic.Int32
	hang bool
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	return startUpstream(t, status, body, false)
}

// hangingUpstream never answers; requests end when the client gives up.
func hangingUpstream(t *testing.T) *upstream {
	t.Helper()
	return startUpstream(t, http.StatusOK, "", true)
}

func startUpstream(t *testing.T, status int, body string, hang bool) *upstream {
	u := &upstream{hang: hang}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if u.hang {
			<-r.Context().Done()
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) spec(t *testing.T, name, path string) probe.EndpointSpec {
	t.Helper()
	spec, err := probe.ParseEndpoint(name, u.srv.URL, path)
	require.NoError(t, err)
	return spec
}

func testProber() *probe.Prober {
	return probe.New(probe.WithTimeout(time.Second))
}

var (
	mes  = market.Instrument{ID: "730283085", Symbol: "MES", SecType: market.SecFuture, Exchange: "CME", ConID: 730283085, TickSize: 0.25, BasePrice: 5200}
	aapl = market.Instrument{ID: "aapl", Symbol: "AAPL", SecType: market.SecEquity, TickSize: 0.01, BasePrice: 206.80}
	btc  = market.Instrument{ID: "btc", Symbol: "BTC", SecType: market.SecCrypto, ProviderIDs: map[string]string{"coingecko": "bitcoin"}}
)

const polygonBody = `{"status":"OK","results":{"T":"AAPL","p":206.5,"P":206.7,"s":3,"S":4,"t":1700000000000000000}}`

func TestFuturesWithGatewayDownFallsToSynthetic(t *testing.T) {
	session := newUpstream(t, http.StatusServiceUnavailable, "gateway offline")
	snapshot := newUpstream(t, http.StatusOK, `[]`)
	polygon := newUpstream(t, http.StatusOK, polygonBody)

	p := testProber()
	gw := NewGatewayTier(p,
		[]probe.EndpointSpec{session.spec(t, "auth-status", "/v1/api/iserver/auth/status")},
		[]probe.EndpointSpec{snapshot.spec(t, "snapshot", "/v1/api/iserver/marketdata/snapshot")})
	poly, err := NewPolygonTier(ProviderConfig{BaseURL: polygon.srv.URL}, "test-key", p)
	require.NoError(t, err)

	f := NewFetcher(time.Second, NewSyntheticTier(SyntheticConfig{Seed: 7}), gw, poly)
	q := f.FetchQuote(t.Context(), mes)

	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	require.True(t, q.LastPrice.Known)
	assert.Greater(t, q.LastPrice.Value, 0.0)
	assert.Equal(t, "730283085", q.InstrumentID)
	assert.Equal(t, int32(1), session.hits.Load())
	assert.Equal(t, int32(0), snapshot.hits.Load(), "no snapshot while the session is down")
	assert.Equal(t, int32(0), polygon.hits.Load(), "futures have no public tier")
	assert.False(t, gw.Connected(t.Context()))
}

func TestGatewaySnapshot(t *testing.T) {
	session := newUpstream(t, http.StatusOK, `{"authenticated":true,"connected":true}`)
	snapshot := newUpstream(t, http.StatusOK, `[{"conid":730283085,"31":"C5201.25","84":"5201.00","86":"5201.50","87":"1.2K","_updated":1700000000000}]`)

	gw := NewGatewayTier(testProber(),
		[]probe.EndpointSpec{session.spec(t, "auth-status", "/v1/api/iserver/auth/status")},
		[]probe.EndpointSpec{snapshot.spec(t, "snapshot", "/v1/api/iserver/marketdata/snapshot")})
	f := NewFetcher(time.Second, NewSyntheticTier(), gw)

	q := f.FetchQuote(t.Context(), mes)
	assert.Equal(t, market.TierGateway, q.SourceTier)
	assert.Equal(t, market.NumOf(5201.25), q.LastPrice)
	assert.Equal(t, market.NumOf(5201.00), q.Bid)
	assert.Equal(t, market.NumOf(5201.50), q.Ask)
	assert.Equal(t, market.NumOf(1200), q.Volume)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), q.Timestamp)

	// The session check is cached between fetches.
	f.FetchQuote(t.Context(), mes)
	assert.Equal(t, int32(1), session.hits.Load())
	assert.Equal(t, int32(2), snapshot.hits.Load())

	// The walk is anchored at the real price.
	last, ok := f.Synthetic().LastPrice(mes)
	require.True(t, ok)
	assert.Equal(t, 5201.25, last)
}

func TestGatewaySessionTTLExpires(t *testing.T) {
	session := newUpstream(t, http.StatusOK, `{"authenticated":true}`)
	now := time.Date(2025, 10, 1, 14, 0, 0, 0, time.UTC)
	gw := NewGatewayTier(testProber(),
		[]probe.EndpointSpec{session.spec(t, "auth-status", "/status")}, nil,
		WithSessionTTL(30*time.Second),
		WithGatewayClock(func() time.Time { return now }))

	assert.True(t, gw.Connected(t.Context()))
	now = now.Add(10 * time.Second)
	assert.True(t, gw.Connected(t.Context()))
	assert.Equal(t, int32(1), session.hits.Load())

	now = now.Add(31 * time.Second)
	assert.True(t, gw.Connected(t.Context()))
	assert.Equal(t, int32(2), session.hits.Load())
}

func TestGatewayUnauthenticatedIsDown(t *testing.T) {
	session := newUpstream(t, http.StatusOK, `{"authenticated":false}`)
	gw := NewGatewayTier(testProber(), []probe.EndpointSpec{session.spec(t, "auth-status", "/status")}, nil)

	err := gw.HealthCheck(t.Context())
	assert.True(t, errors.Is(err, market.ErrSessionDown))
}

func TestHungSessionCachedAsDown(t *testing.T) {
	session := hangingUpstream(t)
	snapshot := newUpstream(t, http.StatusOK, `[]`)
	gw := NewGatewayTier(testProber(),
		[]probe.EndpointSpec{session.spec(t, "auth-status", "/status")},
		[]probe.EndpointSpec{snapshot.spec(t, "snapshot", "/snapshot")})
	f := NewFetcher(200*time.Millisecond, NewSyntheticTier(), gw)

	q := f.FetchQuote(t.Context(), mes)
	assert.Equal(t, market.TierSynthetic, q.SourceTier)

	for range 2 {
		start := time.Now()
		q = f.FetchQuote(t.Context(), mes)
		assert.Equal(t, market.TierSynthetic, q.SourceTier)
		assert.Less(t, time.Since(start), 100*time.Millisecond, "a cached down session skips the tier")
	}
	assert.Equal(t, int32(1), session.hits.Load())
	assert.Equal(t, int32(0), snapshot.hits.Load())
	assert.False(t, gw.ProviderInfo()["session_up"].(bool))
}

func TestHungFirstSessionCandidateFallsBack(t *testing.T) {
	hung := hangingUpstream(t)
	proxy := newUpstream(t, http.StatusOK, `{"authenticated":true}`)
	snapshot := newUpstream(t, http.StatusOK, `[{"conid":730283085,"31":"5200.25"}]`)
	gw := NewGatewayTier(testProber(),
		[]probe.EndpointSpec{hung.spec(t, "gateway-auth", "/status"), proxy.spec(t, "proxy-auth", "/status")},
		[]probe.EndpointSpec{snapshot.spec(t, "snapshot", "/snapshot")})
	f := NewFetcher(600*time.Millisecond, NewSyntheticTier(), gw)

	q := f.FetchQuote(t.Context(), mes)
	assert.Equal(t, market.TierGateway, q.SourceTier)
	assert.Equal(t, market.NumOf(5200.25), q.LastPrice)
	assert.Equal(t, int32(1), hung.hits.Load())
	assert.Equal(t, int32(1), proxy.hits.Load())
}

func TestCancelledCallerLeavesSessionUnchecked(t *testing.T) {
	session := hangingUpstream(t)
	gw := NewGatewayTier(testProber(), []probe.EndpointSpec{session.spec(t, "auth-status", "/status")}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)
	err := gw.HealthCheck(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, gw.ProviderInfo()["session_checked"].(time.Time).IsZero())
}

func TestEmptySnapshotAdvances(t *testing.T) {
	// The first snapshot for a conid often carries no fields yet.
	snapshot := newUpstream(t, http.StatusOK, `[{"conid":730283085}]`)
	gw := NewGatewayTier(testProber(), nil, []probe.EndpointSpec{snapshot.spec(t, "snapshot", "/snapshot")})
	f := NewFetcher(time.Second, NewSyntheticTier(), gw)

	q := f.FetchQuote(t.Context(), mes)
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Equal(t, int32(1), snapshot.hits.Load())
}

func TestPolygonEquityQuote(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		_, _ = io.WriteString(w, polygonBody)
	}))
	t.Cleanup(srv.Close)

	poly, err := NewPolygonTier(ProviderConfig{BaseURL: srv.URL}, "secret", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(), poly)

	q := f.FetchQuote(t.Context(), aapl)
	assert.Equal(t, market.TierPolygon, q.SourceTier)
	r := <-requests
	assert.Equal(t, "/v2/last/nbbo/AAPL", r.URL.Path)
	assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))
	assert.InDelta(t, 206.6, q.LastPrice.Value, 1e-9)
	assert.False(t, q.Volume.Known)
}

func TestBudgetExhaustedSkipsWithoutCall(t *testing.T) {
	polygon := newUpstream(t, http.StatusOK, polygonBody)
	poly, err := NewPolygonTier(ProviderConfig{BaseURL: polygon.srv.URL, RateLimitPerMinute: 1}, "k", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(SyntheticConfig{Seed: 1}), poly)

	first := f.FetchQuote(t.Context(), aapl)
	require.Equal(t, market.TierPolygon, first.SourceTier)

	second := f.FetchQuote(t.Context(), aapl)
	assert.Equal(t, market.TierSynthetic, second.SourceTier)
	assert.Equal(t, int32(1), polygon.hits.Load())
	// Synthetic walks from the last real price, not the catalogue base.
	assert.InDelta(t, 206.6, second.LastPrice.Value, 206.6*0.05)

	st := poly.BudgetStatus()
	assert.Equal(t, 1, st.UsedToday)
	assert.Equal(t, 1, st.Rejected)
}

func TestCacheTTLSparesBudget(t *testing.T) {
	polygon := newUpstream(t, http.StatusOK, polygonBody)
	poly, err := NewPolygonTier(ProviderConfig{BaseURL: polygon.srv.URL, RateLimitPerMinute: 1, CacheTTLSeconds: 60}, "k", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(), poly)

	for i := 0; i < 3; i++ {
		q := f.FetchQuote(t.Context(), aapl)
		assert.Equal(t, market.TierPolygon, q.SourceTier)
	}
	assert.Equal(t, int32(1), polygon.hits.Load())
}

func TestAlphaVantageThrottleNoticeFallsThrough(t *testing.T) {
	av := newUpstream(t, http.StatusOK, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`)
	tier, err := NewAlphaVantageTier(ProviderConfig{BaseURL: av.srv.URL}, "k", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(), tier)

	q := f.FetchQuote(t.Context(), aapl)
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Equal(t, int32(1), av.hits.Load())
}

func TestAlphaVantageQuote(t *testing.T) {
	av := newUpstream(t, http.StatusOK, `{"Global Quote":{"01. symbol":"AAPL","05. price":"207.1500","06. volume":"51234567","07. latest trading day":"2025-09-30"}}`)
	tier, err := NewAlphaVantageTier(ProviderConfig{BaseURL: av.srv.URL}, "k", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(), tier)

	q := f.FetchQuote(t.Context(), aapl)
	assert.Equal(t, market.TierAlphaVantage, q.SourceTier)
	assert.Equal(t, market.NumOf(207.15), q.LastPrice)
	assert.False(t, q.Bid.Known)
	assert.False(t, q.Ask.Known)
}

func TestCoinGeckoCrypto(t *testing.T) {
	ids := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.URL.Query().Get("ids")
		_, _ = io.WriteString(w, `{"bitcoin":{"usd":64250.5,"usd_24h_vol":31000000000,"last_updated_at":1700000000}}`)
	}))
	t.Cleanup(srv.Close)

	cg, err := NewCoinGeckoTier(ProviderConfig{BaseURL: srv.URL}, "", testProber())
	require.NoError(t, err)
	assert.False(t, cg.Supports(aapl))
	f := NewFetcher(time.Second, NewSyntheticTier(), cg)

	q := f.FetchQuote(t.Context(), btc)
	assert.Equal(t, market.TierCoinGecko, q.SourceTier)
	assert.Equal(t, "bitcoin", <-ids)
	assert.Equal(t, market.NumOf(64250.5), q.LastPrice)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), q.Timestamp)
}

func TestFetchBoundedByTierTimeouts(t *testing.T) {
	const timeout = 200 * time.Millisecond
	session := hangingUpstream(t)
	polygon := hangingUpstream(t)
	av := hangingUpstream(t)

	p := probe.New(probe.WithTimeout(timeout))
	gw := NewGatewayTier(p,
		[]probe.EndpointSpec{session.spec(t, "auth-status", "/status")},
		[]probe.EndpointSpec{session.spec(t, "snapshot", "/snapshot")})
	poly, err := NewPolygonTier(ProviderConfig{BaseURL: polygon.srv.URL}, "k", p)
	require.NoError(t, err)
	alpha, err := NewAlphaVantageTier(ProviderConfig{BaseURL: av.srv.URL}, "k", p)
	require.NoError(t, err)
	f := NewFetcher(timeout, NewSyntheticTier(), gw, poly, alpha)

	// An equity with a conid goes through all three network tiers.
	inst := aapl
	inst.ConID = 265598

	start := time.Now()
	q := f.FetchQuote(t.Context(), inst)
	elapsed := time.Since(start)

	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Less(t, elapsed, 4*timeout)
	assert.Equal(t, int32(1), polygon.hits.Load())
	assert.Equal(t, int32(1), av.hits.Load())
}

type panickyTier struct{}

func (panickyTier) Name() market.SourceTier         { return market.TierPolygon }
func (panickyTier) Supports(market.Instrument) bool { return true }
func (panickyTier) Quote(context.Context, market.Instrument) (market.Quote, error) {
	panic("boom")
}

func TestPanickingTierFallsThrough(t *testing.T) {
	f := NewFetcher(time.Second, NewSyntheticTier(), panickyTier{})
	q := f.FetchQuote(t.Context(), aapl)
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
}

func TestCancelledContextStillAnswers(t *testing.T) {
	polygon := newUpstream(t, http.StatusOK, polygonBody)
	poly, err := NewPolygonTier(ProviderConfig{BaseURL: polygon.srv.URL}, "k", testProber())
	require.NoError(t, err)
	f := NewFetcher(time.Second, NewSyntheticTier(), poly)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := f.FetchQuote(ctx, aapl)
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Equal(t, int32(0), polygon.hits.Load())
}
