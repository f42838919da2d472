package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

var testNow = time.Date(2025, 10, 1, 14, 30, 0, 0, time.UTC)

func TestContractsFromIDAliases(t *testing.T) {
	tests := []struct {
		name string
		kind ProviderKind
		raw  string
		want string
	}{
		{"gateway conid number", KindGatewaySearch, `[{"conid":730283085,"symbol":"MES"}]`, "730283085"},
		{"gateway conid string", KindGatewaySearch, `[{"conid":"730283085","symbol":"MES"}]`, "730283085"},
		{"gateway conId", KindGatewaySearch, `[{"conId":495512563,"symbol":"ES"}]`, "495512563"},
		{"gateway id", KindGatewaySearch, `[{"id":"563947738","ticker":"NQ"}]`, "563947738"},
		{"gateway single object", KindGatewaySearch, `{"conid":730283094,"symbol":"MNQ"}`, "730283094"},
		{"bridge conId", KindBridgeSearch, `{"success":true,"data":"{\"conId\":730283085,\"symbol\":\"MES\"}"}`, "730283085"},
		{"bridge inline data", KindBridgeSearch, `{"success":true,"data":[{"id":"1","symbol":"MES"}]}`, "1"},
		{"info conid", KindGatewayInfo, `[{"conid":730283085,"symbol":"MES","multiplier":"5"}]`, "730283085"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContractsFrom(tt.kind, []byte(tt.raw), testNow)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].ID)
			assert.Equal(t, testNow, got[0].LastUpdated)
		})
	}
}

func TestContractsFromTotality(t *testing.T) {
	bodies := []string{
		``, `null`, `[]`, `{}`, `[null]`, `"text"`, `42`, `[1,2,3]`,
		`{"success":false}`, `{"success":true,"data":"not json"}`,
		`{"success":true,"data":""}`, `[{"conid":{"nested":true}}]`,
		`[{"conid":"1","sections":"bogus"}]`, `{"error":"no session"}`,
	}
	kinds := []ProviderKind{KindGatewaySearch, KindBridgeSearch, KindGatewayInfo}
	for _, kind := range kinds {
		for _, body := range bodies {
			assert.NotPanics(t, func() {
				contracts, err := ContractsFrom(kind, []byte(body), testNow)
				if err != nil {
					assert.True(t, errors.Is(err, market.ErrMalformedResponse), "kind=%s body=%q err=%v", kind, body, err)
				}
				for _, c := range contracts {
					assert.NotEmpty(t, c.ID)
				}
			}, "kind=%s body=%q", kind, body)
		}
	}
}

func TestBridgeDoubleEncoded(t *testing.T) {
	raw := `{"success":true,"data":"{\"conId\":730283085,\"symbol\":\"MES\",\"secType\":\"FUT\",\"exchange\":\"CME\",\"currency\":\"USD\",\"description\":\"Micro E-Mini S&P 500\",\"multiplier\":\"5\",\"tradingClass\":\"MES\",\"contractMonth\":\"202512\",\"realExpirationDate\":\"20251219\",\"lastTradeTime\":\"08:30:00\"}"}`

	got, err := ContractsFrom(KindBridgeSearch, []byte(raw), testNow)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "730283085", c.ID)
	assert.Equal(t, "MES", c.Symbol)
	assert.Equal(t, market.SecFuture, c.SecType)
	assert.Equal(t, "CME", c.Exchange)
	assert.Equal(t, market.NumOf(5), c.Multiplier)
	assert.Equal(t, "202512", c.ContractMonth)
	assert.Equal(t, "2025-12-19", c.ExpirationDate)
}

func TestBridgeFailureEnvelope(t *testing.T) {
	_, err := ContractsFrom(KindBridgeSearch, []byte(`{"success":false,"message":"TWS not connected"}`), testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrMalformedResponse))
	assert.Contains(t, err.Error(), "TWS not connected")
}

func TestGatewaySearchSections(t *testing.T) {
	raw := `[{"conid":"11004968","companyHeader":"E-mini S&P 500 - CME","symbol":"ES","sections":[{"secType":"IND"},{"secType":"FUT","months":"DEC25;MAR26","exchange":"CME"}]}]`
	got, err := ContractsFrom(KindGatewaySearch, []byte(raw), testNow)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, market.SecFuture, got[0].SecType)
	assert.Equal(t, "CME", got[0].Exchange)
	assert.Equal(t, "DEC25", got[0].ContractMonth)
	assert.Equal(t, "E-mini S&P 500 - CME", got[0].Description)
	assert.False(t, got[0].Multiplier.Known)
}

func TestGatewaySearchDropsHitsWithoutID(t *testing.T) {
	got, err := ContractsFrom(KindGatewaySearch, []byte(`[{"symbol":"MES"},{"conid":"2","symbol":"MES"}]`), testNow)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestEnrichKeepsBaseIdentity(t *testing.T) {
	base := market.Contract{ID: "730283085", Symbol: "MES", SecType: market.SecFuture, Exchange: "CME", Description: "MES", LastUpdated: testNow}
	info, err := DecodeGatewayInfo([]byte(`[{"conid":999,"symbol":"XXX","multiplier":"5","maturityDate":"20251219","tradingClass":"MES","desc1":"Micro E-Mini S&P 500 DEC25"}]`))
	require.NoError(t, err)

	got := Enrich(base, info)
	assert.Equal(t, "730283085", got.ID)
	assert.Equal(t, "MES", got.Symbol)
	assert.Equal(t, market.NumOf(5), got.Multiplier)
	assert.Equal(t, "2025-12-19", got.ExpirationDate)
	assert.Equal(t, "MES", got.TradingClass)
	assert.Equal(t, "Micro E-Mini S&P 500 DEC25", got.Description)
	assert.Equal(t, "CME", got.Exchange)
}

func TestSnapshotQuote(t *testing.T) {
	inst := market.Instrument{ID: "730283085", Symbol: "MES", ConID: 730283085}
	raw := `[{"conid":1,"31":"1.0"},{"conid":730283085,"31":"C5201.25","84":"5201.00","86":"5201.50","88":"12","85":"9","87":"1.2K","_updated":1759329000000}]`

	q, err := QuoteFrom(KindGatewaySnapshot, []byte(raw), inst, testNow)
	require.NoError(t, err)
	assert.Equal(t, market.TierGateway, q.SourceTier)
	assert.Equal(t, market.NumOf(5201.25), q.LastPrice)
	assert.Equal(t, market.NumOf(5201.00), q.Bid)
	assert.Equal(t, market.NumOf(5201.50), q.Ask)
	assert.Equal(t, market.NumOf(12), q.BidSize)
	assert.Equal(t, market.NumOf(9), q.AskSize)
	assert.Equal(t, market.NumOf(1200), q.Volume)
	assert.Equal(t, time.UnixMilli(1759329000000).UTC(), q.Timestamp)
}

func TestSnapshotPlainAliases(t *testing.T) {
	inst := market.Instrument{ID: "1", Symbol: "MES", ConID: 1}
	q, err := QuoteFrom(KindGatewaySnapshot, []byte(`[{"conid":1,"price":"5200.5","bid":5200.25,"ask":"5200.75","volume":"1000"}]`), inst, testNow)
	require.NoError(t, err)
	assert.Equal(t, market.NumOf(5200.5), q.LastPrice)
	assert.Equal(t, market.NumOf(5200.25), q.Bid)
	assert.False(t, q.BidSize.Known)
	assert.Equal(t, testNow, q.Timestamp)
}

func TestNaNNeverPropagates(t *testing.T) {
	inst := market.Instrument{ID: "1", Symbol: "MES", ConID: 1}
	q, err := QuoteFrom(KindGatewaySnapshot, []byte(`[{"conid":1,"31":"NaN","84":"","86":"abc","87":"Infinity"}]`), inst, testNow)
	require.NoError(t, err)
	for _, n := range []market.Num{q.LastPrice, q.Bid, q.Ask, q.Volume} {
		assert.False(t, n.Known)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want market.Num
	}{
		{"5200.25", market.NumOf(5200.25)},
		{" 1,234.5 ", market.NumOf(1234.5)},
		{"C5200", market.NumOf(5200)},
		{"H12.5", market.NumOf(12.5)},
		{"3.4M", market.NumOf(3_400_000)},
		{"C", market.Unknown},
		{"", market.Unknown},
		{"NaN", market.Unknown},
		{"-", market.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNumber(tt.in))
		})
	}
}

func TestPublicQuotes(t *testing.T) {
	equity := market.Instrument{ID: "aapl", Symbol: "AAPL", SecType: market.SecEquity}
	btc, _ := market.LookupInstrument("BTC")

	t.Run("polygon midpoint", func(t *testing.T) {
		q, err := QuoteFrom(KindPolygonNBBO, []byte(`{"status":"OK","results":{"T":"AAPL","p":206.7,"s":3,"P":206.9,"S":2,"t":1759329000000000000}}`), equity, testNow)
		require.NoError(t, err)
		assert.Equal(t, market.TierPolygon, q.SourceTier)
		assert.InDelta(t, 206.8, q.LastPrice.Value, 1e-9)
		assert.False(t, q.Volume.Known)
	})

	t.Run("polygon error status", func(t *testing.T) {
		_, err := QuoteFrom(KindPolygonNBBO, []byte(`{"status":"ERROR","error":"bad key"}`), equity, testNow)
		assert.True(t, errors.Is(err, market.ErrMalformedResponse))
	})

	t.Run("alphavantage", func(t *testing.T) {
		q, err := QuoteFrom(KindAlphaVantage, []byte(`{"Global Quote":{"01. symbol":"AAPL","05. price":"206.8000","06. volume":"15000000"}}`), equity, testNow)
		require.NoError(t, err)
		assert.Equal(t, market.NumOf(206.8), q.LastPrice)
		assert.False(t, q.Bid.Known)
		assert.Equal(t, market.NumOf(15_000_000), q.Volume)
	})

	t.Run("alphavantage throttled", func(t *testing.T) {
		_, err := QuoteFrom(KindAlphaVantage, []byte(`{"Information":"API call frequency exceeded"}`), equity, testNow)
		assert.True(t, errors.Is(err, market.ErrRateLimitExhausted))
	})

	t.Run("coingecko", func(t *testing.T) {
		q, err := QuoteFrom(KindCoinGecko, []byte(`{"bitcoin":{"usd":43250.5,"usd_24h_vol":1.5e10,"last_updated_at":1759329000}}`), btc, testNow)
		require.NoError(t, err)
		assert.Equal(t, market.TierCoinGecko, q.SourceTier)
		assert.Equal(t, market.NumOf(43250.5), q.LastPrice)
		assert.Equal(t, time.Unix(1759329000, 0).UTC(), q.Timestamp)
	})

	t.Run("coingecko missing coin", func(t *testing.T) {
		_, err := QuoteFrom(KindCoinGecko, []byte(`{}`), btc, testNow)
		assert.True(t, errors.Is(err, market.ErrMalformedResponse))
	})
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := []byte(`[{"conid":"1","symbol":"mes","sections":[{"secType":"FUT","months":"DEC25"}]}]`)
	a, err := ContractsFrom(KindGatewaySearch, raw, testNow)
	require.NoError(t, err)
	b, err := ContractsFrom(KindGatewaySearch, raw, testNow)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFormatExpiry(t *testing.T) {
	assert.Equal(t, "2025-12-19", FormatExpiry("20251219"))
	assert.Equal(t, "2025-12-19", FormatExpiry("20251219 08:30 CST"))
	assert.Equal(t, "2025-12-19", FormatExpiry("2025-12-19"))
	assert.Equal(t, "", FormatExpiry("DEC25"))
	assert.Equal(t, "", FormatExpiry(""))
}
