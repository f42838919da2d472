package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

func tierNames(f *Fetcher) []market.SourceTier {
	var out []market.SourceTier
	for _, t := range f.Tiers() {
		out = append(out, t.Name())
	}
	return out
}

func TestFactoryBuildsConfiguredOrder(t *testing.T) {
	t.Setenv("QUOTES", "")
	t.Setenv("TEST_POLYGON_KEY", "pk-123456")
	t.Setenv("TEST_AV_KEY", "av-123456")

	cfg := QuotesConfig{
		Order:        []string{ProviderCoinGecko, ProviderAlphaVantage, ProviderPolygon},
		Polygon:      ProviderConfig{APIKeyEnv: "TEST_POLYGON_KEY"},
		AlphaVantage: ProviderConfig{APIKeyEnv: "TEST_AV_KEY"},
	}
	p := probe.New()
	gw := NewGatewayTier(p, nil, nil)
	f, err := NewChainFactory(cfg, p, gw, NewSyntheticTier(), time.Second).CreateFetcher()
	require.NoError(t, err)

	assert.Equal(t, []market.SourceTier{market.TierGateway, market.TierCoinGecko, market.TierAlphaVantage, market.TierPolygon}, tierNames(f))
}

func TestFactorySkipsProvidersWithoutKeys(t *testing.T) {
	t.Setenv("QUOTES", "")
	t.Setenv("TEST_MISSING_KEY", "")

	cfg := QuotesConfig{
		Polygon:      ProviderConfig{APIKeyEnv: "TEST_MISSING_KEY"},
		AlphaVantage: ProviderConfig{APIKeyEnv: "TEST_MISSING_KEY"},
	}
	f, err := NewChainFactory(cfg, probe.New(), nil, NewSyntheticTier(), time.Second).CreateFetcher()
	require.NoError(t, err)

	// CoinGecko needs no key.
	assert.Equal(t, []market.SourceTier{market.TierCoinGecko}, tierNames(f))
}

func TestFactoryDisabledProvider(t *testing.T) {
	t.Setenv("QUOTES", "")
	off := false
	cfg := QuotesConfig{CoinGecko: ProviderConfig{Enabled: &off}}
	f, err := NewChainFactory(cfg, probe.New(), nil, NewSyntheticTier(), time.Second).CreateFetcher()
	require.NoError(t, err)
	assert.Empty(t, f.Tiers())
}

func TestFactoryQuotesEnvOverride(t *testing.T) {
	p := probe.New()
	gw := NewGatewayTier(p, nil, nil)

	t.Setenv("QUOTES", "synthetic")
	f, err := NewChainFactory(QuotesConfig{}, p, gw, NewSyntheticTier(), time.Second).CreateFetcher()
	require.NoError(t, err)
	assert.Empty(t, f.Tiers())
	q := f.FetchQuote(t.Context(), market.Instrument{Symbol: "BTC", SecType: market.SecCrypto})
	assert.Equal(t, market.TierSynthetic, q.SourceTier)

	t.Setenv("QUOTES", "coingecko, bogus")
	f, err = NewChainFactory(QuotesConfig{}, p, gw, NewSyntheticTier(), time.Second).CreateFetcher()
	require.NoError(t, err)
	assert.Equal(t, []market.SourceTier{market.TierGateway, market.TierCoinGecko}, tierNames(f))
}

func TestUnsupportedTiersSkipped(t *testing.T) {
	var calls int
	cg := stubTier{name: market.TierCoinGecko, supports: market.SecCrypto, calls: &calls}
	f := NewFetcher(time.Second, NewSyntheticTier(), cg)

	q := f.FetchQuote(t.Context(), market.Instrument{Symbol: "MES", SecType: market.SecFuture})
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Equal(t, 0, calls)

	q = f.FetchQuote(t.Context(), market.Instrument{Symbol: "ETH", SecType: market.SecCrypto})
	assert.Equal(t, market.TierCoinGecko, q.SourceTier)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "eth", q.InstrumentID)
}

type stubTier struct {
	name     market.SourceTier
	supports market.SecType
	calls    *int
}

func (s stubTier) Name() market.SourceTier { return s.name }

func (s stubTier) Supports(inst market.Instrument) bool { return inst.SecType == s.supports }

func (s stubTier) Quote(_ context.Context, inst market.Instrument) (market.Quote, error) {
	*s.calls++
	return market.Quote{
		InstrumentID: instrumentKey(inst),
		Symbol:       inst.Symbol,
		LastPrice:    market.NumOf(3100),
		SourceTier:   s.name,
	}, nil
}
