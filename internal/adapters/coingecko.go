package adapters

import (
	"context"
	"strings"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

const coinGeckoBaseURL = "https://api.coingecko.com"

// CoinGeckoTier prices crypto from /simple/price. The public API works
// without a key; a demo key, when configured, is sent along.
type CoinGeckoTier struct {
	*publicTier
}

// NewCoinGeckoTier creates the tier.
func NewCoinGeckoTier(cfg ProviderConfig, apiKey string, p *probe.Prober) (*CoinGeckoTier, error) {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 10
	}
	t, err := newPublicTier(market.TierCoinGecko, normalize.KindCoinGecko, coinGeckoBaseURL, "/api/v3/simple/price", cfg, apiKey, p)
	if err != nil {
		return nil, err
	}
	return &CoinGeckoTier{t}, nil
}

// Supports reports crypto instruments. The catalogue maps symbols to coin
// ids (BTC -> bitcoin); other symbols are tried lower-cased.
func (t *CoinGeckoTier) Supports(inst market.Instrument) bool {
	return inst.SecType == market.SecCrypto && inst.Symbol != ""
}

// Quote fetches the USD price and 24h volume for inst.
func (t *CoinGeckoTier) Quote(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	coinID := coinGeckoID(inst)
	inst.ProviderIDs = map[string]string{"coingecko": coinID}
	params := map[string]string{
		"ids":                     coinID,
		"vs_currencies":           "usd",
		"include_24hr_vol":        "true",
		"include_last_updated_at": "true",
	}
	if t.apiKey != "" {
		params["x_cg_demo_api_key"] = t.apiKey
	}
	return t.fetch(ctx, inst, probe.Request{Target: coinID, Params: params})
}

func coinGeckoID(inst market.Instrument) string {
	if id, ok := inst.ProviderIDs["coingecko"]; ok && id != "" {
		return id
	}
	if known, ok := market.LookupInstrument(inst.Symbol); ok {
		if id := known.ProviderIDs["coingecko"]; id != "" {
			return id
		}
	}
	return strings.ToLower(strings.TrimSpace(inst.Symbol))
}
