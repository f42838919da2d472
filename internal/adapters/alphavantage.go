package adapters

import (
	"context"
	"fmt"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageTier prices equities from GLOBAL_QUOTE. It carries no bid or
// ask; those stay unknown. The free tier allows 5 requests per minute and
// 25 per day, which is also the default budget.
type AlphaVantageTier struct {
	*publicTier
}

// NewAlphaVantageTier creates the tier. The API key is required.
func NewAlphaVantageTier(cfg ProviderConfig, apiKey string, p *probe.Prober) (*AlphaVantageTier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Alpha Vantage API key is required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = 25
	}
	t, err := newPublicTier(market.TierAlphaVantage, normalize.KindAlphaVantage, alphaVantageBaseURL, "/query", cfg, apiKey, p)
	if err != nil {
		return nil, err
	}
	return &AlphaVantageTier{t}, nil
}

// Supports reports equities only.
func (t *AlphaVantageTier) Supports(inst market.Instrument) bool {
	return inst.SecType == market.SecEquity && inst.Symbol != ""
}

// Quote fetches GLOBAL_QUOTE for inst.
func (t *AlphaVantageTier) Quote(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	symbol := inst.ProviderID("alphavantage")
	return t.fetch(ctx, inst, probe.Request{
		Target: symbol,
		Params: map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   symbol,
			"apikey":   t.apiKey,
		},
	})
}
