package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

const polygonBaseURL = "https://api.polygon.io"

// PolygonTier prices equities from Polygon's last NBBO. The last price is
// the bid/ask midpoint.
type PolygonTier struct {
	*publicTier
}

// NewPolygonTier creates the tier. The API key is required.
func NewPolygonTier(cfg ProviderConfig, apiKey string, p *probe.Prober) (*PolygonTier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Polygon API key is required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5
	}
	t, err := newPublicTier(market.TierPolygon, normalize.KindPolygonNBBO, polygonBaseURL, "/v2/last/nbbo/{ticker}", cfg, apiKey, p)
	if err != nil {
		return nil, err
	}
	return &PolygonTier{t}, nil
}

// Supports reports equities only.
func (t *PolygonTier) Supports(inst market.Instrument) bool {
	return inst.SecType == market.SecEquity && inst.Symbol != ""
}

// Quote fetches the last NBBO for inst.
func (t *PolygonTier) Quote(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	ticker := polygonTicker(inst.ProviderID("polygon"))
	return t.fetch(ctx, inst, probe.Request{
		Target:     ticker,
		Params:     map[string]string{"apiKey": t.apiKey},
		PathParams: map[string]string{"ticker": ticker},
	})
}

// polygonTicker maps common share-class spellings onto Polygon's format.
func polygonTicker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case symbol == "BRK-A":
		return "BRK.A"
	case symbol == "BRK-B":
		return "BRK.B"
	case strings.HasSuffix(symbol, ".US"):
		return strings.TrimSuffix(symbol, ".US")
	default:
		return symbol
	}
}
