package adapters

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

// Public provider names as used in QuotesConfig.Order.
const (
	ProviderPolygon      = "polygon"
	ProviderAlphaVantage = "alphavantage"
	ProviderCoinGecko    = "coingecko"
)

// DefaultOrder is the public tier order when none is configured.
var DefaultOrder = []string{ProviderPolygon, ProviderAlphaVantage, ProviderCoinGecko}

// QuotesConfig holds configuration for the public quote providers.
type QuotesConfig struct {
	Order        []string       `yaml:"order"`
	Polygon      ProviderConfig `yaml:"polygon"`
	AlphaVantage ProviderConfig `yaml:"alphavantage"`
	CoinGecko    ProviderConfig `yaml:"coingecko"`
}

// Provider returns the settings for a named provider.
func (c QuotesConfig) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderPolygon:
		return c.Polygon, true
	case ProviderAlphaVantage:
		return c.AlphaVantage, true
	case ProviderCoinGecko:
		return c.CoinGecko, true
	default:
		return ProviderConfig{}, false
	}
}

// ChainFactory assembles the tier chain from configuration.
type ChainFactory struct {
	config    QuotesConfig
	prober    *probe.Prober
	gateway   *GatewayTier
	synthetic *SyntheticTier
	timeout   time.Duration
}

// NewChainFactory creates a factory. gateway may be nil to leave the
// broker tier out.
func NewChainFactory(config QuotesConfig, p *probe.Prober, gateway *GatewayTier, synthetic *SyntheticTier, timeout time.Duration) *ChainFactory {
	return &ChainFactory{config: config, prober: p, gateway: gateway, synthetic: synthetic, timeout: timeout}
}

// CreateFetcher builds the Fetcher. The QUOTES environment variable
// overrides the configured order: "synthetic" disables every network tier,
// a comma list replaces the public order.
//
// A provider that cannot be created (missing API key, bad base URL) is left
// out of the chain with a log line rather than failing startup.
func (f *ChainFactory) CreateFetcher() (*Fetcher, error) {
	order := f.config.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	useGateway := f.gateway != nil

	if env := strings.TrimSpace(os.Getenv("QUOTES")); env != "" {
		observ.Log("quotes_order_override", map[string]any{
			"config_order": order,
			"env_override": env,
		})
		if strings.EqualFold(env, string(market.TierSynthetic)) {
			observ.Log("quotes_chain_created", map[string]any{"tiers": []string{string(market.TierSynthetic)}, "reason": "synthetic only"})
			return NewFetcher(f.timeout, f.synthetic), nil
		}
		order = nil
		for _, name := range strings.Split(env, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				order = append(order, name)
			}
		}
	}

	var tiers []QuoteTier
	names := []string{}
	if useGateway {
		tiers = append(tiers, f.gateway)
		names = append(names, string(market.TierGateway))
	}

	seen := map[string]bool{}
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		if name == string(market.TierGateway) {
			continue
		}
		tier, err := f.createTier(name)
		if err != nil {
			observ.Log("quotes_tier_disabled", map[string]any{
				"tier":   name,
				"reason": err.Error(),
			})
			continue
		}
		if tier == nil {
			continue
		}
		tiers = append(tiers, tier)
		names = append(names, name)
	}
	names = append(names, string(market.TierSynthetic))

	observ.Log("quotes_chain_created", map[string]any{
		"tiers":           names,
		"tier_timeout_ms": f.timeout.Milliseconds(),
	})
	return NewFetcher(f.timeout, f.synthetic, tiers...), nil
}

// createTier returns nil, nil for a provider disabled in config.
func (f *ChainFactory) createTier(name string) (QuoteTier, error) {
	cfg, ok := f.config.Provider(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if !cfg.IsEnabled() {
		observ.Log("quotes_tier_disabled", map[string]any{"tier": name, "reason": "disabled in config"})
		return nil, nil
	}

	apiKey := cfg.APIKey()
	if apiKey == "" && name != ProviderCoinGecko {
		return nil, fmt.Errorf("missing API key (env %s)", cfg.APIKeyEnv)
	}

	var (
		tier QuoteTier
		err  error
	)
	switch name {
	case ProviderPolygon:
		tier, err = NewPolygonTier(cfg, apiKey, f.prober)
	case ProviderAlphaVantage:
		tier, err = NewAlphaVantageTier(cfg, apiKey, f.prober)
	case ProviderCoinGecko:
		tier, err = NewCoinGeckoTier(cfg, apiKey, f.prober)
	}
	if err != nil {
		return nil, err
	}
	observ.Log("quotes_tier_created", map[string]any{
		"tier":           name,
		"rate_limit_pm":  cfg.RateLimitPerMinute,
		"daily_cap":      cfg.DailyCap,
		"api_key_masked": observ.MaskAPIKey(apiKey),
	})
	return tier, nil
}
