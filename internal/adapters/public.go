package adapters

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

// ProviderConfig holds the settings shared by the public data providers.
type ProviderConfig struct {
	Enabled            *bool  `yaml:"enabled"`
	APIKeyEnv          string `yaml:"api_key_env"`
	BaseURL            string `yaml:"base_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	DailyCap           int    `yaml:"daily_cap"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
}

// IsEnabled defaults to true when unset.
func (c ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// APIKey reads the key from the configured environment variable.
func (c ProviderConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// publicTier is the request/budget/health plumbing common to the public
// providers. Each provider supplies the endpoint and builds its request.
type publicTier struct {
	name     market.SourceTier
	kind     normalize.ProviderKind
	endpoint probe.EndpointSpec
	prober   *probe.Prober
	apiKey   string
	cfg      ProviderConfig
	budget   *Budget
	health   *ProviderHealth
	cache    *quoteCache
	now      func() time.Time
}

func newPublicTier(name market.SourceTier, kind normalize.ProviderKind, defaultBase, path string, cfg ProviderConfig, apiKey string, p *probe.Prober) (*publicTier, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	spec, err := probe.ParseEndpoint(string(name), base, path)
	if err != nil {
		return nil, fmt.Errorf("%s endpoint: %w", name, err)
	}
	if p == nil {
		p = probe.New()
	}
	return &publicTier{
		name:     name,
		kind:     kind,
		endpoint: spec,
		prober:   p,
		apiKey:   apiKey,
		cfg:      cfg,
		budget:   NewBudget(string(name), cfg.RateLimitPerMinute, cfg.DailyCap),
		health:   NewProviderHealth(string(name)),
		cache:    newQuoteCache(string(name), time.Duration(cfg.CacheTTLSeconds)*time.Second),
		now:      time.Now,
	}, nil
}

func (t *publicTier) Name() market.SourceTier { return t.name }

// fetch serves from the short cache, then spends one budget unit on a
// single request. A refused budget is RateLimitExhausted and makes no call.
func (t *publicTier) fetch(ctx context.Context, inst market.Instrument, req probe.Request) (market.Quote, error) {
	if q, ok := t.cache.get(inst.ID); ok {
		return q, nil
	}
	if !t.budget.Take() {
		st := t.budget.Status()
		observ.IncCounter("quote_budget_exhausted_total", map[string]string{"tier": string(t.name)})
		observ.Log("quote_budget_exhausted", map[string]any{
			"tier":           t.name,
			"symbol":         inst.Symbol,
			"requests_today": st.UsedToday,
			"daily_cap":      st.DailyCap,
		})
		return market.Quote{}, market.NewRateLimitError("quote", string(t.name), "request budget exhausted")
	}

	now := t.now()
	q, _, err := probe.Do(ctx, t.prober, probe.OpQuote, []probe.EndpointSpec{t.endpoint}, req,
		func(_ probe.EndpointSpec, body []byte) (market.Quote, error) {
			return normalize.QuoteFrom(t.kind, body, inst, now)
		})
	if err != nil {
		t.health.RecordError(err)
		return market.Quote{}, err
	}
	t.health.RecordSuccess()
	t.cache.put(inst.ID, q)
	return q, nil
}

// HealthCheck reports the cached health state; it never spends budget.
func (t *publicTier) HealthCheck(context.Context) error {
	return t.health.Err()
}

// BudgetStatus returns current budget usage.
func (t *publicTier) BudgetStatus() BudgetStatus {
	return t.budget.Status()
}

// ProviderInfo returns metadata about this provider.
func (t *publicTier) ProviderInfo() map[string]any {
	st := t.budget.Status()
	return map[string]any{
		"name":           t.name,
		"base_url":       t.endpoint.URL(),
		"api_key_masked": observ.MaskAPIKey(t.apiKey),
		"rate_limit_pm":  st.RatePerMin,
		"daily_cap":      st.DailyCap,
		"requests_today": st.UsedToday,
		"cache_ttl_sec":  t.cfg.CacheTTLSeconds,
		"health":         t.health.Info(),
	}
}
