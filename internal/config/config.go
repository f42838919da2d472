package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/futures-feed/internal/adapters"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
	"github.com/Rajchodisetti/futures-feed/internal/refresh"
	"github.com/Rajchodisetti/futures-feed/internal/resolver"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"` // 0 keeps streams open
}

type Logging struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type Store struct {
	Backend     string `yaml:"backend"` // sqlite | memory
	Path        string `yaml:"path"`
	JournalPath string `yaml:"journal_path"` // empty disables the journal
}

type Probe struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// Endpoints are the ordered candidate lists per operation.
type Endpoints struct {
	Search   []probe.EndpointSpec `yaml:"search"`
	Detail   []probe.EndpointSpec `yaml:"detail"`
	Snapshot []probe.EndpointSpec `yaml:"snapshot"`
	Session  []probe.EndpointSpec `yaml:"session"`
}

type Gateway struct {
	Enabled       *bool `yaml:"enabled"`
	SessionTTLMs  int   `yaml:"session_ttl_ms"`
	TierTimeoutMs int   `yaml:"tier_timeout_ms"`
}

type Refresh struct {
	ActiveIntervalMs     int `yaml:"active_interval_ms"`
	ConfiguredIntervalMs int `yaml:"configured_interval_ms"`
	MaxBackoffMs         int `yaml:"max_backoff_ms"`
	JitterMs             int `yaml:"jitter_ms"`
	FetchTimeoutMs       int `yaml:"fetch_timeout_ms"`
	Buffer               int `yaml:"buffer"`
}

type Root struct {
	Server    Server                   `yaml:"server"`
	Logging   Logging                  `yaml:"logging"`
	Store     Store                    `yaml:"store"`
	Probe     Probe                    `yaml:"probe"`
	Endpoints Endpoints                `yaml:"endpoints"`
	Gateway   Gateway                  `yaml:"gateway"`
	Providers adapters.QuotesConfig    `yaml:"providers"`
	Refresh   Refresh                  `yaml:"refresh"`
	Synthetic adapters.SyntheticConfig `yaml:"synthetic"`
}

// Load reads a YAML config and fills unset fields with defaults.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// Default is the configuration used when no file is given.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/contracts.db"
	}

	if c.Probe.TimeoutMs == 0 {
		c.Probe.TimeoutMs = int(probe.DefaultTimeout / time.Millisecond)
	}

	d := DefaultEndpoints()
	if len(c.Endpoints.Search) == 0 {
		c.Endpoints.Search = d.Search
	}
	if len(c.Endpoints.Detail) == 0 {
		c.Endpoints.Detail = d.Detail
	}
	if len(c.Endpoints.Snapshot) == 0 {
		c.Endpoints.Snapshot = d.Snapshot
	}
	if len(c.Endpoints.Session) == 0 {
		c.Endpoints.Session = d.Session
	}

	if c.Gateway.SessionTTLMs == 0 {
		c.Gateway.SessionTTLMs = int(adapters.DefaultSessionTTL / time.Millisecond)
	}
	if c.Gateway.TierTimeoutMs == 0 {
		c.Gateway.TierTimeoutMs = int(adapters.DefaultTierTimeout / time.Millisecond)
	}

	if len(c.Providers.Order) == 0 {
		c.Providers.Order = append([]string(nil), adapters.DefaultOrder...)
	}
	if c.Providers.Polygon.APIKeyEnv == "" {
		c.Providers.Polygon.APIKeyEnv = "POLYGON_API_KEY"
	}
	if c.Providers.AlphaVantage.APIKeyEnv == "" {
		c.Providers.AlphaVantage.APIKeyEnv = "ALPHAVANTAGE_API_KEY"
	}
	if c.Providers.CoinGecko.APIKeyEnv == "" {
		c.Providers.CoinGecko.APIKeyEnv = "COINGECKO_API_KEY"
	}

	rd := refresh.DefaultConfig()
	if c.Refresh.ActiveIntervalMs == 0 {
		c.Refresh.ActiveIntervalMs = int(rd.ActiveInterval / time.Millisecond)
	}
	if c.Refresh.ConfiguredIntervalMs == 0 {
		c.Refresh.ConfiguredIntervalMs = int(rd.ConfiguredInterval / time.Millisecond)
	}
	if c.Refresh.MaxBackoffMs == 0 {
		c.Refresh.MaxBackoffMs = int(rd.MaxBackoff / time.Millisecond)
	}
	if c.Refresh.JitterMs == 0 {
		c.Refresh.JitterMs = int(rd.Jitter / time.Millisecond)
	}
	if c.Refresh.FetchTimeoutMs == 0 {
		c.Refresh.FetchTimeoutMs = int(rd.FetchTimeout / time.Millisecond)
	}
	if c.Refresh.Buffer == 0 {
		c.Refresh.Buffer = rd.Buffer
	}
}

// Validate reports every problem found, joined.
func (c Root) Validate() error {
	var errs []error
	positive := map[string]int{
		"probe.timeout_ms":               c.Probe.TimeoutMs,
		"gateway.session_ttl_ms":         c.Gateway.SessionTTLMs,
		"gateway.tier_timeout_ms":        c.Gateway.TierTimeoutMs,
		"refresh.active_interval_ms":     c.Refresh.ActiveIntervalMs,
		"refresh.configured_interval_ms": c.Refresh.ConfiguredIntervalMs,
		"refresh.max_backoff_ms":         c.Refresh.MaxBackoffMs,
		"refresh.fetch_timeout_ms":       c.Refresh.FetchTimeoutMs,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.Refresh.MaxBackoffMs < c.Refresh.ActiveIntervalMs {
		errs = append(errs, fmt.Errorf("refresh.max_backoff_ms (%d) is below active_interval_ms (%d)", c.Refresh.MaxBackoffMs, c.Refresh.ActiveIntervalMs))
	}
	if c.Refresh.JitterMs < 0 {
		errs = append(errs, errors.New("refresh.jitter_ms must not be negative"))
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not sqlite or memory", c.Store.Backend))
	}

	if len(c.Endpoints.Search) == 0 {
		errs = append(errs, errors.New("endpoints.search needs at least one candidate"))
	}
	lists := map[string][]probe.EndpointSpec{
		"search":   c.Endpoints.Search,
		"detail":   c.Endpoints.Detail,
		"snapshot": c.Endpoints.Snapshot,
		"session":  c.Endpoints.Session,
	}
	for op, list := range lists {
		for i, e := range list {
			if err := e.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("endpoints.%s[%d]: %w", op, i, err))
			}
			switch e.Dialect {
			case "", probe.DialectGateway, probe.DialectBridge:
			default:
				errs = append(errs, fmt.Errorf("endpoints.%s[%d]: unknown dialect %q", op, i, e.Dialect))
			}
		}
	}

	for _, name := range c.Providers.Order {
		if name == "gateway" {
			continue
		}
		if _, ok := c.Providers.Provider(name); !ok {
			errs = append(errs, fmt.Errorf("providers.order: unknown provider %q", name))
		}
	}
	return errors.Join(errs...)
}

// ResolverEndpoints returns the candidate lists the resolver probes.
func (c Root) ResolverEndpoints() resolver.Endpoints {
	return resolver.Endpoints{Search: c.Endpoints.Search, Detail: c.Endpoints.Detail}
}

// GatewayEnabled reports whether the broker gateway tier is in the chain.
func (c Root) GatewayEnabled() bool {
	return c.Gateway.Enabled == nil || *c.Gateway.Enabled
}

// RefreshConfig converts the refresh section.
func (c Root) RefreshConfig() refresh.Config {
	return refresh.Config{
		ActiveInterval:     ms(c.Refresh.ActiveIntervalMs),
		ConfiguredInterval: ms(c.Refresh.ConfiguredIntervalMs),
		MaxBackoff:         ms(c.Refresh.MaxBackoffMs),
		Jitter:             ms(c.Refresh.JitterMs),
		FetchTimeout:       ms(c.Refresh.FetchTimeoutMs),
		Buffer:             c.Refresh.Buffer,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (p Probe) Timeout() time.Duration { return ms(p.TimeoutMs) }

func (g Gateway) SessionTTL() time.Duration { return ms(g.SessionTTLMs) }

func (g Gateway) TierTimeout() time.Duration { return ms(g.TierTimeoutMs) }

func (s Server) ReadTimeout() time.Duration { return ms(s.ReadTimeoutMs) }

func (s Server) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMs) }
