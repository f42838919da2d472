package adapters

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
)

// DefaultSessionTTL is how long a session probe result is trusted.
const DefaultSessionTTL = 30 * time.Second

// Snapshot field codes requested from the gateway: last, bid, ask, bid
// size, ask size, volume.
const snapshotFields = "31,84,86,88,85,87"

// GatewayTier prices broker contracts from the local gateway's market-data
// snapshot. It is skipped without a snapshot call while the gateway
// session is down.
type GatewayTier struct {
	prober     *probe.Prober
	session    []probe.EndpointSpec
	snapshot   []probe.EndpointSpec
	sessionTTL time.Duration
	health     *ProviderHealth
	now        func() time.Time

	mu        sync.Mutex
	up        bool
	checkedAt time.Time
	lastErr   error
}

// GatewayOption configures a GatewayTier.
type GatewayOption func(*GatewayTier)

// WithSessionTTL sets how long a session check is cached.
func WithSessionTTL(d time.Duration) GatewayOption {
	return func(g *GatewayTier) {
		if d > 0 {
			g.sessionTTL = d
		}
	}
}

// WithGatewayClock overrides the time source for the session cache.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *GatewayTier) { g.now = now }
}

// NewGatewayTier creates the tier over the session and snapshot candidate
// lists. With no session candidates the session is assumed up.
func NewGatewayTier(p *probe.Prober, session, snapshot []probe.EndpointSpec, opts ...GatewayOption) *GatewayTier {
	g := &GatewayTier{
		prober:     p,
		session:    session,
		snapshot:   snapshot,
		sessionTTL: DefaultSessionTTL,
		health:     NewProviderHealth(string(market.TierGateway)),
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GatewayTier) Name() market.SourceTier { return market.TierGateway }

// Supports requires a numeric broker conid.
func (g *GatewayTier) Supports(inst market.Instrument) bool {
	return inst.ConID > 0 && len(g.snapshot) > 0
}

// Quote checks the (cached) session, then takes a snapshot for inst.
func (g *GatewayTier) Quote(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	if err := g.checkSession(ctx); err != nil {
		return market.Quote{}, err
	}

	conid := strconv.FormatInt(inst.ConID, 10)
	now := g.now()
	q, _, err := probe.Do(ctx, g.prober, probe.OpSnapshot, g.snapshot,
		probe.Request{
			Target: conid,
			Params: map[string]string{"conids": conid, "fields": snapshotFields},
		},
		func(_ probe.EndpointSpec, body []byte) (market.Quote, error) {
			return normalize.QuoteFrom(normalize.KindGatewaySnapshot, body, inst, now)
		})
	if err != nil {
		g.health.RecordError(err)
		return market.Quote{}, err
	}
	g.health.RecordSuccess()
	return q, nil
}

// Connected reports whether the gateway session is up, probing it when the
// cached result has expired.
func (g *GatewayTier) Connected(ctx context.Context) bool {
	return g.checkSession(ctx) == nil
}

// HealthCheck is Connected as an error.
func (g *GatewayTier) HealthCheck(ctx context.Context) error {
	return g.checkSession(ctx)
}

// ProviderInfo returns metadata about the gateway tier.
func (g *GatewayTier) ProviderInfo() map[string]any {
	g.mu.Lock()
	up, checked := g.up, g.checkedAt
	g.mu.Unlock()
	return map[string]any{
		"name":            market.TierGateway,
		"session_up":      up,
		"session_checked": checked,
		"session_ttl_sec": g.sessionTTL.Seconds(),
		"health":          g.health.Info(),
	}
}

func (g *GatewayTier) checkSession(ctx context.Context) error {
	if len(g.session) == 0 {
		return nil
	}

	g.mu.Lock()
	if !g.checkedAt.IsZero() && g.now().Sub(g.checkedAt) < g.sessionTTL {
		err := g.lastErr
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	_, used, err := probe.Do(ctx, g.sessionProber(ctx), probe.OpSession, g.session, probe.Request{Target: "session"}, decodeSession)
	if ctx.Err() != nil && !tierExpired(ctx) {
		// A cancelled caller says nothing about the session.
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	wasUp := g.up
	g.checkedAt = g.now()
	g.up = err == nil
	if err != nil {
		g.lastErr = &market.FetchError{Kind: market.KindSessionDown, Op: string(probe.OpSession), Target: "gateway", Message: "gateway session down", Cause: err}
	} else {
		g.lastErr = nil
	}

	gauge := 0.0
	if g.up {
		gauge = 1
	}
	observ.SetGauge("gateway_session_up", gauge, nil)
	if wasUp != g.up {
		observ.Log("gateway_session_change", map[string]any{"up": g.up, "candidate": used.Name})
	}
	return g.lastErr
}

// sessionProber splits what is left of ctx's deadline so every session
// candidate gets an attempt and a share remains for the snapshot.
func (g *GatewayTier) sessionProber(ctx context.Context) *probe.Prober {
	deadline, ok := ctx.Deadline()
	if !ok {
		return g.prober
	}
	share := time.Until(deadline) / time.Duration(len(g.session)+1)
	if share <= 0 {
		return g.prober
	}
	return g.prober.Bounded(share)
}

// decodeSession accepts auth/status style bodies ({"authenticated": true})
// and any other JSON object without an error field.
func decodeSession(_ probe.EndpointSpec, body []byte) (struct{}, error) {
	var status struct {
		Authenticated *bool  `json:"authenticated"`
		Connected     *bool  `json:"connected"`
		Error         string `json:"error"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return struct{}{}, market.NewMalformedError(string(probe.OpSession), "gateway", "invalid session body", err)
	}
	if status.Error != "" {
		return struct{}{}, market.NewMalformedError(string(probe.OpSession), "gateway", status.Error, nil)
	}
	if status.Authenticated != nil && !*status.Authenticated {
		return struct{}{}, market.NewMalformedError(string(probe.OpSession), "gateway", "not authenticated", nil)
	}
	if status.Connected != nil && !*status.Connected {
		return struct{}{}, market.NewMalformedError(string(probe.OpSession), "gateway", "not connected", nil)
	}
	return struct{}{}, nil
}
