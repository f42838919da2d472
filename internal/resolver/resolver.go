// Package resolver discovers contracts for a symbol: cache first, then a
// base search over the configured candidates, then best-effort per-contract
// detail enrichment.
package resolver

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/normalize"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
	"github.com/Rajchodisetti/futures-feed/internal/store"
)

// State is a step of the discovery state machine.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateEnriching State = "enriching"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
)

// Query defaults for a bare symbol.
const (
	DefaultSecType  = "FUT"
	DefaultExchange = "CME"
	DefaultCurrency = "USD"
)

// Query is a contract search.
type Query struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// Normalize upper-cases the query and fills defaults.
func (q Query) Normalize() Query {
	q.Symbol = market.NormalizeSymbol(q.Symbol)
	q.SecType = strings.ToUpper(strings.TrimSpace(q.SecType))
	q.Exchange = strings.ToUpper(strings.TrimSpace(q.Exchange))
	q.Currency = strings.ToUpper(strings.TrimSpace(q.Currency))
	if q.SecType == "" {
		q.SecType = DefaultSecType
	}
	if q.Exchange == "" {
		q.Exchange = DefaultExchange
	}
	if q.Currency == "" {
		q.Currency = DefaultCurrency
	}
	return q
}

func (q Query) key() string {
	return q.Symbol + "|" + q.SecType + "|" + q.Exchange + "|" + q.Currency
}

func (q Query) params() map[string]string {
	return map[string]string{
		"symbol":   q.Symbol,
		"secType":  q.SecType,
		"exchange": q.Exchange,
		"currency": q.Currency,
	}
}

// Result is the outcome of one resolution.
type Result struct {
	Query     Query             `json:"query"`
	Contracts []market.Contract `json:"contracts"`
	State     State             `json:"state"`
	FromCache bool              `json:"fromCache"`
	Shared    bool              `json:"shared"`           // coalesced with a concurrent identical lookup
	Source    string            `json:"source,omitempty"` // search candidate that answered
	Enriched  int               `json:"enriched"`         // contracts with a successful detail lookup
	TraceID   string            `json:"traceId,omitempty"`
}

// Endpoints are the candidate lists the resolver probes.
type Endpoints struct {
	Search []probe.EndpointSpec
	Detail []probe.EndpointSpec
}

// Resolver is stateless across calls apart from the in-flight map; all
// persisted state lives in the injected Store.
type Resolver struct {
	store     store.Store
	prober    *probe.Prober
	endpoints Endpoints
	group     singleflight.Group
	now       func() time.Time

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the cancellable context behind one shared lookup and the
// number of callers still waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used to stamp normalized contracts.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver.
func New(st store.Store, p *probe.Prober, endpoints Endpoints, opts ...Option) *Resolver {
	r := &Resolver{store: st, prober: p, endpoints: endpoints, now: time.Now, flights: map[string]*flight{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the contracts for q, from the store when it has any.
// Concurrent identical lookups share one probe sequence; each caller still
// returns as soon as its own ctx is done, and the probes are abandoned once
// no caller is left waiting.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	return r.resolve(ctx, q, false)
}

// Refresh is Resolve without the cache short-circuit.
func (r *Resolver) Refresh(ctx context.Context, q Query) (Result, error) {
	return r.resolve(ctx, q, true)
}

func (r *Resolver) resolve(ctx context.Context, q Query, force bool) (Result, error) {
	q = q.Normalize()
	if q.Symbol == "" {
		return Result{Query: q, State: StateFailed, Contracts: []market.Contract{}}, market.NewBadSymbolError("", "empty symbol")
	}

	if !force {
		if res, ok := r.fromCache(ctx, q); ok {
			return res, nil
		}
	}

	key := "resolve:" + q.key()
	if force {
		key = "refresh:" + q.key()
	}
	f := r.join(ctx, key)
	defer r.leave(key, f)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.discover(f.ctx, q, force)
	})

	select {
	case <-ctx.Done():
		return Result{Query: q, State: StateFailed, Contracts: []market.Contract{}}, ctx.Err()
	case res := <-ch:
		out := res.Val.(Result)
		out.Contracts = append([]market.Contract(nil), out.Contracts...)
		out.Shared = res.Shared
		return out, res.Err
	}
}

// join registers the caller on the flight for key, creating it when none
// is running. The flight outlives any single caller.
func (r *Resolver) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops the caller from f. The last caller out cancels the shared
// work and forgets the key so later lookups start afresh.
func (r *Resolver) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	r.group.Forget(key)
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
	}
}

func (r *Resolver) fromCache(ctx context.Context, q Query) (Result, bool) {
	cached, err := r.store.Get(ctx, q.Symbol)
	if err != nil {
		observ.Warn("resolver_store_read_failed", map[string]any{"symbol": q.Symbol, "error": err})
		return Result{}, false
	}
	if len(cached) == 0 {
		return Result{}, false
	}
	observ.IncCounter("resolve_total", map[string]string{"state": string(StateResolved), "source": "cache"})
	return Result{Query: q, Contracts: cached, State: StateResolved, FromCache: true}, true
}

// discover runs Searching -> Enriching -> Resolved|Failed. It always returns
// a Result, with an empty contract set on failure.
func (r *Resolver) discover(ctx context.Context, q Query, force bool) (Result, error) {
	start := time.Now()
	res := Result{Query: q, State: StateIdle, Contracts: []market.Contract{}, TraceID: uuid.NewString()}
	defer func() {
		observ.RecordDuration("resolve_latency", time.Since(start), map[string]string{"state": string(res.State)})
		observ.IncCounter("resolve_total", map[string]string{"state": string(res.State), "source": "network"})
	}()

	// A flight that started after another just wrote the store is served
	// from it.
	if !force {
		if cached, ok := r.fromCache(ctx, q); ok {
			cached.TraceID = res.TraceID
			return cached, nil
		}
	}

	r.transition(&res, StateSearching, nil)
	now := r.now()
	contracts, used, err := probe.Do(ctx, r.prober, probe.OpSearch, r.endpoints.Search,
		probe.Request{Target: q.Symbol, Params: q.params()},
		func(spec probe.EndpointSpec, body []byte) ([]market.Contract, error) {
			kind := normalize.KindGatewaySearch
			if spec.Dialect == probe.DialectBridge {
				kind = normalize.KindBridgeSearch
			}
			return normalize.ContractsFrom(kind, body, now)
		})
	if err != nil {
		r.transition(&res, StateFailed, map[string]any{"error": err})
		return res, err
	}
	res.Source = used.Name
	if len(contracts) == 0 {
		err := &market.FetchError{Kind: market.KindNoContractsFound, Op: "search", Target: q.Symbol, Message: "search returned no contracts"}
		r.transition(&res, StateFailed, map[string]any{"candidate": used.Name})
		return res, err
	}

	if len(r.endpoints.Detail) > 0 {
		r.transition(&res, StateEnriching, map[string]any{"contracts": len(contracts), "candidate": used.Name})
		for i, c := range contracts {
			if ctx.Err() != nil {
				break
			}
			info, _, err := probe.Do(ctx, r.prober, probe.OpDetail, r.endpoints.Detail, detailRequest(c, q), decodeInfo)
			if err != nil {
				observ.Log("resolver_enrich_failed", map[string]any{"trace_id": res.TraceID, "conid": c.ID, "error": err})
				continue
			}
			contracts[i] = normalize.Enrich(c, info)
			res.Enriched++
		}
	}

	if err := r.store.Put(ctx, q.Symbol, contracts); err != nil {
		observ.Warn("resolver_store_write_failed", map[string]any{"trace_id": res.TraceID, "symbol": q.Symbol, "error": err})
	} else if stored, err := r.store.Get(ctx, q.Symbol); err == nil && len(stored) > 0 {
		contracts = stored
	}
	res.Contracts = contracts
	r.transition(&res, StateResolved, map[string]any{"contracts": len(contracts), "enriched": res.Enriched})
	return res, nil
}

func (r *Resolver) transition(res *Result, to State, kv map[string]any) {
	fields := map[string]any{
		"trace_id": res.TraceID,
		"symbol":   res.Query.Symbol,
		"from":     res.State,
		"to":       to,
	}
	for k, v := range kv {
		fields[k] = v
	}
	res.State = to
	observ.Log("resolver_state", fields)
}

func detailRequest(c market.Contract, q Query) probe.Request {
	secType := string(c.SecType)
	if c.SecType == "" || c.SecType == market.SecUnknown {
		secType = q.SecType
	}
	params := map[string]string{
		"conid":    c.ID,
		"sectype":  secType,
		"exchange": firstNonEmpty(c.Exchange, q.Exchange),
	}
	if c.ContractMonth != "" {
		params["month"] = c.ContractMonth
	}
	return probe.Request{
		Target:     c.ID,
		Params:     params,
		PathParams: map[string]string{"conid": c.ID},
	}
}

func decodeInfo(_ probe.EndpointSpec, body []byte) (normalize.GatewayInfo, error) {
	return normalize.DecodeGatewayInfo(body)
}

// ContractForMonth resolves symbol and picks the contract for month
// ("202512", "DEC25" or "2025-12"). Without an exact match it falls back
// to the nearest expiry: the first one after the month, or the last one
// before it when the curve ends earlier.
func (r *Resolver) ContractForMonth(ctx context.Context, symbol, month string) (market.Contract, error) {
	res, err := r.Resolve(ctx, Query{Symbol: symbol})
	if err != nil {
		return market.Contract{}, err
	}
	want, ok := parseMonth(month)
	if !ok {
		return market.Contract{}, market.NewBadSymbolError(month, "unrecognised contract month")
	}

	var (
		best      market.Contract
		bestMonth int
		found     bool
		latest    market.Contract
		latestM   int
	)
	for _, c := range res.Contracts {
		m, ok := contractMonth(c)
		if !ok {
			continue
		}
		if m == want {
			return c, nil
		}
		if m > want && (!found || m < bestMonth) {
			best, bestMonth, found = c, m, true
		}
		if m > latestM {
			latest, latestM = c, m
		}
	}
	if found {
		return best, nil
	}
	if latestM > 0 {
		return latest, nil
	}
	return market.Contract{}, market.NewNotFoundError("contract_for_month", market.NormalizeSymbol(symbol)+" "+month)
}

// parseMonth returns yyyymm as an int.
func parseMonth(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	layouts := []struct{ layout, value string }{
		{"200601", s},
		{"2006-01", s},
		{"Jan06", titleMonth(s)},
		{"Jan 06", titleMonth(s)},
	}
	for _, l := range layouts {
		if t, err := time.Parse(l.layout, l.value); err == nil {
			return t.Year()*100 + int(t.Month()), true
		}
	}
	return 0, false
}

func titleMonth(s string) string {
	if len(s) < 3 {
		return s
	}
	return s[:1] + strings.ToLower(s[1:3]) + s[3:]
}

func contractMonth(c market.Contract) (int, bool) {
	if m, ok := parseMonth(c.ContractMonth); ok {
		return m, true
	}
	if len(c.ExpirationDate) >= 7 {
		y, err1 := strconv.Atoi(c.ExpirationDate[:4])
		m, err2 := strconv.Atoi(c.ExpirationDate[5:7])
		if err1 == nil && err2 == nil {
			return y*100 + m, true
		}
	}
	return 0, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
