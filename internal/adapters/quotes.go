package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// QuoteTier is one source in the fallback chain.
type QuoteTier interface {
	// Name is the SourceTier stamped on quotes this tier produces.
	Name() market.SourceTier
	// Supports reports whether the tier can price inst at all. Unsupported
	// tiers are skipped without any I/O.
	Supports(inst market.Instrument) bool
	// Quote prices inst. A quote without any known price is an error.
	Quote(ctx context.Context, inst market.Instrument) (market.Quote, error)
}

// HealthChecker is implemented by tiers that can report upstream health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Budgeted is implemented by tiers that spend a request budget.
type Budgeted interface {
	BudgetStatus() BudgetStatus
}

// DefaultTierTimeout bounds a single tier attempt.
const DefaultTierTimeout = 3 * time.Second

// errTierDeadline is the cause attached to a tier context when the tier
// runs out of time, as opposed to the caller going away.
var errTierDeadline = errors.New("tier deadline exceeded")

func tierExpired(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errTierDeadline)
}

// Fetcher walks the tier chain for an instrument: gateway, the public
// providers in configured order, then the synthetic generator.
type Fetcher struct {
	tiers     []QuoteTier
	synthetic *SyntheticTier
	timeout   time.Duration
	now       func() time.Time
}

// NewFetcher builds a chain. synthetic is always the terminal tier.
func NewFetcher(timeout time.Duration, synthetic *SyntheticTier, tiers ...QuoteTier) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTierTimeout
	}
	if synthetic == nil {
		synthetic = NewSyntheticTier()
	}
	return &Fetcher{tiers: tiers, synthetic: synthetic, timeout: timeout, now: time.Now}
}

// Tiers returns the network tiers in order, without the synthetic tier.
func (f *Fetcher) Tiers() []QuoteTier {
	return append([]QuoteTier(nil), f.tiers...)
}

// Synthetic returns the terminal tier.
func (f *Fetcher) Synthetic() *SyntheticTier { return f.synthetic }

// FetchQuote returns a quote for inst. It never fails: when every network
// tier is skipped or errors, the synthetic tier answers.
func (f *Fetcher) FetchQuote(ctx context.Context, inst market.Instrument) market.Quote {
	if inst.ID == "" {
		inst.ID = market.FormatInstrumentID(inst.Symbol, inst.ConID)
	}
	for _, tier := range f.tiers {
		if ctx.Err() != nil {
			break
		}
		name := string(tier.Name())
		if !tier.Supports(inst) {
			observ.IncCounter("quote_tier_attempts_total", map[string]string{"tier": name, "outcome": "unsupported"})
			continue
		}

		start := time.Now()
		q, err := f.attempt(ctx, tier, inst)
		elapsed := time.Since(start)
		observ.RecordDuration("quote_tier_latency", elapsed, map[string]string{"tier": name})
		if err != nil {
			outcome := outcomeOf(err)
			observ.IncCounter("quote_tier_attempts_total", map[string]string{"tier": name, "outcome": outcome})
			observ.Log("quote_tier_skipped", map[string]any{
				"tier":       name,
				"instrument": inst.ID,
				"symbol":     inst.Symbol,
				"outcome":    outcome,
				"error":      err.Error(),
				"elapsed_ms": elapsed.Milliseconds(),
			})
			continue
		}

		observ.IncCounter("quote_tier_attempts_total", map[string]string{"tier": name, "outcome": "success"})
		observ.IncCounter("quote_source_total", map[string]string{"tier": name})
		f.synthetic.Observe(inst, q.LastPrice)
		return q
	}

	q := f.synthetic.Generate(inst)
	observ.IncCounter("quote_source_total", map[string]string{"tier": string(market.TierSynthetic)})
	return q
}

// attempt runs one tier under its own timeout. A panicking tier counts as
// a failed tier.
func (f *Fetcher) attempt(ctx context.Context, tier QuoteTier, inst market.Instrument) (q market.Quote, err error) {
	tctx, cancel := context.WithTimeoutCause(ctx, f.timeout, errTierDeadline)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tier %s panicked: %v", tier.Name(), r)
		}
	}()

	q, err = tier.Quote(tctx, inst)
	if err != nil {
		return market.Quote{}, err
	}
	if !q.LastPrice.Known && !q.Bid.Known && !q.Ask.Known {
		return market.Quote{}, market.NewMalformedError("quote", string(tier.Name()), "no price in response", nil)
	}
	q.SourceTier = tier.Name()
	q.InstrumentID = inst.ID
	if q.Symbol == "" {
		q.Symbol = inst.Symbol
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = f.now()
	}
	return q, nil
}

func outcomeOf(err error) string {
	if kind, ok := market.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return "error"
}
