// Package refresh keeps quotes for the active instrument and every
// configured contract current, publishing them on a single channel.
package refresh

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// QuoteSource prices an instrument. It must always return a quote.
type QuoteSource interface {
	FetchQuote(ctx context.Context, inst market.Instrument) market.Quote
}

// ContractSource lists the configured contracts to keep warm.
type ContractSource interface {
	Configured(ctx context.Context) ([]market.Contract, error)
}

// Config holds scheduler configuration.
type Config struct {
	ActiveInterval     time.Duration // active instrument (default: 30s)
	ConfiguredInterval time.Duration // configured contracts (default: 30s)
	MaxBackoff         time.Duration // cap for degraded backoff (default: 5m)
	Jitter             time.Duration // added to backed-off delays (default: 2s)
	FetchTimeout       time.Duration // per fetch (default: 10s)
	Buffer             int           // Updates() capacity (default: 64)
}

// DefaultConfig returns the default intervals.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:     30 * time.Second,
		ConfiguredInterval: 30 * time.Second,
		MaxBackoff:         5 * time.Minute,
		Jitter:             2 * time.Second,
		FetchTimeout:       10 * time.Second,
		Buffer:             64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = d.ActiveInterval
	}
	if c.ConfiguredInterval <= 0 {
		c.ConfiguredInterval = d.ConfiguredInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Buffer <= 0 {
		c.Buffer = d.Buffer
	}
	return c
}

// Update is one published quote. Generation identifies the Select call the
// active quote belongs to; configured-contract updates carry the generation
// current when they were published.
type Update struct {
	Quote      market.Quote      `json:"quote"`
	Instrument market.Instrument `json:"instrument"`
	Active     bool              `json:"active"`
	Generation uint64            `json:"generation"`
}

type result struct {
	quote      market.Quote
	inst       market.Instrument
	active     bool
	generation uint64
	sweepDone  bool
}

// Scheduler drives the refresh loop. Fetches run off-loop and report back
// on a channel; only the loop goroutine touches timers and backoff state.
type Scheduler struct {
	cfg       Config
	quotes    QuoteSource
	contracts ContractSource

	updates chan Update
	results chan result
	kick    chan struct{}

	mu           sync.Mutex
	active       market.Instrument
	hasActive    bool
	generation   uint64
	cancelActive context.CancelFunc

	// loop-owned
	degraded    int
	inflight    bool
	inflightGen uint64
	sweeping    bool
	random      *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. contracts may be nil to refresh the active
// instrument only.
func New(cfg Config, quotes QuoteSource, contracts ContractSource) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:       cfg,
		quotes:    quotes,
		contracts: contracts,
		updates:   make(chan Update, cfg.Buffer),
		results:   make(chan result, 16),
		kick:      make(chan struct{}, 1),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Updates is the stream of published quotes. Updates are dropped, not
// queued, when the consumer falls behind.
func (s *Scheduler) Updates() <-chan Update { return s.updates }

// Active returns the selected instrument and its generation.
func (s *Scheduler) Active() (market.Instrument, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.generation, s.hasActive
}

// Select makes inst the active instrument. Any fetch still running for the
// previous instrument is cancelled and its result discarded; a fetch for
// inst starts immediately. It returns the new generation.
func (s *Scheduler) Select(inst market.Instrument) uint64 {
	if inst.ID == "" {
		inst.ID = market.FormatInstrumentID(inst.Symbol, inst.ConID)
	}
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.active = inst
	s.hasActive = true
	if s.cancelActive != nil {
		s.cancelActive()
		s.cancelActive = nil
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	observ.Log("refresh_active_selected", map[string]any{
		"instrument": inst.ID,
		"symbol":     inst.Symbol,
		"generation": gen,
	})
	return gen
}

// Start begins the refresh loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	observ.Log("refresh_scheduler_started", map[string]any{
		"active_interval_ms":     s.cfg.ActiveInterval.Milliseconds(),
		"configured_interval_ms": s.cfg.ConfiguredInterval.Milliseconds(),
		"max_backoff_ms":         s.cfg.MaxBackoff.Milliseconds(),
	})
	return nil
}

// Stop cancels in-flight fetches and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		observ.Log("refresh_scheduler_stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	activeTimer := time.NewTimer(s.cfg.ActiveInterval)
	activeTimer.Stop()
	defer activeTimer.Stop()
	configuredTimer := time.NewTimer(s.cfg.ConfiguredInterval)
	defer configuredTimer.Stop()

	// Sweep configured contracts immediately on start.
	s.startSweep()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.kick:
			s.degraded = 0
			activeTimer.Stop()
			s.launchActive()

		case <-activeTimer.C:
			if s.inflight {
				activeTimer.Reset(s.cfg.ActiveInterval)
				continue
			}
			s.launchActive()

		case <-configuredTimer.C:
			s.startSweep()
			configuredTimer.Reset(s.cfg.ConfiguredInterval)

		case r := <-s.results:
			switch {
			case r.sweepDone:
				s.sweeping = false
			case r.active:
				if r.generation == s.inflightGen {
					s.inflight = false
				}
				if !s.current(r.generation) {
					observ.IncCounter("refresh_stale_discarded_total", nil)
					observ.Debug("refresh_stale_discarded", map[string]any{
						"instrument": r.inst.ID,
						"generation": r.generation,
					})
					continue
				}
				s.publish(Update{Quote: r.quote, Instrument: r.inst, Active: true, Generation: r.generation})
				activeTimer.Reset(s.nextDelay(r.quote))
			default:
				_, gen, _ := s.Active()
				s.publish(Update{Quote: r.quote, Instrument: r.inst, Generation: gen})
			}
		}
	}
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// launchActive starts a fetch for the current active instrument, replacing
// any fetch already running.
func (s *Scheduler) launchActive() {
	s.mu.Lock()
	if !s.hasActive {
		s.mu.Unlock()
		return
	}
	inst, gen := s.active, s.generation
	if s.cancelActive != nil {
		s.cancelActive()
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	s.cancelActive = cancel
	s.mu.Unlock()

	s.inflight = true
	s.inflightGen = gen
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		q := s.quotes.FetchQuote(ctx, inst)
		s.deliver(result{quote: q, inst: inst, active: true, generation: gen})
	}()
}

// startSweep refreshes every configured contract once, sequentially, off
// the loop. Overlapping sweeps are skipped.
func (s *Scheduler) startSweep() {
	if s.contracts == nil || s.sweeping {
		return
	}
	s.sweeping = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.deliver(result{sweepDone: true})

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		contracts, err := s.contracts.Configured(ctx)
		cancel()
		if err != nil {
			observ.Warn("refresh_configured_failed", map[string]any{"error": err.Error()})
			return
		}
		for _, c := range contracts {
			if s.ctx.Err() != nil {
				return
			}
			inst := market.InstrumentFromContract(c)
			if a, _, ok := s.Active(); ok && a.ID == inst.ID {
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
			q := s.quotes.FetchQuote(ctx, inst)
			cancel()
			s.deliver(result{quote: q, inst: inst})
		}
		observ.IncCounter("refresh_sweeps_total", nil)
	}()
}

func (s *Scheduler) deliver(r result) {
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) publish(u Update) {
	kind := "configured"
	if u.Active {
		kind = "active"
	}
	select {
	case s.updates <- u:
		observ.IncCounter("refresh_updates_total", map[string]string{"kind": kind, "tier": string(u.Quote.SourceTier)})
	default:
		observ.IncCounter("refresh_updates_dropped_total", map[string]string{"kind": kind})
	}
}

// nextDelay tracks consecutive degraded quotes for the active instrument
// and returns the wait before the next fetch.
func (s *Scheduler) nextDelay(q market.Quote) time.Duration {
	if !q.SourceTier.Degraded() {
		s.degraded = 0
		return s.cfg.ActiveInterval
	}
	s.degraded++
	d := Backoff(s.cfg.ActiveInterval, s.degraded, s.cfg.MaxBackoff)
	if s.cfg.Jitter > 0 {
		d += time.Duration(s.random.Int63n(int64(s.cfg.Jitter)))
	}
	observ.SetGauge("refresh_backoff_seconds", d.Seconds(), nil)
	return d
}

// Backoff returns base * 2^n, capped at limit.
func Backoff(base time.Duration, n int, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return min(d, limit)
}
