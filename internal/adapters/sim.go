package adapters

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

// SyntheticConfig tunes the synthetic generator. Volatilities are daily, as
// fractions (0.02 = 2%). A zero Seed seeds from the clock.
type SyntheticConfig struct {
	Seed             int64   `yaml:"seed"`
	FutureVolatility float64 `yaml:"future_volatility"`
	EquityVolatility float64 `yaml:"equity_volatility"`
	CryptoVolatility float64 `yaml:"crypto_volatility"`
}

// SyntheticTier fabricates quotes: a random walk around the last real price
// seen for the instrument, or its catalogue base price. It is the terminal
// tier and never fails.
type SyntheticTier struct {
	mu     sync.Mutex
	cfg    SyntheticConfig
	random *rand.Rand
	walk   map[string]float64 // instrument id -> current simulated price
	now    func() time.Time
}

// NewSyntheticTier creates a generator with default volatilities.
func NewSyntheticTier(cfgs ...SyntheticConfig) *SyntheticTier {
	var cfg SyntheticConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.FutureVolatility <= 0 {
		cfg.FutureVolatility = 0.015
	}
	if cfg.EquityVolatility <= 0 {
		cfg.EquityVolatility = 0.025
	}
	if cfg.CryptoVolatility <= 0 {
		cfg.CryptoVolatility = 0.04
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticTier{
		cfg:    cfg,
		random: rand.New(rand.NewSource(seed)),
		walk:   make(map[string]float64),
		now:    time.Now,
	}
}

func (s *SyntheticTier) Name() market.SourceTier { return market.TierSynthetic }

func (s *SyntheticTier) Supports(market.Instrument) bool { return true }

// Quote is Generate behind the QuoteTier signature.
func (s *SyntheticTier) Quote(_ context.Context, inst market.Instrument) (market.Quote, error) {
	return s.Generate(inst), nil
}

// Observe anchors the walk for inst at a real price.
func (s *SyntheticTier) Observe(inst market.Instrument, price market.Num) {
	if !price.Known || price.Value <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walk[instrumentKey(inst)] = price.Value
}

// LastPrice returns the walk's current price for inst, if any.
func (s *SyntheticTier) LastPrice(inst market.Instrument) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.walk[instrumentKey(inst)]
	return p, ok
}

// Generate produces the next synthetic quote for inst. LastPrice is
// always positive.
func (s *SyntheticTier) Generate(inst market.Instrument) market.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instrumentKey(inst)
	base := basePrice(inst)
	price, ok := s.walk[key]
	if !ok || price <= 0 {
		price = base
	}

	price *= 1 + s.priceMovement(s.volatility(inst.SecType))
	tick := inst.TickSize
	if tick <= 0 {
		tick = tickSize(price)
	}
	// A walk that wandered to zero restarts at the base.
	if price < tick {
		price = base
	}
	last := math.Max(roundToTick(price, tick), tick)
	s.walk[key] = last

	// One to three ticks either side, never below one tick.
	halfSpread := float64(1+s.random.Intn(3)) * tick
	bid := math.Max(roundToTick(last-halfSpread, tick), tick)
	ask := roundToTick(last+halfSpread, tick)

	id := inst.ID
	if id == "" {
		id = market.FormatInstrumentID(inst.Symbol, inst.ConID)
	}
	return market.Quote{
		InstrumentID: id,
		Symbol:       inst.Symbol,
		LastPrice:    market.NumOf(last),
		Bid:          market.NumOf(bid),
		Ask:          market.NumOf(ask),
		BidSize:      market.NumOf(float64(1 + s.random.Intn(50))),
		AskSize:      market.NumOf(float64(1 + s.random.Intn(50))),
		Volume:       market.NumOf(float64(s.volume(inst.SecType))),
		Timestamp:    s.now(),
		SourceTier:   market.TierSynthetic,
	}
}

// priceMovement converts daily volatility to a one-minute step, assuming
// 6.5 trading hours = 390 minutes.
func (s *SyntheticTier) priceMovement(dailyVol float64) float64 {
	minuteVol := dailyVol / math.Sqrt(390)
	return s.random.NormFloat64() * minuteVol
}

func (s *SyntheticTier) volatility(t market.SecType) float64 {
	switch t {
	case market.SecFuture:
		return s.cfg.FutureVolatility
	case market.SecCrypto:
		return s.cfg.CryptoVolatility
	default:
		return s.cfg.EquityVolatility
	}
}

// volume returns 70%-130% of a typical daily volume for the type.
func (s *SyntheticTier) volume(t market.SecType) int64 {
	var typical float64
	switch t {
	case market.SecFuture:
		typical = 250_000
	case market.SecCrypto:
		typical = 1_000_000
	default:
		typical = 10_000_000
	}
	return int64(typical * (0.7 + s.random.Float64()*0.6))
}

func instrumentKey(inst market.Instrument) string {
	if inst.ID != "" {
		return inst.ID
	}
	return market.FormatInstrumentID(inst.Symbol, inst.ConID)
}

func basePrice(inst market.Instrument) float64 {
	if inst.BasePrice > 0 {
		return inst.BasePrice
	}
	if known, ok := market.LookupInstrument(inst.Symbol); ok && known.BasePrice > 0 {
		return known.BasePrice
	}
	return market.DefaultBasePrice
}

// tickSize returns a tick for the price level when the instrument has none.
func tickSize(price float64) float64 {
	if price >= 1.00 {
		return 0.01
	}
	return 0.0001
}

func roundToTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}
