package adapters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

func TestBudgetDailyCap(t *testing.T) {
	now := time.Date(2025, 10, 1, 23, 0, 0, 0, time.UTC)
	b := NewBudget("alphavantage", 0, 2)
	b.now = func() time.Time { return now }
	b.resetAt = nextReset(now)

	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	st := b.Status()
	assert.True(t, st.CapExhausted)
	assert.Equal(t, 2, st.UsedToday)
	assert.Equal(t, 1, st.Rejected)

	now = now.Add(2 * time.Hour)
	assert.True(t, b.Take())
	st = b.Status()
	assert.Equal(t, 1, st.UsedToday)
	assert.Equal(t, time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), st.ResetAt)
}

func TestBudgetPerMinute(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	b := NewBudget("polygon", 5, 0)
	b.now = func() time.Time { return now }

	// Burst of two, then one token every 12s.
	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())

	now = now.Add(12 * time.Second)
	assert.True(t, b.Take())
	assert.False(t, b.Take())
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget("coingecko", 0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, b.Take())
	}
	assert.False(t, b.Status().CapExhausted)
}

func TestProviderHealthTransitions(t *testing.T) {
	ph := NewProviderHealth("polygon")
	assert.Equal(t, ProviderStatusHealthy, ph.Status())

	boom := errors.New("HTTP 502")
	ph.RecordError(boom)
	assert.Equal(t, ProviderStatusDegraded, ph.Status())
	assert.NoError(t, ph.Err())

	ph.RecordError(boom)
	ph.RecordError(boom)
	assert.Equal(t, ProviderStatusFailed, ph.Status())
	assert.ErrorContains(t, ph.Err(), "HTTP 502")

	ph.RecordSuccess()
	assert.Equal(t, ProviderStatusHealthy, ph.Status())
	assert.NoError(t, ph.Err())
}

func TestSyntheticAlwaysPositive(t *testing.T) {
	s := NewSyntheticTier(SyntheticConfig{Seed: 42, CryptoVolatility: 5})
	insts := []market.Instrument{
		{ID: "ada", Symbol: "ADA", SecType: market.SecCrypto},
		{ID: "doge", Symbol: "DOGE", SecType: market.SecCrypto, TickSize: 0.0001},
		{ID: "mym", Symbol: "MYM", SecType: market.SecFuture, TickSize: 1},
		{ID: "zzz", Symbol: "ZZZ"},
	}
	for _, inst := range insts {
		for i := 0; i < 500; i++ {
			q := s.Generate(inst)
			require.True(t, q.LastPrice.Known)
			require.Greater(t, q.LastPrice.Value, 0.0, inst.Symbol)
			require.LessOrEqual(t, q.Bid.Value, q.Ask.Value)
			require.Equal(t, market.TierSynthetic, q.SourceTier)
			require.Equal(t, inst.ID, q.InstrumentID)
		}
	}
}

func TestSyntheticTickRounding(t *testing.T) {
	s := NewSyntheticTier(SyntheticConfig{Seed: 3})
	inst := market.Instrument{ID: "730283085", Symbol: "MES", SecType: market.SecFuture, TickSize: 0.25}
	for i := 0; i < 50; i++ {
		q := s.Generate(inst)
		ticks := q.LastPrice.Value / 0.25
		assert.InDelta(t, ticks, float64(int64(ticks+0.5)), 1e-6)
	}
}

func TestSyntheticStartsFromCatalogueBase(t *testing.T) {
	s := NewSyntheticTier(SyntheticConfig{Seed: 9})
	q := s.Generate(market.Instrument{Symbol: "MES", SecType: market.SecFuture, TickSize: 0.25})
	assert.InDelta(t, 5200, q.LastPrice.Value, 5200*0.02)
	assert.Equal(t, "mes", q.InstrumentID)

	s.Observe(market.Instrument{ID: "mes"}, market.NumOf(6000))
	q = s.Generate(market.Instrument{Symbol: "MES", SecType: market.SecFuture, TickSize: 0.25})
	assert.InDelta(t, 6000, q.LastPrice.Value, 6000*0.02)
}
