package adapters

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BudgetStatus is a snapshot of a provider's request budget.
type BudgetStatus struct {
	Provider     string    `json:"provider"`
	RatePerMin   int       `json:"rate_limit_per_minute"`
	DailyCap     int       `json:"daily_cap"` // 0 means uncapped
	UsedToday    int       `json:"requests_today"`
	Rejected     int       `json:"rejected_today"`
	ResetAt      time.Time `json:"reset_at"`
	TokensNow    float64   `json:"tokens_now"`
	CapExhausted bool      `json:"cap_exhausted"`
}

// Budget combines a per-minute token bucket with a daily request cap.
// Take never blocks: a request that does not fit is simply refused.
type Budget struct {
	mu        sync.Mutex
	provider  string
	perMinute int
	dailyCap  int
	limiter   *rate.Limiter
	used      int
	rejected  int
	resetAt   time.Time
	now       func() time.Time
}

// NewBudget creates a budget. perMinute <= 0 disables the per-minute limit;
// dailyCap <= 0 disables the cap.
func NewBudget(provider string, perMinute, dailyCap int) *Budget {
	b := &Budget{provider: provider, perMinute: perMinute, dailyCap: dailyCap, now: time.Now}
	if perMinute > 0 {
		burst := perMinute
		if burst > 2 {
			burst = 2
		}
		b.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
	}
	b.resetAt = nextReset(b.now())
	return b
}

// Take reserves one request, reporting false when the minute or the day is
// used up.
func (b *Budget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !now.Before(b.resetAt) {
		b.used, b.rejected = 0, 0
		b.resetAt = nextReset(now)
	}
	if b.dailyCap > 0 && b.used >= b.dailyCap {
		b.rejected++
		return false
	}
	if b.limiter != nil && !b.limiter.AllowN(now, 1) {
		b.rejected++
		return false
	}
	b.used++
	return true
}

// Status returns current usage.
func (b *Budget) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BudgetStatus{
		Provider:     b.provider,
		RatePerMin:   b.perMinute,
		DailyCap:     b.dailyCap,
		UsedToday:    b.used,
		Rejected:     b.rejected,
		ResetAt:      b.resetAt,
		CapExhausted: b.dailyCap > 0 && b.used >= b.dailyCap,
	}
	if b.limiter != nil {
		st.TokensNow = b.limiter.TokensAt(b.now())
	}
	return st
}

// Daily caps reset at midnight UTC.
func nextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
