package adapters

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// ProviderStatus represents the health state of a data provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusFailed   ProviderStatus = "failed"
)

// Consecutive failures before a provider is reported degraded / failed.
const (
	degradedAfter = 1
	failedAfter   = 3
)

// ProviderHealth tracks provider reliability. It feeds the
// provider_health_status gauge that /health reads.
type ProviderHealth struct {
	mu                sync.RWMutex
	name              string
	status            ProviderStatus
	lastSuccessful    time.Time
	lastError         time.Time
	lastErrorMessage  string
	errorCount        int64
	successCount      int64
	consecutiveErrors int
}

// NewProviderHealth creates a healthy tracker and publishes its gauge.
func NewProviderHealth(name string) *ProviderHealth {
	ph := &ProviderHealth{name: name, status: ProviderStatusHealthy}
	observ.SetGauge("provider_health_status", 1, map[string]string{"provider": name})
	return ph
}

// RecordSuccess records a successful upstream call.
func (ph *ProviderHealth) RecordSuccess() {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.lastSuccessful = time.Now()
	ph.successCount++
	ph.consecutiveErrors = 0
	ph.transition(ProviderStatusHealthy)
}

// RecordError records a failed upstream call. Budget refusals are not
// upstream failures and should not be recorded here.
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.lastError = time.Now()
	ph.errorCount++
	ph.consecutiveErrors++
	if err != nil {
		ph.lastErrorMessage = err.Error()
	}
	switch {
	case ph.consecutiveErrors >= failedAfter:
		ph.transition(ProviderStatusFailed)
	case ph.consecutiveErrors >= degradedAfter:
		ph.transition(ProviderStatusDegraded)
	}
}

func (ph *ProviderHealth) transition(to ProviderStatus) {
	if ph.status == to {
		return
	}
	from := ph.status
	ph.status = to
	gauge := 1.0
	if to == ProviderStatusFailed {
		gauge = 0
	}
	observ.SetGauge("provider_health_status", gauge, map[string]string{"provider": ph.name})
	observ.IncCounter("provider_status_change_total", map[string]string{"provider": ph.name, "from": string(from), "to": string(to)})
	observ.Log("provider_status_change", map[string]any{
		"provider":           ph.name,
		"from":               from,
		"to":                 to,
		"consecutive_errors": ph.consecutiveErrors,
	})
}

// Status returns the current status.
func (ph *ProviderHealth) Status() ProviderStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// Err reports the provider as unhealthy once it has failed repeatedly.
func (ph *ProviderHealth) Err() error {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	if ph.status == ProviderStatusFailed {
		return fmt.Errorf("%s unhealthy after %d consecutive errors: %s", ph.name, ph.consecutiveErrors, ph.lastErrorMessage)
	}
	return nil
}

// Info is the health part of a provider's ProviderInfo.
func (ph *ProviderHealth) Info() map[string]any {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return map[string]any{
		"status":             ph.status,
		"success_count":      ph.successCount,
		"error_count":        ph.errorCount,
		"consecutive_errors": ph.consecutiveErrors,
		"last_successful":    ph.lastSuccessful,
		"last_error":         ph.lastError,
	}
}
