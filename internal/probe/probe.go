// Package probe tries a ranked list of endpoint candidates for one
// operation and returns the first response that decodes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// Operation names what a probe is for. It labels metrics and errors.
type Operation string

const (
	OpSearch   Operation = "search"
	OpDetail   Operation = "detail"
	OpSnapshot Operation = "snapshot"
	OpSession  Operation = "session"
	OpQuote    Operation = "quote"
)

const (
	DefaultTimeout = 3 * time.Second
	maxBodyBytes   = 4 << 20
)

// Prober runs candidate lists. It is safe for concurrent use and holds no
// per-call state.
type Prober struct {
	client   HTTPClient
	insecure HTTPClient
	timeout  time.Duration
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient sets the client used for verified candidates.
func WithHTTPClient(c HTTPClient) Option {
	return func(p *Prober) { p.client = c }
}

// WithGatewayHTTPClient sets the client used for InsecureTLS candidates.
func WithGatewayHTTPClient(c HTTPClient) Option {
	return func(p *Prober) { p.insecure = c }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{timeout: DefaultTimeout}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		p.client = NewHTTPClient()
	}
	if p.insecure == nil {
		p.insecure = NewGatewayHTTPClient()
	}
	return p
}

// Timeout is the per-attempt timeout.
func (p *Prober) Timeout() time.Duration { return p.timeout }

// Bounded returns a Prober sharing p's clients whose attempts are cut off
// at d when d is shorter than p's own timeout.
func (p *Prober) Bounded(d time.Duration) *Prober {
	cp := *p
	if d > 0 && d < cp.timeout {
		cp.timeout = d
	}
	return &cp
}

// Do attempts candidates strictly in order, each under its own timeout,
// and returns the first decoded result together with the candidate that
// produced it. If every candidate fails the error is an
// AllEndpointsUnreachable FetchError joining each attempt's cause. If ctx
// is cancelled the context error is returned as-is.
//
// decode turns a 2xx body into T; any decode error counts as a malformed
// response and moves on to the next candidate.
func Do[T any](ctx context.Context, p *Prober, op Operation, candidates []EndpointSpec, req Request, decode func(EndpointSpec, []byte) (T, error)) (T, EndpointSpec, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, EndpointSpec{}, market.NewExhaustedError(string(op), req.Target, errors.New("no candidates configured"))
	}

	errs := make([]error, 0, len(candidates))
	for i, spec := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, EndpointSpec{}, err
		}

		start := time.Now()
		v, err := attempt(ctx, p, op, spec, req, decode)
		observ.RecordDuration("probe_attempt_latency", time.Since(start), map[string]string{"op": string(op)})
		if err == nil {
			observ.IncCounter("probe_attempts_total", map[string]string{"op": string(op), "candidate": spec.Name, "outcome": "success"})
			if i > 0 {
				observ.Log("probe_fallback_used", map[string]any{"op": op, "candidate": spec.Name, "position": i, "target": req.Target})
			}
			return v, spec, nil
		}
		if ctx.Err() != nil {
			return zero, EndpointSpec{}, ctx.Err()
		}

		outcome := "unreachable"
		if errors.Is(err, market.ErrMalformedResponse) {
			outcome = "malformed"
		}
		observ.IncCounter("probe_attempts_total", map[string]string{"op": string(op), "candidate": spec.Name, "outcome": outcome})
		observ.Log("probe_candidate_failed", map[string]any{
			"op":        op,
			"candidate": spec.Name,
			"url":       spec.URL(),
			"target":    req.Target,
			"outcome":   outcome,
			"error":     err.Error(),
		})
		errs = append(errs, err)
	}

	return zero, EndpointSpec{}, market.NewExhaustedError(string(op), req.Target, errors.Join(errs...))
}

func attempt[T any](ctx context.Context, p *Prober, op Operation, spec EndpointSpec, req Request, decode func(EndpointSpec, []byte) (T, error)) (T, error) {
	var zero T
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := buildRequest(actx, spec, req)
	if err != nil {
		return zero, market.NewUnreachableError(string(op), spec.Name, err)
	}

	client := p.client
	if spec.InsecureTLS {
		client = p.insecure
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return zero, market.NewUnreachableError(string(op), spec.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return zero, market.NewUnreachableError(string(op), spec.Name, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return zero, market.NewUnreachableError(string(op), spec.Name, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(body)))
	}

	v, err := decode(spec, body)
	if err != nil {
		if errors.Is(err, market.ErrMalformedResponse) {
			return zero, err
		}
		return zero, market.NewMalformedError(string(op), spec.Name, "decode failed", err)
	}
	return v, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
