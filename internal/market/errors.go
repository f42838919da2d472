package market

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindEndpointUnreachable     ErrorKind = "endpoint_unreachable"
	KindAllEndpointsUnreachable ErrorKind = "all_endpoints_unreachable"
	KindNoContractsFound        ErrorKind = "no_contracts_found"
	KindRateLimitExhausted      ErrorKind = "rate_limit_exhausted"
	KindMalformedResponse       ErrorKind = "malformed_response"
	KindBadSymbol               ErrorKind = "bad_symbol"
	KindContractNotFound        ErrorKind = "contract_not_found"
	KindSessionDown             ErrorKind = "session_down"
)

// Sentinels for errors.Is. A *FetchError matches the sentinel of its kind.
var (
	ErrEndpointUnreachable     = &FetchError{Kind: KindEndpointUnreachable}
	ErrAllEndpointsUnreachable = &FetchError{Kind: KindAllEndpointsUnreachable}
	ErrNoContractsFound        = &FetchError{Kind: KindNoContractsFound}
	ErrRateLimitExhausted      = &FetchError{Kind: KindRateLimitExhausted}
	ErrMalformedResponse       = &FetchError{Kind: KindMalformedResponse}
	ErrBadSymbol               = &FetchError{Kind: KindBadSymbol}
	ErrContractNotFound        = &FetchError{Kind: KindContractNotFound}
	ErrSessionDown             = &FetchError{Kind: KindSessionDown}
)

// FetchError represents different types of upstream and lookup failures.
type FetchError struct {
	Kind    ErrorKind
	Op      string // "search", "detail", "snapshot", "session", "quote", ...
	Target  string // symbol, contract id or endpoint name
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Target != "" {
		msg += " for " + e.Target
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Is matches any *FetchError of the same kind.
func (e *FetchError) Is(target error) bool {
	var t *FetchError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first FetchError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

func NewUnreachableError(op, target string, cause error) *FetchError {
	return &FetchError{Kind: KindEndpointUnreachable, Op: op, Target: target, Message: "endpoint unreachable", Cause: cause}
}

func NewExhaustedError(op, target string, cause error) *FetchError {
	return &FetchError{Kind: KindAllEndpointsUnreachable, Op: op, Target: target, Message: "all candidates failed", Cause: cause}
}

func NewMalformedError(op, target, message string, cause error) *FetchError {
	return &FetchError{Kind: KindMalformedResponse, Op: op, Target: target, Message: message, Cause: cause}
}

func NewRateLimitError(op, target, message string) *FetchError {
	return &FetchError{Kind: KindRateLimitExhausted, Op: op, Target: target, Message: message}
}

func NewBadSymbolError(target, message string) *FetchError {
	return &FetchError{Kind: KindBadSymbol, Op: "resolve", Target: target, Message: message}
}

func NewNotFoundError(op, target string) *FetchError {
	return &FetchError{Kind: KindContractNotFound, Op: op, Target: target, Message: "no such contract"}
}
