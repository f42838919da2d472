package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error onto an HTTP status. Exhaustion is checked first:
// it wraps the per-candidate causes, which carry kinds of their own.
func statusFor(err error) int {
	if errors.Is(err, market.ErrAllEndpointsUnreachable) {
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	kind, ok := market.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case market.KindNoContractsFound, market.KindContractNotFound:
		return http.StatusNotFound
	case market.KindBadSymbol:
		return http.StatusBadRequest
	case market.KindRateLimitExhausted:
		return http.StatusTooManyRequests
	case market.KindEndpointUnreachable, market.KindMalformedResponse, market.KindSessionDown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if errors.Is(err, market.ErrAllEndpointsUnreachable) {
		body.Kind = string(market.KindAllEndpointsUnreachable)
	} else if kind, ok := market.KindOf(err); ok {
		body.Kind = string(kind)
	}
	if status >= http.StatusInternalServerError {
		observ.Warn("http_request_failed", map[string]any{"status": status, "kind": body.Kind, "error": body.Error})
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Debug("http_write_failed", map[string]any{"error": err.Error()})
	}
}
