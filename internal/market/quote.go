package market

import (
	"strconv"
	"strings"
	"time"
)

// SourceTier names the fallback tier that produced a quote.
type SourceTier string

const (
	TierGateway      SourceTier = "gateway"
	TierPolygon      SourceTier = "polygon"
	TierAlphaVantage SourceTier = "alphavantage"
	TierCoinGecko    SourceTier = "coingecko"
	TierSynthetic    SourceTier = "synthetic"
)

// Degraded reports whether the tier produced fabricated data.
func (t SourceTier) Degraded() bool {
	return t == TierSynthetic
}

// Quote is a point-in-time price observation. Bid <= LastPrice <= Ask is
// NOT guaranteed; synthetic and stale data may violate it.
type Quote struct {
	InstrumentID string     `json:"instrumentId"`
	Symbol       string     `json:"symbol"`
	LastPrice    Num        `json:"lastPrice"`
	Bid          Num        `json:"bid"`
	Ask          Num        `json:"ask"`
	BidSize      Num        `json:"bidSize"`
	AskSize      Num        `json:"askSize"`
	Volume       Num        `json:"volume"`
	Timestamp    time.Time  `json:"timestamp"`
	SourceTier   SourceTier `json:"sourceTier"` // always rendered
}

// Instrument is what the quote fetcher prices. ConID is set for broker
// contracts; ProviderIDs maps public providers to their own identifiers
// (e.g. coingecko -> "bitcoin").
type Instrument struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name,omitempty"`
	SecType     SecType           `json:"secType"`
	Exchange    string            `json:"exchange,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	ConID       int64             `json:"conid,omitempty"`
	TickSize    float64           `json:"tickSize,omitempty"`
	BasePrice   float64           `json:"basePrice,omitempty"`
	ProviderIDs map[string]string `json:"providerIds,omitempty"`
}

// ProviderID returns the identifier a provider knows the instrument by,
// falling back to the symbol.
func (i Instrument) ProviderID(provider string) string {
	if id, ok := i.ProviderIDs[provider]; ok && id != "" {
		return id
	}
	return i.Symbol
}

// InstrumentFromContract builds an Instrument for a resolved contract.
func InstrumentFromContract(c Contract) Instrument {
	inst := Instrument{
		ID:       c.ID,
		Symbol:   NormalizeSymbol(c.Symbol),
		SecType:  c.SecType,
		Exchange: c.Exchange,
		Currency: c.Currency,
		ConID:    c.ConID(),
	}
	if known, ok := LookupInstrument(inst.Symbol); ok {
		inst.Name = known.Name
		inst.TickSize = known.TickSize
		inst.BasePrice = known.BasePrice
		inst.ProviderIDs = known.ProviderIDs
	}
	return inst
}

// FormatInstrumentID builds the id used for catalogue entries.
func FormatInstrumentID(symbol string, conid int64) string {
	if conid > 0 {
		return strconv.FormatInt(conid, 10)
	}
	return strings.ToLower(symbol)
}
