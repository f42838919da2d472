package market

import (
	"strconv"
	"strings"
	"time"
)

// SecType is the security type of an instrument.
type SecType string

const (
	SecFuture  SecType = "FUT"
	SecEquity  SecType = "STK"
	SecCrypto  SecType = "CRYPTO"
	SecUnknown SecType = "UNKNOWN"
)

// ParseSecType maps provider spellings onto SecType.
func ParseSecType(s string) SecType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FUT", "FUTURE", "FUTURES", "CONTFUT":
		return SecFuture
	case "STK", "STOCK", "EQUITY", "ETF":
		return SecEquity
	case "CRYPTO", "CRYPTOCURRENCY", "COIN":
		return SecCrypto
	default:
		return SecUnknown
	}
}

// Contract is the canonical instrument descriptor. ID is the broker conid
// and the natural key.
type Contract struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	SecType        SecType   `json:"secType"`
	Exchange       string    `json:"exchange"`
	Currency       string    `json:"currency"`
	Description    string    `json:"description"`
	Multiplier     Num       `json:"multiplier"`
	TradingClass   string    `json:"tradingClass,omitempty"`
	ContractMonth  string    `json:"contractMonth,omitempty"`  // e.g. "202512" or "DEC25"
	ExpirationDate string    `json:"expirationDate,omitempty"` // YYYY-MM-DD
	LastUpdated    time.Time `json:"lastUpdated"`
	IsConfigured   bool      `json:"isConfigured"`
}

// LookupKey is the secondary key symbol+exchange+expiration. It is not
// unique: identical-looking contracts can come from different sources.
func (c Contract) LookupKey() string {
	return strings.ToUpper(c.Symbol) + "|" + strings.ToUpper(c.Exchange) + "|" + c.ExpirationDate
}

// Merge overlays c onto old: known/non-empty fields of c win, the rest are
// kept from old. IsConfigured is sticky once set.
func (c Contract) Merge(old Contract) Contract {
	out := c
	out.Symbol = firstNonEmpty(c.Symbol, old.Symbol)
	if c.SecType == "" || c.SecType == SecUnknown {
		out.SecType = old.SecType
		if out.SecType == "" {
			out.SecType = c.SecType
		}
	}
	out.Exchange = firstNonEmpty(c.Exchange, old.Exchange)
	out.Currency = firstNonEmpty(c.Currency, old.Currency)
	out.Description = firstNonEmpty(c.Description, old.Description)
	out.Multiplier = c.Multiplier.Merge(old.Multiplier)
	out.TradingClass = firstNonEmpty(c.TradingClass, old.TradingClass)
	out.ContractMonth = firstNonEmpty(c.ContractMonth, old.ContractMonth)
	out.ExpirationDate = firstNonEmpty(c.ExpirationDate, old.ExpirationDate)
	out.IsConfigured = c.IsConfigured || old.IsConfigured
	return out
}

// ConID returns the numeric conid, or 0 when the id is not numeric.
func (c Contract) ConID() int64 {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// SearchHistoryEntry remembers what a symbol search returned, in upstream
// relevance order.
type SearchHistoryEntry struct {
	Symbol     string     `json:"symbol"`
	Contracts  []Contract `json:"contracts"`
	SearchTime time.Time  `json:"searchTime"`
	TotalCount int        `json:"totalCount"`
}

// NormalizeSymbol upper-cases and trims a user supplied symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
