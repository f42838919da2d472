package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

// NormalizeContracts maps a contract payload onto canonical contracts, in
// upstream order. Hits without any id alias are dropped since they cannot
// be keyed. now stamps LastUpdated.
func NormalizeContracts(p ContractPayload, now time.Time) []market.Contract {
	switch v := p.(type) {
	case GatewaySearch:
		out := make([]market.Contract, 0, len(v.Contracts))
		for _, gc := range v.Contracts {
			if gc.ConID == "" {
				continue
			}
			out = append(out, fromGatewayContract(gc, now))
		}
		return out
	case BridgeSearch:
		out := make([]market.Contract, 0, len(v.Contracts))
		for _, bc := range v.Contracts {
			if bc.ConID == "" {
				continue
			}
			out = append(out, fromBridgeContract(bc, now))
		}
		return out
	case GatewayInfo:
		if v.ConID == "" {
			return nil
		}
		return []market.Contract{fromGatewayInfo(v, now)}
	default:
		return nil
	}
}

// NormalizeQuote maps a quote payload for inst. Missing fields stay unknown;
// the timestamp falls back to now when the provider sends none.
func NormalizeQuote(p QuotePayload, inst market.Instrument, now time.Time) market.Quote {
	q := market.Quote{
		InstrumentID: inst.ID,
		Symbol:       inst.Symbol,
		Timestamp:    now,
	}
	switch v := p.(type) {
	case GatewaySnapshot:
		q.SourceTier = market.TierGateway
		row := pickRow(v.Rows, inst.ConID)
		q.LastPrice, q.Bid, q.Ask = row.Last, row.Bid, row.Ask
		q.BidSize, q.AskSize, q.Volume = row.BidSize, row.AskSize, row.Volume
		if !row.Updated.IsZero() {
			q.Timestamp = row.Updated
		}
	case PolygonNBBO:
		q.SourceTier = market.TierPolygon
		q.Bid, q.Ask = v.Bid, v.Ask
		q.BidSize, q.AskSize = v.BidSize, v.AskSize
		q.Volume = market.Unknown
		if v.Bid.Known && v.Ask.Known {
			q.LastPrice = market.NumOf((v.Bid.Value + v.Ask.Value) / 2)
		}
		if !v.Timestamp.IsZero() {
			q.Timestamp = v.Timestamp
		}
	case AlphaVantageGlobalQuote:
		q.SourceTier = market.TierAlphaVantage
		q.LastPrice = v.Price
		q.Volume = v.Volume
	case CoinGeckoSimplePrice:
		q.SourceTier = market.TierCoinGecko
		q.LastPrice = v.USD
		q.Volume = v.Volume24h
		if !v.UpdatedAt.IsZero() {
			q.Timestamp = v.UpdatedAt
		}
	}
	return q
}

// Enrich overlays detail fields onto a base search hit. Identity fields of
// the base are kept; known detail fields fill or replace the rest.
func Enrich(base market.Contract, info GatewayInfo) market.Contract {
	detail := fromGatewayInfo(info, base.LastUpdated)
	detail.ID = base.ID
	detail.Symbol = base.Symbol
	if base.SecType != "" && base.SecType != market.SecUnknown {
		detail.SecType = base.SecType
	}
	return detail.Merge(base)
}

// ContractsFrom decodes and normalizes a raw contract body of the given kind.
func ContractsFrom(kind ProviderKind, raw []byte, now time.Time) ([]market.Contract, error) {
	var (
		p   ContractPayload
		err error
	)
	switch kind {
	case KindGatewaySearch:
		p, err = DecodeGatewaySearch(raw)
	case KindBridgeSearch:
		p, err = DecodeBridgeSearch(raw)
	case KindGatewayInfo:
		p, err = DecodeGatewayInfo(raw)
	default:
		return nil, malformed(kind, fmt.Sprintf("not a contract payload kind: %s", kind), nil)
	}
	if err != nil {
		return nil, err
	}
	return NormalizeContracts(p, now), nil
}

// QuoteFrom decodes and normalizes a raw quote body of the given kind.
func QuoteFrom(kind ProviderKind, raw []byte, inst market.Instrument, now time.Time) (market.Quote, error) {
	var (
		p   QuotePayload
		err error
	)
	switch kind {
	case KindGatewaySnapshot:
		p, err = DecodeGatewaySnapshot(raw)
	case KindPolygonNBBO:
		p, err = DecodePolygonNBBO(raw)
	case KindAlphaVantage:
		p, err = DecodeAlphaVantageGlobalQuote(raw)
	case KindCoinGecko:
		p, err = DecodeCoinGeckoSimplePrice(raw, inst.ProviderID("coingecko"))
	default:
		return market.Quote{}, malformed(kind, fmt.Sprintf("not a quote payload kind: %s", kind), nil)
	}
	if err != nil {
		return market.Quote{}, err
	}
	return NormalizeQuote(p, inst, now), nil
}

func fromGatewayContract(gc GatewayContract, now time.Time) market.Contract {
	c := market.Contract{
		ID:          gc.ConID,
		Symbol:      market.NormalizeSymbol(gc.Symbol),
		SecType:     market.ParseSecType(gc.SecType),
		Exchange:    gc.Exchange,
		Currency:    gc.Currency,
		Description: firstNonEmpty(gc.Description, gc.CompanyHeader, gc.CompanyName),
		Multiplier:  market.Unknown,
		LastUpdated: now,
	}
	// Underlying hits list their tradable types as sections; prefer the
	// futures section when there is one.
	var sec *Section
	for i := range gc.Sections {
		if market.ParseSecType(gc.Sections[i].SecType) == market.SecFuture {
			sec = &gc.Sections[i]
			break
		}
	}
	if sec == nil && len(gc.Sections) > 0 {
		sec = &gc.Sections[0]
	}
	if sec != nil {
		if c.SecType == market.SecUnknown {
			c.SecType = market.ParseSecType(sec.SecType)
		}
		c.Exchange = firstNonEmpty(c.Exchange, sec.Exchange)
		if months := strings.Split(sec.Months, ";"); months[0] != "" {
			c.ContractMonth = months[0]
		}
	}
	return c
}

func fromBridgeContract(bc BridgeContract, now time.Time) market.Contract {
	return market.Contract{
		ID:             bc.ConID,
		Symbol:         market.NormalizeSymbol(bc.Symbol),
		SecType:        market.ParseSecType(bc.SecType),
		Exchange:       bc.Exchange,
		Currency:       bc.Currency,
		Description:    bc.Description,
		Multiplier:     bc.Multiplier,
		TradingClass:   bc.TradingClass,
		ContractMonth:  bc.ContractMonth,
		ExpirationDate: FormatExpiry(bc.RealExpirationDate),
		LastUpdated:    now,
	}
}

func fromGatewayInfo(info GatewayInfo, now time.Time) market.Contract {
	return market.Contract{
		ID:             info.ConID,
		Symbol:         market.NormalizeSymbol(info.Symbol),
		SecType:        market.ParseSecType(info.SecType),
		Exchange:       info.Exchange,
		Currency:       info.Currency,
		Description:    info.Description,
		Multiplier:     info.Multiplier,
		TradingClass:   info.TradingClass,
		ContractMonth:  info.ContractMonth,
		ExpirationDate: FormatExpiry(info.MaturityDate),
		LastUpdated:    now,
	}
}

// FormatExpiry turns YYYYMMDD (optionally followed by a time) into
// YYYY-MM-DD. Already-formatted dates pass through; anything else is "".
func FormatExpiry(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if len(s) >= 8 {
		if t, err := time.Parse("20060102", s[:8]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func pickRow(rows []SnapshotRow, conid int64) SnapshotRow {
	if len(rows) == 0 {
		return SnapshotRow{}
	}
	if conid > 0 {
		want := fmt.Sprint(conid)
		for _, r := range rows {
			if r.ConID == want {
				return r
			}
		}
	}
	return rows[0]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
