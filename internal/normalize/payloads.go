// Package normalize maps provider payloads onto market.Contract and
// market.Quote. Each upstream shape is its own variant with its own decoder;
// mapping dispatches on the variant type, never on the payload's structure.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

// ProviderKind tags a raw payload with the upstream that produced it.
type ProviderKind string

const (
	KindGatewaySearch   ProviderKind = "gateway_search"
	KindGatewayInfo     ProviderKind = "gateway_info"
	KindBridgeSearch    ProviderKind = "bridge_search"
	KindGatewaySnapshot ProviderKind = "gateway_snapshot"
	KindPolygonNBBO     ProviderKind = "polygon_nbbo"
	KindAlphaVantage    ProviderKind = "alphavantage_global_quote"
	KindCoinGecko       ProviderKind = "coingecko_simple_price"
)

// ContractPayload is implemented only by the contract variants below.
type ContractPayload interface{ contractPayload() }

// QuotePayload is implemented only by the quote variants below.
type QuotePayload interface{ quotePayload() }

// Section is one security-type section of a gateway search hit.
type Section struct {
	SecType  string `json:"secType"`
	Months   string `json:"months,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// GatewayContract is one hit of the gateway secdef search.
type GatewayContract struct {
	ConID         string
	Symbol        string
	SecType       string
	Exchange      string
	Currency      string
	Description   string
	CompanyHeader string
	CompanyName   string
	Sections      []Section
}

// GatewaySearch is the gateway /iserver/secdef/search response: an array of
// hits, or a single bare object from some proxies.
type GatewaySearch struct {
	Contracts []GatewayContract
}

// GatewayInfo is the gateway /iserver/secdef/info response for one conid.
type GatewayInfo struct {
	ConID         string
	Symbol        string
	SecType       string
	Exchange      string
	Currency      string
	Description   string
	TradingClass  string
	ContractMonth string
	MaturityDate  string // YYYYMMDD
	Multiplier    market.Num
}

// BridgeContract is one contract inside the bridge's double-encoded data field.
type BridgeContract struct {
	ConID              string
	Symbol             string
	SecType            string
	Exchange           string
	Currency           string
	Description        string
	TradingClass       string
	ContractMonth      string
	RealExpirationDate string // YYYYMMDD
	LastTradeTime      string
	Multiplier         market.Num
}

// BridgeSearch is the bridge {success, data: "<json>"} envelope, already
// unwrapped.
type BridgeSearch struct {
	Contracts []BridgeContract
}

// SnapshotRow is one row of a gateway market-data snapshot.
type SnapshotRow struct {
	ConID   string
	Last    market.Num
	Bid     market.Num
	Ask     market.Num
	BidSize market.Num
	AskSize market.Num
	Volume  market.Num
	Updated time.Time // zero when absent
}

// GatewaySnapshot is the /iserver/marketdata/snapshot response.
type GatewaySnapshot struct {
	Rows []SnapshotRow
}

// PolygonNBBO is the Polygon /v2/last/nbbo/{ticker} response.
type PolygonNBBO struct {
	Ticker    string
	Bid       market.Num
	Ask       market.Num
	BidSize   market.Num
	AskSize   market.Num
	Timestamp time.Time
}

// AlphaVantageGlobalQuote is the GLOBAL_QUOTE response.
type AlphaVantageGlobalQuote struct {
	Symbol           string
	Price            market.Num
	Volume           market.Num
	LatestTradingDay string
}

// CoinGeckoSimplePrice is the /simple/price response for one coin id.
type CoinGeckoSimplePrice struct {
	CoinID    string
	USD       market.Num
	Volume24h market.Num
	UpdatedAt time.Time
}

func (GatewaySearch) contractPayload() {}
func (GatewayInfo) contractPayload()   {}
func (BridgeSearch) contractPayload()  {}

func (GatewaySnapshot) quotePayload()         {}
func (PolygonNBBO) quotePayload()             {}
func (AlphaVantageGlobalQuote) quotePayload() {}
func (CoinGeckoSimplePrice) quotePayload()    {}

var (
	idAliases     = []string{"conid", "conId", "conID", "id"}
	symbolAliases = []string{"symbol", "ticker", "localSymbol"}
)

func malformed(kind ProviderKind, msg string, cause error) error {
	return market.NewMalformedError("normalize", string(kind), msg, cause)
}

// DecodeGatewaySearch parses a gateway search body. An error body
// ({"error": "..."}) is malformed; an empty array is a valid empty result.
func DecodeGatewaySearch(raw []byte) (GatewaySearch, error) {
	objs, err := decodeObjects(raw)
	if err != nil {
		return GatewaySearch{}, malformed(KindGatewaySearch, "invalid json", err)
	}
	out := GatewaySearch{Contracts: make([]GatewayContract, 0, len(objs))}
	for _, f := range objs {
		if msg := f.str("error"); msg != "" {
			return GatewaySearch{}, malformed(KindGatewaySearch, msg, nil)
		}
		gc := GatewayContract{
			ConID:         f.str(idAliases...),
			Symbol:        f.str(symbolAliases...),
			SecType:       f.str("secType", "assetClass"),
			Exchange:      f.str("exchange", "listingExchange"),
			Currency:      f.str("currency"),
			Description:   f.str("description"),
			CompanyHeader: f.str("companyHeader"),
			CompanyName:   f.str("companyName"),
		}
		for _, s := range f.objects("sections") {
			gc.Sections = append(gc.Sections, Section{
				SecType:  s.str("secType"),
				Months:   s.str("months"),
				Exchange: s.str("exchange"),
			})
		}
		out.Contracts = append(out.Contracts, gc)
	}
	return out, nil
}

// DecodeGatewayInfo parses a secdef/info body. The gateway answers with an
// array; the first element describing a contract is used.
func DecodeGatewayInfo(raw []byte) (GatewayInfo, error) {
	objs, err := decodeObjects(raw)
	if err != nil {
		return GatewayInfo{}, malformed(KindGatewayInfo, "invalid json", err)
	}
	for _, f := range objs {
		if msg := f.str("error"); msg != "" {
			return GatewayInfo{}, malformed(KindGatewayInfo, msg, nil)
		}
		if !f.has(idAliases...) && !f.has(symbolAliases...) {
			continue
		}
		return GatewayInfo{
			ConID:         f.str(idAliases...),
			Symbol:        f.str(symbolAliases...),
			SecType:       f.str("secType"),
			Exchange:      f.str("exchange", "listingExchange"),
			Currency:      f.str("currency"),
			Description:   f.str("desc1", "description", "companyName"),
			TradingClass:  f.str("tradingClass"),
			ContractMonth: f.str("contractMonth", "month"),
			MaturityDate:  f.str("maturityDate", "expiration", "lastTradingDay"),
			Multiplier:    f.num("multiplier"),
		}, nil
	}
	return GatewayInfo{}, malformed(KindGatewayInfo, "no contract in response", nil)
}

// DecodeBridgeSearch unwraps the bridge envelope. The data field is usually a
// JSON document encoded as a string; an inline object or array is accepted too.
func DecodeBridgeSearch(raw []byte) (BridgeSearch, error) {
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return BridgeSearch{}, malformed(KindBridgeSearch, "invalid envelope", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = "success=false"
		}
		return BridgeSearch{}, malformed(KindBridgeSearch, msg, nil)
	}
	if isNull(env.Data) {
		return BridgeSearch{}, nil
	}
	inner := []byte(env.Data)
	if s, ok := rawString(env.Data); ok {
		inner = []byte(s)
	}
	if len(bytes.TrimSpace(inner)) == 0 {
		return BridgeSearch{}, nil
	}
	objs, err := decodeObjects(inner)
	if err != nil {
		return BridgeSearch{}, malformed(KindBridgeSearch, "invalid data payload", err)
	}
	out := BridgeSearch{Contracts: make([]BridgeContract, 0, len(objs))}
	for _, f := range objs {
		out.Contracts = append(out.Contracts, BridgeContract{
			ConID:              f.str(idAliases...),
			Symbol:             f.str(symbolAliases...),
			SecType:            f.str("secType"),
			Exchange:           f.str("exchange"),
			Currency:           f.str("currency"),
			Description:        f.str("description", "longName"),
			TradingClass:       f.str("tradingClass"),
			ContractMonth:      f.str("contractMonth"),
			RealExpirationDate: f.str("realExpirationDate", "lastTradeDateOrContractMonth"),
			LastTradeTime:      f.str("lastTradeTime"),
			Multiplier:         f.num("multiplier"),
		})
	}
	return out, nil
}

// Gateway snapshot field codes and their plain-name aliases.
var (
	lastAliases    = []string{"31", "last", "price", "lastPrice"}
	bidAliases     = []string{"84", "bid"}
	askAliases     = []string{"86", "ask"}
	bidSizeAliases = []string{"88", "bidSize"}
	askSizeAliases = []string{"85", "askSize"}
	volumeAliases  = []string{"87", "volume", "7762"}
)

// DecodeGatewaySnapshot parses a snapshot body. Rows carrying no price
// field at all are kept; their prices are unknown.
func DecodeGatewaySnapshot(raw []byte) (GatewaySnapshot, error) {
	objs, err := decodeObjects(raw)
	if err != nil {
		return GatewaySnapshot{}, malformed(KindGatewaySnapshot, "invalid json", err)
	}
	out := GatewaySnapshot{Rows: make([]SnapshotRow, 0, len(objs))}
	for _, f := range objs {
		if msg := f.str("error"); msg != "" {
			return GatewaySnapshot{}, malformed(KindGatewaySnapshot, msg, nil)
		}
		row := SnapshotRow{
			ConID:   f.str(idAliases...),
			Last:    f.num(lastAliases...),
			Bid:     f.num(bidAliases...),
			Ask:     f.num(askAliases...),
			BidSize: f.num(bidSizeAliases...),
			AskSize: f.num(askSizeAliases...),
			Volume:  f.num(volumeAliases...),
		}
		if ms, ok := f.int64("_updated"); ok && ms > 0 {
			row.Updated = time.UnixMilli(ms).UTC()
		}
		out.Rows = append(out.Rows, row)
	}
	if len(out.Rows) == 0 {
		return GatewaySnapshot{}, malformed(KindGatewaySnapshot, "empty snapshot", nil)
	}
	return out, nil
}

// DecodePolygonNBBO parses the last-NBBO response.
func DecodePolygonNBBO(raw []byte) (PolygonNBBO, error) {
	f, err := decodeObject(raw)
	if err != nil {
		return PolygonNBBO{}, malformed(KindPolygonNBBO, "invalid json", err)
	}
	if status := f.str("status"); status != "OK" && status != "DELAYED" {
		msg := f.str("error", "message")
		if msg == "" {
			msg = "status " + status
		}
		return PolygonNBBO{}, malformed(KindPolygonNBBO, msg, nil)
	}
	res, ok := f.object("results")
	if !ok {
		return PolygonNBBO{}, malformed(KindPolygonNBBO, "missing results", nil)
	}
	out := PolygonNBBO{
		Ticker:  res.str("T"),
		Bid:     res.num("p"),
		Ask:     res.num("P"),
		BidSize: res.num("s"),
		AskSize: res.num("S"),
	}
	if ns, ok := res.int64("t"); ok && ns > 0 {
		out.Timestamp = time.Unix(0, ns).UTC()
	}
	return out, nil
}

// DecodeAlphaVantageGlobalQuote parses GLOBAL_QUOTE. The "Information" and
// "Note" fields carry throttling notices; those surface as rate-limit errors.
func DecodeAlphaVantageGlobalQuote(raw []byte) (AlphaVantageGlobalQuote, error) {
	f, err := decodeObject(raw)
	if err != nil {
		return AlphaVantageGlobalQuote{}, malformed(KindAlphaVantage, "invalid json", err)
	}
	if msg := f.str("Error Message"); msg != "" {
		return AlphaVantageGlobalQuote{}, malformed(KindAlphaVantage, msg, nil)
	}
	if msg := f.str("Information", "Note"); msg != "" {
		return AlphaVantageGlobalQuote{}, market.NewRateLimitError("normalize", string(KindAlphaVantage), msg)
	}
	q, ok := f.object("Global Quote")
	if !ok || len(q) == 0 {
		return AlphaVantageGlobalQuote{}, malformed(KindAlphaVantage, "no quote data returned", nil)
	}
	return AlphaVantageGlobalQuote{
		Symbol:           q.str("01. symbol"),
		Price:            q.num("05. price"),
		Volume:           q.num("06. volume"),
		LatestTradingDay: q.str("07. latest trading day"),
	}, nil
}

// DecodeCoinGeckoSimplePrice parses /simple/price for coinID.
func DecodeCoinGeckoSimplePrice(raw []byte, coinID string) (CoinGeckoSimplePrice, error) {
	f, err := decodeObject(raw)
	if err != nil {
		return CoinGeckoSimplePrice{}, malformed(KindCoinGecko, "invalid json", err)
	}
	coin, ok := f.object(coinID)
	if !ok {
		return CoinGeckoSimplePrice{}, malformed(KindCoinGecko, fmt.Sprintf("coin %q missing", coinID), nil)
	}
	out := CoinGeckoSimplePrice{
		CoinID:    coinID,
		USD:       coin.num("usd"),
		Volume24h: coin.num("usd_24h_vol"),
	}
	if sec, ok := coin.int64("last_updated_at"); ok && sec > 0 {
		out.UpdatedAt = time.Unix(sec, 0).UTC()
	}
	return out, nil
}
