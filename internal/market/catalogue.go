package market

import "sort"

// catalogue is the built-in instrument list offered to the dashboard before
// any contract search has run. Futures carry the front-month conid used
// when nothing has been configured yet; BasePrice seeds the synthetic tier.
var catalogue = map[string]Instrument{
	// Crypto
	"BTC":  {Symbol: "BTC", Name: "Bitcoin", SecType: SecCrypto, Currency: "USD", BasePrice: 43250.50, TickSize: 0.01, ProviderIDs: map[string]string{"coingecko": "bitcoin"}},
	"ETH":  {Symbol: "ETH", Name: "Ethereum", SecType: SecCrypto, Currency: "USD", BasePrice: 2650.75, TickSize: 0.01, ProviderIDs: map[string]string{"coingecko": "ethereum"}},
	"BNB":  {Symbol: "BNB", Name: "BNB", SecType: SecCrypto, Currency: "USD", BasePrice: 315.20, TickSize: 0.01, ProviderIDs: map[string]string{"coingecko": "binancecoin"}},
	"ADA":  {Symbol: "ADA", Name: "Cardano", SecType: SecCrypto, Currency: "USD", BasePrice: 0.52, TickSize: 0.0001, ProviderIDs: map[string]string{"coingecko": "cardano"}},
	"SOL":  {Symbol: "SOL", Name: "Solana", SecType: SecCrypto, Currency: "USD", BasePrice: 98.30, TickSize: 0.01, ProviderIDs: map[string]string{"coingecko": "solana"}},
	"XRP":  {Symbol: "XRP", Name: "XRP", SecType: SecCrypto, Currency: "USD", BasePrice: 0.63, TickSize: 0.0001, ProviderIDs: map[string]string{"coingecko": "ripple"}},
	"DOGE": {Symbol: "DOGE", Name: "Dogecoin", SecType: SecCrypto, Currency: "USD", BasePrice: 0.082, TickSize: 0.0001, ProviderIDs: map[string]string{"coingecko": "dogecoin"}},
	"DOT":  {Symbol: "DOT", Name: "Polkadot", SecType: SecCrypto, Currency: "USD", BasePrice: 7.45, TickSize: 0.01, ProviderIDs: map[string]string{"coingecko": "polkadot"}},

	// Equity index futures (CME / CBOT)
	"MES":  {Symbol: "MES", Name: "Micro E-mini S&P 500", SecType: SecFuture, Exchange: "CME", Currency: "USD", ConID: 730283085, BasePrice: 5200, TickSize: 0.25},
	"MNQ":  {Symbol: "MNQ", Name: "Micro E-mini NASDAQ-100", SecType: SecFuture, Exchange: "CME", Currency: "USD", ConID: 730283094, BasePrice: 18500, TickSize: 0.25},
	"MYM":  {Symbol: "MYM", Name: "Micro E-mini Dow Jones", SecType: SecFuture, Exchange: "CBOT", Currency: "USD", BasePrice: 38500, TickSize: 1.0},
	"MRTY": {Symbol: "MRTY", Name: "Micro E-mini Russell 2000", SecType: SecFuture, Exchange: "CME", Currency: "USD", BasePrice: 2100, TickSize: 0.1},
	"ES":   {Symbol: "ES", Name: "E-mini S&P 500", SecType: SecFuture, Exchange: "CME", Currency: "USD", ConID: 495512563, BasePrice: 5200, TickSize: 0.25},
	"NQ":   {Symbol: "NQ", Name: "E-mini NASDAQ-100", SecType: SecFuture, Exchange: "CME", Currency: "USD", ConID: 563947738, BasePrice: 18500, TickSize: 0.25},

	// Equities
	"AAPL":  {Symbol: "AAPL", Name: "Apple", SecType: SecEquity, Exchange: "SMART", Currency: "USD", BasePrice: 206.80, TickSize: 0.01},
	"MSFT":  {Symbol: "MSFT", Name: "Microsoft", SecType: SecEquity, Exchange: "SMART", Currency: "USD", BasePrice: 415.75, TickSize: 0.01},
	"NVDA":  {Symbol: "NVDA", Name: "NVIDIA", SecType: SecEquity, Exchange: "SMART", Currency: "USD", BasePrice: 450.00, TickSize: 0.01},
	"GOOGL": {Symbol: "GOOGL", Name: "Alphabet", SecType: SecEquity, Exchange: "SMART", Currency: "USD", BasePrice: 172.50, TickSize: 0.01},
	"SPY":   {Symbol: "SPY", Name: "SPDR S&P 500 ETF", SecType: SecEquity, Exchange: "ARCA", Currency: "USD", BasePrice: 520.00, TickSize: 0.01},
}

// DefaultBasePrice seeds synthetic quotes for instruments the catalogue
// does not know.
const DefaultBasePrice = 5000.0

// LookupInstrument returns the catalogue entry for symbol.
func LookupInstrument(symbol string) (Instrument, bool) {
	inst, ok := catalogue[NormalizeSymbol(symbol)]
	if !ok {
		return Instrument{}, false
	}
	inst.ID = FormatInstrumentID(inst.Symbol, inst.ConID)
	return inst, true
}

// Catalogue returns every built-in instrument sorted by type then symbol.
func Catalogue() []Instrument {
	out := make([]Instrument, 0, len(catalogue))
	for sym := range catalogue {
		inst, _ := LookupInstrument(sym)
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SecType != out[j].SecType {
			return out[i].SecType < out[j].SecType
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
