// Package api is the HTTP surface: contract search and configuration,
// quotes, active-instrument selection and the quote streams.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/resolver"
	"github.com/Rajchodisetti/futures-feed/internal/store"
)

// ContractResolver is the part of resolver.Resolver the API uses.
type ContractResolver interface {
	Resolve(ctx context.Context, q resolver.Query) (resolver.Result, error)
	Refresh(ctx context.Context, q resolver.Query) (resolver.Result, error)
	ContractForMonth(ctx context.Context, symbol, month string) (market.Contract, error)
}

// QuoteFetcher prices an instrument; it never fails.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, inst market.Instrument) market.Quote
}

// ActiveSelector switches the instrument the scheduler keeps hot.
type ActiveSelector interface {
	Select(inst market.Instrument) uint64
	Active() (market.Instrument, uint64, bool)
}

// Deps are the components behind the API. Active and Hub may be nil.
type Deps struct {
	Resolver ContractResolver
	Store    store.Store
	Quotes   QuoteFetcher
	Active   ActiveSelector
	Hub      *Hub
	Health   []observ.HealthDetail
}

// Server routes the HTTP surface.
type Server struct {
	resolver  ContractResolver
	store     store.Store
	quotes    QuoteFetcher
	active    ActiveSelector
	hub       *Hub
	health    []observ.HealthDetail
	heartbeat time.Duration
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// NewServer builds the routes.
func NewServer(d Deps, opts ...Option) *Server {
	s := &Server{
		resolver:  d.Resolver,
		store:     d.Store,
		quotes:    d.Quotes,
		active:    d.Active,
		hub:       d.Hub,
		health:    d.Health,
		heartbeat: 15 * time.Second,
		mux:       http.NewServeMux(),
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/contracts/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/contracts/configured", s.handleConfigured)
	s.mux.HandleFunc("GET /api/contracts/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/contracts/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/contracts/{id}", s.handleContract)
	s.mux.HandleFunc("POST /api/contracts/{id}/configure", s.handleConfigure)
	s.mux.HandleFunc("DELETE /api/contracts/{id}/configure", s.handleUnconfigure)
	s.mux.HandleFunc("DELETE /api/contracts", s.handleClear)
	s.mux.HandleFunc("GET /api/quote", s.handleQuote)
	s.mux.HandleFunc("GET /api/active", s.handleGetActive)
	s.mux.HandleFunc("POST /api/active", s.handleSetActive)
	s.mux.HandleFunc("GET /api/instruments", s.handleInstruments)
	s.mux.HandleFunc("GET /stream", s.handleSSE)
	s.mux.HandleFunc("GET /backfill", s.handleBackfill)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.Handle("GET /metrics", observ.Handler())
	s.mux.Handle("GET /health", observ.HealthHandler(s.health...))
}

// Handler returns the routes wrapped with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, Last-Event-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		if r.URL.Path != "/stream" && r.URL.Path != "/ws" {
			observ.RecordDuration("http_request_latency", time.Since(start), map[string]string{"path": routeLabel(r)})
		}
		observ.IncCounter("http_requests_total", map[string]string{"path": routeLabel(r), "code": strconv.Itoa(rec.status)})
	})
}

func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := resolver.Query{
		Symbol:   v.Get("symbol"),
		SecType:  v.Get("secType"),
		Exchange: v.Get("exchange"),
		Currency: v.Get("currency"),
	}
	resolve := s.resolver.Resolve
	if refresh := strings.ToLower(v.Get("refresh")); refresh == "1" || refresh == "true" {
		resolve = s.resolver.Refresh
	}
	res, err := resolve(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Contract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Configure(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.handleContract(w, r)
}

func (s *Server) handleUnconfigure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Unconfigure(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isConfigured": false})
}

func (s *Server) handleConfigured(w http.ResponseWriter, r *http.Request) {
	cs, err := s.store.Configured(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if cs == nil {
		cs = []market.Contract{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	observ.Log("contracts_cleared", map[string]any{"remote": r.RemoteAddr})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	c, err := s.resolver.ContractForMonth(r.Context(), r.URL.Query().Get("symbol"), r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	inst, err := s.instrumentFor(r.Context(), v.Get("symbol"), v.Get("conid"), v.Get("secType"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.quotes.FetchQuote(r.Context(), inst))
}

type activeRequest struct {
	Symbol  string `json:"symbol"`
	ConID   string `json:"conid"`
	SecType string `json:"secType"`
}

type activeResponse struct {
	Instrument market.Instrument `json:"instrument"`
	Generation uint64            `json:"generation"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	if s.active == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "refresh scheduler not running"})
		return
	}
	var req activeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: string(market.KindBadSymbol)})
		return
	}
	inst, err := s.instrumentFor(r.Context(), req.Symbol, req.ConID, req.SecType)
	if err != nil {
		writeError(w, err)
		return
	}
	gen := s.active.Select(inst)
	resp := activeResponse{Instrument: inst, Generation: gen}
	if _, err := s.hub.Publish("active", resp); err != nil {
		observ.Warn("stream_publish_failed", map[string]any{"error": err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetActive(w http.ResponseWriter, _ *http.Request) {
	if s.active == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "refresh scheduler not running"})
		return
	}
	inst, gen, ok := s.active.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active instrument"})
		return
	}
	writeJSON(w, http.StatusOK, activeResponse{Instrument: inst, Generation: gen})
}

func (s *Server) handleInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, market.Catalogue())
}

// instrumentFor turns request parameters into an Instrument. A conid is
// looked up in the store; a futures symbol without one prefers a configured
// contract, then the catalogue's default front month.
func (s *Server) instrumentFor(ctx context.Context, symbol, conid, secType string) (market.Instrument, error) {
	symbol = market.NormalizeSymbol(symbol)
	conid = strings.TrimSpace(conid)

	if conid != "" {
		n, err := strconv.ParseInt(conid, 10, 64)
		if err != nil || n <= 0 {
			return market.Instrument{}, market.NewBadSymbolError(conid, "conid must be a positive integer")
		}
		c, err := s.store.Contract(ctx, conid)
		if err == nil {
			return market.InstrumentFromContract(c), nil
		}
		if !errors.Is(err, market.ErrContractNotFound) {
			return market.Instrument{}, err
		}
		inst := market.Instrument{Symbol: symbol, SecType: market.ParseSecType(secType), ConID: n}
		if known, ok := market.LookupInstrument(symbol); ok {
			inst = known
			inst.ConID = n
		}
		inst.ID = conid
		return inst, nil
	}

	if symbol == "" {
		return market.Instrument{}, market.NewBadSymbolError("", "symbol or conid is required")
	}
	known, ok := market.LookupInstrument(symbol)
	if ok && known.SecType == market.SecFuture {
		if cs, err := s.store.Configured(ctx); err == nil {
			for _, c := range cs {
				if market.NormalizeSymbol(c.Symbol) == symbol {
					return market.InstrumentFromContract(c), nil
				}
			}
		}
	}
	if ok {
		return known, nil
	}
	st := market.ParseSecType(secType)
	if st == market.SecUnknown {
		st = market.SecEquity
	}
	return market.Instrument{
		ID:      market.FormatInstrumentID(symbol, 0),
		Symbol:  symbol,
		SecType: st,
	}, nil
}
