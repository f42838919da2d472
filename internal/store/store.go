// Package store is the local contract cache: resolved contracts, the
// configured subset and per-symbol search history, on a pluggable KV backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// Store is the contract cache consulted before any network call.
type Store interface {
	// Get returns the contracts known for symbol, possibly none.
	Get(ctx context.Context, symbol string) ([]market.Contract, error)
	// Put upserts contracts and records them as symbol's search result.
	Put(ctx context.Context, symbol string, contracts []market.Contract) error
	Contract(ctx context.Context, id string) (market.Contract, error)
	Configure(ctx context.Context, id string) error
	Unconfigure(ctx context.Context, id string) error
	Configured(ctx context.Context) ([]market.Contract, error)
	History(ctx context.Context, symbol string) (market.SearchHistoryEntry, bool, error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarizes the store.
type Stats struct {
	TotalContracts     int       `json:"totalContracts"`
	ConfiguredCount    int       `json:"configuredContracts"`
	SearchHistoryCount int       `json:"searchHistoryCount"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

var _ Store = (*ContractStore)(nil)

// ContractStore implements Store on a KV backend. Mutations are serialized;
// reads go straight to the backend.
type ContractStore struct {
	kv      KV
	mu      sync.Mutex
	now     func() time.Time
	journal *Journal
}

// Option configures a ContractStore.
type Option func(*ContractStore)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *ContractStore) { s.now = now }
}

// WithJournal records every mutation in j.
func WithJournal(j *Journal) Option {
	return func(s *ContractStore) { s.journal = j }
}

// New wraps kv.
func New(kv KV, opts ...Option) *ContractStore {
	s := &ContractStore{kv: kv, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get serves the symbol's last search result in upstream order, refreshed
// from the contracts table so configuration flags are current. Without a
// history entry it scans contracts by symbol.
func (s *ContractStore) Get(ctx context.Context, symbol string) ([]market.Contract, error) {
	sym := market.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, nil
	}

	entry, ok, err := s.History(ctx, sym)
	if err != nil {
		return nil, err
	}
	if ok && len(entry.Contracts) > 0 {
		out := make([]market.Contract, 0, len(entry.Contracts))
		for _, c := range entry.Contracts {
			cur, found, err := s.readContract(ctx, TableContracts, c.ID)
			if err != nil {
				return nil, err
			}
			if found {
				c = cur
			}
			out = append(out, c)
		}
		observ.IncCounter("contract_cache_total", map[string]string{"result": "hit"})
		return out, nil
	}

	var out []market.Contract
	err = s.kv.Scan(ctx, TableContracts, func(_ string, v []byte) error {
		var c market.Contract
		if err := json.Unmarshal(v, &c); err != nil {
			return nil
		}
		if market.NormalizeSymbol(c.Symbol) == sym {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", sym, err)
	}
	sortContracts(out)

	result := "miss"
	if len(out) > 0 {
		result = "hit"
	}
	observ.IncCounter("contract_cache_total", map[string]string{"result": result})
	return out, nil
}

// Put merges each contract into the contracts table (known new fields
// overwrite, unknown ones keep the stored value, IsConfigured is sticky),
// stamps LastUpdated and records the ordered result under symbol.
func (s *ContractStore) Put(ctx context.Context, symbol string, contracts []market.Contract) error {
	sym := market.NormalizeSymbol(symbol)
	if sym == "" {
		return market.NewBadSymbolError(symbol, "empty symbol")
	}
	if len(contracts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	merged := make([]market.Contract, 0, len(contracts))
	ids := make([]string, 0, len(contracts))
	for _, c := range contracts {
		if c.ID == "" {
			continue
		}
		old, found, err := s.readContract(ctx, TableContracts, c.ID)
		if err != nil {
			return err
		}
		if found {
			c = c.Merge(old)
		}
		if _, configured, err := s.kv.Get(ctx, TableConfigured, c.ID); err != nil {
			return fmt.Errorf("put %s: %w", sym, err)
		} else if configured {
			c.IsConfigured = true
		}
		c.LastUpdated = now

		if err := s.writeContract(ctx, TableContracts, c); err != nil {
			return err
		}
		if c.IsConfigured {
			if err := s.writeContract(ctx, TableConfigured, c); err != nil {
				return err
			}
		}
		merged = append(merged, c)
		ids = append(ids, c.ID)
	}
	if len(merged) == 0 {
		return nil
	}

	entry := market.SearchHistoryEntry{Symbol: sym, Contracts: merged, SearchTime: now, TotalCount: len(merged)}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", sym, err)
	}
	if err := s.kv.Set(ctx, TableHistory, sym, b); err != nil {
		return err
	}

	s.record(JournalEntry{Type: "put", Symbol: sym, IDs: ids, Event: now})
	observ.IncCounterBy("store_contracts_written_total", nil, int64(len(merged)))
	return nil
}

// Contract returns one contract by id.
func (s *ContractStore) Contract(ctx context.Context, id string) (market.Contract, error) {
	c, found, err := s.readContract(ctx, TableContracts, id)
	if err != nil {
		return market.Contract{}, err
	}
	if !found {
		return market.Contract{}, market.NewNotFoundError("contract", id)
	}
	return c, nil
}

// Configure promotes a stored contract to actively tracked. Idempotent.
func (s *ContractStore) Configure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, found, err := s.readContract(ctx, TableContracts, id)
	if err != nil {
		return err
	}
	if !found {
		return market.NewNotFoundError("configure", id)
	}
	if c.IsConfigured {
		if _, ok, err := s.kv.Get(ctx, TableConfigured, id); err == nil && ok {
			return nil
		}
	}
	c.IsConfigured = true
	if err := s.writeContract(ctx, TableContracts, c); err != nil {
		return err
	}
	if err := s.writeContract(ctx, TableConfigured, c); err != nil {
		return err
	}
	s.record(JournalEntry{Type: "configure", Symbol: c.Symbol, IDs: []string{id}, Event: s.now()})
	return nil
}

// Unconfigure demotes a contract. Idempotent; unknown ids are an error.
func (s *ContractStore) Unconfigure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, found, err := s.readContract(ctx, TableContracts, id)
	if err != nil {
		return err
	}
	_, configured, err := s.kv.Get(ctx, TableConfigured, id)
	if err != nil {
		return err
	}
	if !found && !configured {
		return market.NewNotFoundError("unconfigure", id)
	}
	if !configured && !c.IsConfigured {
		return nil
	}
	if err := s.kv.Delete(ctx, TableConfigured, id); err != nil {
		return err
	}
	if found {
		c.IsConfigured = false
		if err := s.writeContract(ctx, TableContracts, c); err != nil {
			return err
		}
	}
	s.record(JournalEntry{Type: "unconfigure", Symbol: c.Symbol, IDs: []string{id}, Event: s.now()})
	return nil
}

// Configured lists configured contracts by symbol then expiration.
func (s *ContractStore) Configured(ctx context.Context) ([]market.Contract, error) {
	var out []market.Contract
	err := s.kv.Scan(ctx, TableConfigured, func(_ string, v []byte) error {
		var c market.Contract
		if err := json.Unmarshal(v, &c); err != nil {
			return nil
		}
		c.IsConfigured = true
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list configured: %w", err)
	}
	sortContracts(out)
	return out, nil
}

// History returns the last search result recorded for symbol.
func (s *ContractStore) History(ctx context.Context, symbol string) (market.SearchHistoryEntry, bool, error) {
	sym := market.NormalizeSymbol(symbol)
	b, ok, err := s.kv.Get(ctx, TableHistory, sym)
	if err != nil || !ok {
		return market.SearchHistoryEntry{}, false, err
	}
	var entry market.SearchHistoryEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return market.SearchHistoryEntry{}, false, nil
	}
	return entry, true, nil
}

// Stats counts the tables; LastUpdated is the newest contract stamp.
func (s *ContractStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.ConfiguredCount, err = s.kv.Count(ctx, TableConfigured); err != nil {
		return Stats{}, err
	}
	if st.SearchHistoryCount, err = s.kv.Count(ctx, TableHistory); err != nil {
		return Stats{}, err
	}
	err = s.kv.Scan(ctx, TableContracts, func(_ string, v []byte) error {
		st.TotalContracts++
		var c market.Contract
		if json.Unmarshal(v, &c) == nil && c.LastUpdated.After(st.LastUpdated) {
			st.LastUpdated = c.LastUpdated
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Clear empties all three tables.
func (s *ContractStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tables {
		if err := s.kv.Truncate(ctx, t); err != nil {
			return err
		}
	}
	s.record(JournalEntry{Type: "clear", Event: s.now()})
	observ.Log("store_cleared", nil)
	return nil
}

// Close closes the backend.
func (s *ContractStore) Close() error {
	return s.kv.Close()
}

func (s *ContractStore) readContract(ctx context.Context, t Table, id string) (market.Contract, bool, error) {
	b, ok, err := s.kv.Get(ctx, t, id)
	if err != nil || !ok {
		return market.Contract{}, false, err
	}
	var c market.Contract
	if err := json.Unmarshal(b, &c); err != nil {
		observ.Warn("store_corrupt_entry", map[string]any{"table": t, "id": id, "error": err})
		return market.Contract{}, false, nil
	}
	return c, true, nil
}

func (s *ContractStore) writeContract(ctx context.Context, t Table, c market.Contract) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode contract %s: %w", c.ID, err)
	}
	return s.kv.Set(ctx, t, c.ID, b)
}

func (s *ContractStore) record(e JournalEntry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.append(e); err != nil {
		observ.Warn("store_journal_write_failed", map[string]any{"type": e.Type, "error": err})
	}
}

func sortContracts(cs []market.Contract) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Symbol != cs[j].Symbol {
			return cs[i].Symbol < cs[j].Symbol
		}
		if cs[i].ExpirationDate != cs[j].ExpirationDate {
			return cs[i].ExpirationDate < cs[j].ExpirationDate
		}
		return cs[i].ID < cs[j].ID
	})
}
