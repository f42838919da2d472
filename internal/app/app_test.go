package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/config"
	"github.com/Rajchodisetti/futures-feed/internal/market"
)

func TestBuildOffline(t *testing.T) {
	t.Setenv("QUOTES", "synthetic")
	cfg := config.Default()
	cfg.Store.Backend = "memory"

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Gateway)
	assert.Empty(t, a.Fetcher.Tiers())
	q := a.Fetcher.FetchQuote(context.Background(), market.Instrument{Symbol: "MES", SecType: market.SecFuture, TickSize: 0.25})
	assert.Equal(t, market.TierSynthetic, q.SourceTier)
	assert.Greater(t, q.LastPrice.Value, 0.0)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instruments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildSQLiteWithJournal(t *testing.T) {
	t.Setenv("QUOTES", "synthetic")
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "contracts.db")
	cfg.Store.JournalPath = filepath.Join(dir, "journal.jsonl")
	off := false
	cfg.Gateway.Enabled = &off

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Gateway)

	ctx := context.Background()
	require.NoError(t, a.Store.Put(ctx, "ES", []market.Contract{{ID: "495512563", Symbol: "ES", SecType: market.SecFuture, Exchange: "CME"}}))
	require.NoError(t, a.Store.Configure(ctx, "495512563"))
	st, err := a.Store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConfiguredCount)
	assert.FileExists(t, cfg.Store.JournalPath)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "postgres"
	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid config")
}
