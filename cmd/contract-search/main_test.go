package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/app"
	"github.com/Rajchodisetti/futures-feed/internal/config"
	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/resolver"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	t.Setenv("QUOTES", "synthetic")
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Store.Put(context.Background(), "MES", []market.Contract{
		{ID: "730283085", Symbol: "MES", SecType: market.SecFuture, Exchange: "CME", ContractMonth: "202512", ExpirationDate: "2025-12-19", Multiplier: market.NumOf(5), Description: "MES DEC25"},
		{ID: "750150186", Symbol: "MES", SecType: market.SecFuture, Exchange: "CME", ContractMonth: "202603", ExpirationDate: "2026-03-20", Multiplier: market.NumOf(5), Description: "MES MAR26"},
	}))
	return a
}

func TestRunPrintsTable(t *testing.T) {
	a := newApp(t)
	var out bytes.Buffer
	err := run(context.Background(), a, &out, options{query: resolver.Query{Symbol: "mes"}})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "ID")
	assert.Contains(t, s, "730283085")
	assert.Contains(t, s, "MES MAR26")
	assert.Contains(t, s, "2 contracts (cache, 0 enriched)")
}

func TestRunJSONAndConfigure(t *testing.T) {
	a := newApp(t)
	var out bytes.Buffer
	err := run(context.Background(), a, &out, options{
		query:     resolver.Query{Symbol: "MES"},
		json:      true,
		configure: "750150186",
	})
	require.NoError(t, err)

	var got []market.Contract
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got, 2)

	configured, err := a.Store.Configured(context.Background())
	require.NoError(t, err)
	require.Len(t, configured, 1)
	assert.Equal(t, "750150186", configured[0].ID)
}

func TestRunMonth(t *testing.T) {
	a := newApp(t)
	var out bytes.Buffer
	err := run(context.Background(), a, &out, options{query: resolver.Query{Symbol: "MES"}, month: "MAR26"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "750150186")
	assert.NotContains(t, out.String(), "730283085")
}

func TestRunConfigureUnknown(t *testing.T) {
	a := newApp(t)
	err := run(context.Background(), a, &bytes.Buffer{}, options{query: resolver.Query{Symbol: "MES"}, configure: "nope"})
	assert.ErrorContains(t, err, "configure nope")
}
