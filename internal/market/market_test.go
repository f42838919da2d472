package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumOf(t *testing.T) {
	tests := []struct {
		name  string
		in    float64
		known bool
	}{
		{"positive", 5200.25, true},
		{"zero is a value", 0, true},
		{"nan", math.NaN(), false},
		{"+inf", math.Inf(1), false},
		{"-inf", math.Inf(-1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.known, NumOf(tt.in).Known)
		})
	}
}

func TestNumJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Num `json:"a"`
		B Num `json:"b"`
	}{A: NumOf(5), B: Unknown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":5,"b":null}`, string(b))

	var got struct {
		A Num `json:"a"`
		B Num `json:"b"`
		C Num `json:"c"`
		D Num `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":1.5,"b":"2.25","c":null,"d":"n/a"}`), &got))
	assert.Equal(t, NumOf(1.5), got.A)
	assert.Equal(t, NumOf(2.25), got.B)
	assert.False(t, got.C.Known)
	assert.False(t, got.D.Known)
}

func TestContractMerge(t *testing.T) {
	old := Contract{
		ID:             "730283085",
		Symbol:         "MES",
		SecType:        SecFuture,
		Exchange:       "CME",
		Multiplier:     NumOf(5),
		ExpirationDate: "2025-12-19",
		IsConfigured:   true,
	}
	fresh := Contract{
		ID:          "730283085",
		Symbol:      "MES",
		SecType:     SecUnknown,
		Description: "Micro E-mini S&P 500",
		Multiplier:  Unknown,
	}

	got := fresh.Merge(old)
	assert.Equal(t, SecFuture, got.SecType)
	assert.Equal(t, "CME", got.Exchange)
	assert.Equal(t, NumOf(5), got.Multiplier)
	assert.Equal(t, "2025-12-19", got.ExpirationDate)
	assert.Equal(t, "Micro E-mini S&P 500", got.Description)
	assert.True(t, got.IsConfigured)
}

func TestContractConID(t *testing.T) {
	assert.Equal(t, int64(495512563), Contract{ID: "495512563"}.ConID())
	assert.Equal(t, int64(0), Contract{ID: "mes"}.ConID())
}

func TestLookupInstrument(t *testing.T) {
	mes, ok := LookupInstrument(" mes ")
	require.True(t, ok)
	assert.Equal(t, "730283085", mes.ID)
	assert.Equal(t, SecFuture, mes.SecType)
	assert.Equal(t, 0.25, mes.TickSize)

	btc, ok := LookupInstrument("BTC")
	require.True(t, ok)
	assert.Equal(t, "bitcoin", btc.ProviderID("coingecko"))
	assert.Equal(t, "BTC", btc.ProviderID("polygon"))

	_, ok = LookupInstrument("ZZZ")
	assert.False(t, ok)
}

func TestCatalogueOrdering(t *testing.T) {
	insts := Catalogue()
	require.NotEmpty(t, insts)
	for i := 1; i < len(insts); i++ {
		prev, cur := insts[i-1], insts[i]
		if prev.SecType == cur.SecType {
			assert.Less(t, prev.Symbol, cur.Symbol)
		} else {
			assert.Less(t, string(prev.SecType), string(cur.SecType))
		}
	}
}

func TestInstrumentFromContract(t *testing.T) {
	c := Contract{ID: "123", Symbol: "mnq", SecType: SecFuture, Exchange: "CME", Currency: "USD", LastUpdated: time.Now()}
	inst := InstrumentFromContract(c)
	assert.Equal(t, "123", inst.ID)
	assert.Equal(t, int64(123), inst.ConID)
	assert.Equal(t, "MNQ", inst.Symbol)
	assert.Equal(t, 18500.0, inst.BasePrice)
}

func TestFetchErrorIs(t *testing.T) {
	err := fmt.Errorf("resolve MES: %w", NewExhaustedError("search", "MES", errors.New("dial tcp: refused")))

	assert.True(t, errors.Is(err, ErrAllEndpointsUnreachable))
	assert.False(t, errors.Is(err, ErrNoContractsFound))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAllEndpointsUnreachable, kind)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}
