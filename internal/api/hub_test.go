package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/refresh"
)

func TestHubHistoryLimit(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		_, err := h.Publish("quote", i)
		require.NoError(t, err)
	}
	all := h.Since("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "5", all[2].ID)

	assert.Len(t, h.Since("4", 0), 1)
	assert.Len(t, h.Since("3", 1), 1)
	// An id that fell out of the window replays everything retained.
	assert.Len(t, h.Since("1", 0), 3)
}

func TestHubSlowClientDrops(t *testing.T) {
	observ.Reset()
	h := NewHub(10)
	h.clientBuf = 1
	_, ch, _, cancel := h.subscribe("")
	defer cancel()

	_, err := h.Publish("quote", "a")
	require.NoError(t, err)
	_, err = h.Publish("quote", "b")
	require.NoError(t, err)

	env := <-ch
	assert.JSONEq(t, `"a"`, string(env.Payload))
	assert.Equal(t, int64(1), observ.CounterTotal("stream_events_dropped_total"))
}

func TestHubRunPublishesUpdates(t *testing.T) {
	h := NewHub(10)
	updates := make(chan refresh.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, updates)
		close(done)
	}()

	updates <- refresh.Update{
		Quote:      market.Quote{Symbol: "MES", SourceTier: market.TierSynthetic, LastPrice: market.NumOf(5200)},
		Active:     true,
		Generation: 4,
	}
	require.Eventually(t, func() bool { return len(h.Since("", 0)) == 1 }, time.Second, 5*time.Millisecond)
	env := h.Since("", 0)[0]
	assert.Equal(t, "quote", env.Type)
	assert.Contains(t, string(env.Payload), `"sourceTier":"synthetic"`)
	assert.Contains(t, string(env.Payload), `"generation":4`)

	cancel()
	<-done
}
