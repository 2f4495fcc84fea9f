package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jklarsen/bookfeed/internal/domain"
)

type capturedSnapshot struct {
	instrument string
	bids, asks []domain.PriceLevel
	ts         time.Time
}

type capturedDelta struct {
	instrument string
	side       domain.Side
	level      domain.PriceLevel
	ts         time.Time
}

func newCaptureFeed(t *testing.T) (*WSFeed, *[]capturedSnapshot, *[]capturedDelta) {
	t.Helper()
	snaps := &[]capturedSnapshot{}
	deltas := &[]capturedDelta{}

	onSnap := func(_ context.Context, instrument string, bids, asks []domain.PriceLevel, ts time.Time) {
		*snaps = append(*snaps, capturedSnapshot{instrument, bids, asks, ts})
	}
	onDelta := func(_ context.Context, instrument string, side domain.Side, level domain.PriceLevel, ts time.Time) {
		*deltas = append(*deltas, capturedDelta{instrument, side, level, ts})
	}
	f := NewWSFeed(Config{WsURL: "ws://example.invalid/ws"}, []string{"BTC-USD"}, onSnap, onDelta, slog.Default())
	return f, snaps, deltas
}

func TestWSFeed_HandleBookMessage(t *testing.T) {
	f, snaps, deltas := newCaptureFeed(t)

	raw := []byte(`{
		"event_type": "book",
		"instrument": "BTC-USD",
		"bids": [{"price": "243.49", "size": "100"}, {"price": "243.40", "size": "50"}],
		"asks": [{"price": "243.50", "size": "75"}],
		"timestamp": "2026-08-31T12:00:00Z"
	}`)
	f.handleMessage(context.Background(), raw)

	require.Len(t, *snaps, 1)
	assert.Empty(t, *deltas)

	snap := (*snaps)[0]
	assert.Equal(t, "BTC-USD", snap.instrument)
	require.Len(t, snap.bids, 2)
	require.Len(t, snap.asks, 1)
	assert.True(t, snap.bids[0].Price.Equal(decimal.RequireFromString("243.49")))
	assert.True(t, snap.asks[0].Size.Equal(decimal.RequireFromString("75")))
	assert.Equal(t, 2026, snap.ts.Year())
}

func TestWSFeed_HandlePriceChange(t *testing.T) {
	f, snaps, deltas := newCaptureFeed(t)

	raw := []byte(`{
		"event_type": "price_change",
		"instrument": "BTC-USD",
		"changes": [
			{"side": "bid", "price": "243.49", "size": "120"},
			{"side": "sell", "price": "243.51", "size": "0"},
			{"side": "bogus", "price": "1", "size": "1"}
		]
	}`)
	f.handleMessage(context.Background(), raw)

	assert.Empty(t, *snaps)
	require.Len(t, *deltas, 2)

	assert.Equal(t, domain.SideBid, (*deltas)[0].side)
	assert.True(t, (*deltas)[0].level.Size.Equal(decimal.RequireFromString("120")))

	// "sell" maps to the ask side; zero size is a removal and still delivered.
	assert.Equal(t, domain.SideAsk, (*deltas)[1].side)
	assert.True(t, (*deltas)[1].level.Size.IsZero())
}

func TestWSFeed_DropsMalformedInput(t *testing.T) {
	f, snaps, deltas := newCaptureFeed(t)

	for _, raw := range []string{
		`not json at all`,
		`{"event_type": "book"}`,
		`{"event_type": "book", "instrument": "", "bids": [], "asks": []}`,
		`{"event_type": "price_change", "instrument": "BTC-USD", "changes": [{"side": "bid", "price": "abc", "size": "1"}]}`,
		`{"event_type": "unknown", "instrument": "BTC-USD"}`,
	} {
		f.handleMessage(context.Background(), []byte(raw))
	}

	assert.Empty(t, *snaps)
	assert.Empty(t, *deltas)
}

func TestWSFeed_BadLevelsSkippedWithinSnapshot(t *testing.T) {
	f, snaps, _ := newCaptureFeed(t)

	raw := []byte(`{
		"event_type": "book",
		"instrument": "BTC-USD",
		"bids": [{"price": "oops", "size": "100"}, {"price": "243.40", "size": "50"}],
		"asks": []
	}`)
	f.handleMessage(context.Background(), raw)

	require.Len(t, *snaps, 1)
	require.Len(t, (*snaps)[0].bids, 1)
	assert.True(t, (*snaps)[0].bids[0].Price.Equal(decimal.RequireFromString("243.40")))
}
