package book

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// recordSink captures emitted events synchronously for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []domain.BookEvent
}

func (s *recordSink) Publish(ev domain.BookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordSink) byType(t domain.BookEventType) []domain.BookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BookEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func newTestBook(t *testing.T, sink EventSink) *OrderBook {
	t.Helper()
	b, err := New("BTC-USD", Options{TickSize: d("0.01")}, sink)
	require.NoError(t, err)
	return b
}

func levels(t *testing.T, pairs ...string) []domain.PriceLevel {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, mustLevel(t, pairs[i], pairs[i+1]))
	}
	return out
}

func TestNew_RejectsBadTick(t *testing.T) {
	_, err := New("X", Options{TickSize: decimal.Zero}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTick)
}

func TestOrderBook_BestPricesAndMidpoint(t *testing.T) {
	b := newTestBook(t, nil)
	err := b.ApplySnapshot(
		levels(t, "100.50", "500", "100.49", "300", "100.48", "200"),
		levels(t, "100.51", "400", "100.52", "600", "100.53", "100"),
		time.Now(),
	)
	require.NoError(t, err)
	require.True(t, b.Initialized())

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100.50")), "got %s", bid.Price)
	assert.True(t, bid.Size.Equal(d("500")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("100.51")))
	assert.True(t, ask.Size.Equal(d("400")))

	mid, ok := b.Midpoint()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.505")), "got %s", mid)
}

// Scenario taken from recorded feed data.
func TestOrderBook_LiveFeedScenario(t *testing.T) {
	b := newTestBook(t, nil)
	err := b.ApplySnapshot(
		levels(t, "243.49", "244.82", "243.47", "8.21", "243.46", "12.32"),
		levels(t, "243.50", "419.05", "243.51", "18.67", "243.52", "14.04"),
		time.Now(),
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("243.49")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("243.50")))

	mid, ok := b.Midpoint()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("243.495")), "got %s", mid)
}

func TestOrderBook_QueriesBeforeInitialization(t *testing.T) {
	b := newTestBook(t, nil)

	assert.False(t, b.Initialized())
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	_, ok = b.Midpoint()
	assert.False(t, ok)
	_, ok = b.WeightedImbalance(0.5)
	assert.False(t, ok)
	_, ok = b.CenterOfGravityMidpoint(5)
	assert.False(t, ok)
	_, ok = b.VWAPMidpoint(5)
	assert.False(t, ok)
}

func TestOrderBook_DeltaBeforeSnapshotInitializes(t *testing.T) {
	b := newTestBook(t, nil)

	require.NoError(t, b.ApplyDelta(domain.SideBid, d("100.50"), d("5"), time.Now()))
	assert.True(t, b.Initialized())

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100.50")))

	// One-sided book: no midpoint yet.
	_, ok = b.Midpoint()
	assert.False(t, ok)
}

func TestOrderBook_DeltaRemove(t *testing.T) {
	b := newTestBook(t, nil)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "5", "100.49", "3"),
		nil,
		time.Now(),
	))

	require.NoError(t, b.ApplyDelta(domain.SideBid, d("100.50"), decimal.Zero, time.Now()))
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100.49")))

	// Removing an absent price is a no-op, not an error.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("101.00"), decimal.Zero, time.Now()))
}

func TestOrderBook_ValidationLeavesStateUntouched(t *testing.T) {
	b := newTestBook(t, nil)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "5"),
		levels(t, "100.51", "4"),
		time.Now(),
	))

	err := b.ApplySnapshot(
		levels(t, "100.60", "7", "100.59", "-1"),
		nil,
		time.Now(),
	)
	assert.ErrorIs(t, err, domain.ErrNegativeSize)

	err = b.ApplyDelta(domain.SideAsk, d("-1"), d("3"), time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	err = b.ApplyDelta(domain.Side("buy"), d("100"), d("3"), time.Now())
	assert.ErrorIs(t, err, domain.ErrUnknownSide)

	// The rejected mutations must not have partially applied.
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100.50")))
	assert.True(t, bid.Size.Equal(d("5")))
}

func TestOrderBook_ClearResetsCleanly(t *testing.T) {
	sink := &recordSink{}
	b := newTestBook(t, sink)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "5"),
		levels(t, "100.51", "4"),
		time.Now(),
	))
	sink.reset()

	b.Clear()

	assert.False(t, b.Initialized())
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)

	// Policy: one best-vacated event per side that previously had a best,
	// carrying a nil Best.
	bidEvs := sink.byType(domain.EventBestBidChanged)
	require.Len(t, bidEvs, 1)
	assert.Nil(t, bidEvs[0].Best)
	askEvs := sink.byType(domain.EventBestAskChanged)
	require.Len(t, askEvs, 1)
	assert.Nil(t, askEvs[0].Best)

	// A second clear of an already-empty book emits nothing.
	sink.reset()
	b.Clear()
	assert.Empty(t, sink.byType(domain.EventBestBidChanged))
	assert.Empty(t, sink.byType(domain.EventBestAskChanged))
}

func TestOrderBook_NoSpuriousNotifications(t *testing.T) {
	sink := &recordSink{}
	b := newTestBook(t, sink)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "500", "100.49", "300"),
		levels(t, "100.51", "400"),
		time.Now(),
	))
	sink.reset()

	// A mutation below the top of the book must stay silent.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("100.48"), d("200"), time.Now()))
	assert.Empty(t, sink.byType(domain.EventBestBidChanged))
	assert.Empty(t, sink.byType(domain.EventBestAskChanged))

	// Changing the aggregated size at the best price is a real change.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("100.50"), d("600"), time.Now()))
	evs := sink.byType(domain.EventBestBidChanged)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Best)
	assert.True(t, evs[0].Best.Price.Equal(d("100.50")))
	assert.True(t, evs[0].Best.Size.Equal(d("600")))

	// Re-applying an identical snapshot changes nothing and emits nothing.
	sink.reset()
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "600", "100.49", "300", "100.48", "200"),
		levels(t, "100.51", "400"),
		time.Now(),
	))
	assert.Empty(t, sink.byType(domain.EventBestBidChanged))
	assert.Empty(t, sink.byType(domain.EventBestAskChanged))
}

func TestOrderBook_ImbalanceBoundsAndSymmetry(t *testing.T) {
	b, err := New("BTC-USD", Options{TickSize: d("1")}, nil)
	require.NoError(t, err)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "99", "10"),
		levels(t, "101", "10"),
		time.Now(),
	))

	imb, ok := b.WeightedImbalance(0.5)
	require.True(t, ok)
	assert.True(t, imb.IsZero(), "symmetric book should balance, got %s", imb)

	// Heavily bid-skewed book: positive, still within [-100, 100].
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("98"), d("1000"), time.Now()))
	imb, ok = b.WeightedImbalance(0.5)
	require.True(t, ok)
	assert.True(t, imb.GreaterThan(decimal.Zero))
	assert.True(t, imb.LessThanOrEqual(d("100")))
	assert.True(t, imb.GreaterThanOrEqual(d("-100")))
}

func TestOrderBook_ImbalanceDegenerateStates(t *testing.T) {
	b := newTestBook(t, nil)

	// Empty book.
	_, ok := b.WeightedImbalance(0.5)
	assert.False(t, ok)

	// One-sided book: no midpoint, no imbalance.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("100.50"), d("5"), time.Now()))
	_, ok = b.WeightedImbalance(0.5)
	assert.False(t, ok)
}

func TestOrderBook_CenterOfGravityVsVWAPMidpoint(t *testing.T) {
	b, err := New("BTC-USD", Options{TickSize: d("1")}, nil)
	require.NoError(t, err)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100", "10"),
		levels(t, "101", "30", "102", "10"),
		time.Now(),
	))

	// Pooled: (100*10 + 101*30 + 102*10) / 50 = 101.
	cog, ok := b.CenterOfGravityMidpoint(2)
	require.True(t, ok)
	assert.True(t, cog.Equal(d("101")), "got %s", cog)

	// Side VWAPs: bid 100, ask (101*30+102*10)/40 = 101.25; average 100.625.
	vwap, ok := b.VWAPMidpoint(2)
	require.True(t, ok)
	assert.True(t, vwap.Equal(d("100.625")), "got %s", vwap)

	assert.False(t, cog.Equal(vwap), "the two midpoint formulas must stay distinct")
}

func TestOrderBook_VWAPMidpointOneSided(t *testing.T) {
	b := newTestBook(t, nil)
	require.NoError(t, b.ApplyDelta(domain.SideAsk, d("100.51"), d("4"), time.Now()))
	_, ok := b.VWAPMidpoint(5)
	assert.False(t, ok)

	// Center of gravity only needs pooled volume.
	cog, ok := b.CenterOfGravityMidpoint(5)
	require.True(t, ok)
	assert.True(t, cog.Equal(d("100.51")))
}

func TestOrderBook_ImbalanceChangeEvents(t *testing.T) {
	sink := &recordSink{}
	b, err := New("BTC-USD", Options{TickSize: d("1"), ImbalanceDelta: 5}, sink)
	require.NoError(t, err)

	require.NoError(t, b.ApplySnapshot(
		levels(t, "99", "10"),
		levels(t, "101", "10"),
		time.Now(),
	))
	require.Len(t, sink.byType(domain.EventImbalanceChanged), 1, "first defined imbalance fires")

	// Tiny change, below the delta: debounced.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("99"), d("10.01"), time.Now()))
	assert.Len(t, sink.byType(domain.EventImbalanceChanged), 1)

	// Large skew: fires again.
	require.NoError(t, b.ApplyDelta(domain.SideBid, d("99"), d("1000"), time.Now()))
	evs := sink.byType(domain.EventImbalanceChanged)
	require.Len(t, evs, 2)
	assert.True(t, evs[1].Imbalance.GreaterThan(decimal.Zero))
}

// One writer alternating full snapshots, one reader sampling the derived
// triple. Every observed triple must come from a single book state: best bid
// <= midpoint <= best ask for the whole run.
func TestOrderBook_ConcurrentSnapshotAtomicity(t *testing.T) {
	b := newTestBook(t, nil)

	snapA := [2][]domain.PriceLevel{
		levels(t, "100.50", "500", "100.49", "300"),
		levels(t, "100.51", "400", "100.52", "600"),
	}
	snapB := [2][]domain.PriceLevel{
		levels(t, "243.49", "244.82", "243.47", "8.21"),
		levels(t, "243.50", "419.05", "243.51", "18.67"),
	}

	const iterations = 10000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < iterations; i++ {
			snap := snapA
			if i%2 == 1 {
				snap = snapB
			}
			if err := b.ApplySnapshot(snap[0], snap[1], time.Now()); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	violations := 0
	for i := 0; i < iterations; i++ {
		q := b.Quote()
		if q.BestBid == nil || q.BestAsk == nil {
			continue
		}
		if q.BestBid.Price.GreaterThan(q.Midpoint) || q.Midpoint.GreaterThan(q.BestAsk.Price) {
			violations++
		}
	}
	<-done

	assert.Zero(t, violations, "reader observed a torn book state")
}

func TestOrderBook_TickOverride(t *testing.T) {
	b := newTestBook(t, nil)
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.43", "5", "100.37", "3"),
		levels(t, "100.58", "4"),
		time.Now(),
	))

	// Default tick 0.01 keeps the raw prices apart.
	bids, _ := b.Depth(10)
	assert.Len(t, bids, 2)

	// A coarser override tick merges them.
	bid, ok := b.BestBidAt(d("0.1"))
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100.4")), "got %s", bid.Price)
	assert.True(t, bid.Size.Equal(d("8")))

	ask, ok := b.BestAskAt(d("0.1"))
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("100.6")))
}

func TestOrderBook_Quote(t *testing.T) {
	b := newTestBook(t, nil)
	ts := time.Now()
	require.NoError(t, b.ApplySnapshot(
		levels(t, "100.50", "500"),
		levels(t, "100.51", "400"),
		ts,
	))

	q := b.Quote()
	assert.Equal(t, "BTC-USD", q.Instrument)
	require.True(t, q.HasMidpoint())
	assert.True(t, q.Midpoint.Equal(d("100.505")))
	assert.Equal(t, ts, q.Timestamp)
}
