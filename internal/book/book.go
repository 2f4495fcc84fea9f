package book

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// EventSink receives best-price and imbalance change events. Publishing must
// never block the caller; the dispatch package provides the production
// implementation.
type EventSink interface {
	Publish(ev domain.BookEvent)
}

// Options parameterizes a single instrument's book.
type Options struct {
	// TickSize is the default aggregation bucket. Required, > 0.
	TickSize decimal.Decimal
	// Lambda is the exponential decay rate used for the imbalance events the
	// book emits on its own. Query methods take an explicit lambda.
	Lambda float64
	// Levels is the default depth for the center-of-gravity and VWAP
	// midpoints used in emitted quotes.
	Levels int
	// ImbalanceDelta is the minimum move, in imbalance points, before an
	// ImbalanceChanged event is emitted. Zero means every change fires.
	ImbalanceDelta float64
}

// bookState is the immutable snapshot readers observe. Writers build a new
// state and publish it with a single pointer swap, so a reader can never pair
// new bids with old asks.
type bookState struct {
	bids        *BookSide
	asks        *BookSide
	initialized bool
	updatedAt   time.Time
}

func emptyState() *bookState {
	return &bookState{
		bids: NewBookSide(domain.SideBid, nil),
		asks: NewBookSide(domain.SideAsk, nil),
	}
}

// OrderBook is the two-sided, price-aggregated view of one instrument's
// outstanding liquidity. Any number of goroutines may query it while feed
// goroutines apply snapshots and deltas.
type OrderBook struct {
	instrument string
	opts       Options
	state      atomic.Pointer[bookState]
	sink       EventSink

	// mu serializes writers and guards the best-price debounce cache. It is
	// scoped around the state swap and bookkeeping only, never around
	// aggregation queries.
	mu            sync.Mutex
	lastBestBid   *domain.PriceLevel
	lastBestAsk   *domain.PriceLevel
	lastImbalance decimal.Decimal
	hasImbalance  bool
}

// New creates an empty, uninitialized book for instrument. The sink may be
// nil, in which case the book never emits events.
func New(instrument string, opts Options, sink EventSink) (*OrderBook, error) {
	if opts.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("book %s: tick %s: %w", instrument, opts.TickSize, domain.ErrInvalidTick)
	}
	if opts.Lambda <= 0 {
		opts.Lambda = 0.5
	}
	if opts.Levels <= 0 {
		opts.Levels = 5
	}
	b := &OrderBook{
		instrument: instrument,
		opts:       opts,
		sink:       sink,
	}
	b.state.Store(emptyState())
	return b, nil
}

// Instrument returns the instrument identifier this book tracks.
func (b *OrderBook) Instrument() string { return b.instrument }

// TickSize returns the default aggregation tick.
func (b *OrderBook) TickSize() decimal.Decimal { return b.opts.TickSize }

// Initialized reports whether the book has received at least one snapshot or
// delta since creation or the last Clear.
func (b *OrderBook) Initialized() bool {
	return b.state.Load().initialized
}

// LastUpdate returns the timestamp of the most recent applied mutation.
func (b *OrderBook) LastUpdate() time.Time {
	return b.state.Load().updatedAt
}

// validateLevel rejects malformed feed input at the mutation boundary.
// Snapshot levels with zero size are legal (they are simply skipped).
func validateLevel(price, size decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("price %s: %w", price, domain.ErrInvalidPrice)
	}
	if size.Sign() < 0 {
		return fmt.Errorf("size %s at %s: %w", size, price, domain.ErrNegativeSize)
	}
	return nil
}

// ApplySnapshot atomically replaces both sides of the book. The new sides are
// fully constructed before a single pointer swap makes them visible, so
// concurrent readers observe either the old book or the new one, never a
// mixture. The whole snapshot is rejected, leaving the book untouched, if any
// level is malformed.
func (b *OrderBook) ApplySnapshot(bids, asks []domain.PriceLevel, ts time.Time) error {
	for _, lvl := range bids {
		if err := validateLevel(lvl.Price, lvl.Size); err != nil {
			return fmt.Errorf("book %s: snapshot bid %w", b.instrument, err)
		}
	}
	for _, lvl := range asks {
		if err := validateLevel(lvl.Price, lvl.Size); err != nil {
			return fmt.Errorf("book %s: snapshot ask %w", b.instrument, err)
		}
	}

	next := &bookState{
		bids:        NewBookSide(domain.SideBid, bids),
		asks:        NewBookSide(domain.SideAsk, asks),
		initialized: true,
		updatedAt:   ts,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Store(next)
	b.recheckBest(next, domain.SideBid, ts)
	b.recheckBest(next, domain.SideAsk, ts)
	b.recheckImbalance(next, ts)
	return nil
}

// ApplyDelta applies one incremental level change: size > 0 inserts or
// replaces, size == 0 removes (idempotently). A delta before any snapshot is
// a legitimate accumulating build and initializes the book.
func (b *OrderBook) ApplyDelta(side domain.Side, price, size decimal.Decimal, ts time.Time) error {
	if !side.Valid() {
		return fmt.Errorf("book %s: side %q: %w", b.instrument, side, domain.ErrUnknownSide)
	}
	if err := validateLevel(price, size); err != nil {
		return fmt.Errorf("book %s: delta %w", b.instrument, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.state.Load()
	next := &bookState{
		bids:        cur.bids,
		asks:        cur.asks,
		initialized: true,
		updatedAt:   ts,
	}
	if side == domain.SideBid {
		next.bids = cur.bids.WithLevel(price, size)
	} else {
		next.asks = cur.asks.WithLevel(price, size)
	}
	b.state.Store(next)
	b.recheckBest(next, side, ts)
	b.recheckImbalance(next, ts)
	return nil
}

// Clear atomically empties both sides and marks the book uninitialized. If a
// side previously had a best price, one best-vacated event (Best == nil) is
// emitted for that side; nothing fires for sides that were already empty.
func (b *OrderBook) Clear() {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Store(emptyState())
	if b.lastBestBid != nil {
		b.lastBestBid = nil
		b.emit(domain.EventBestBidChanged, nil, decimal.Decimal{}, now)
	}
	if b.lastBestAsk != nil {
		b.lastBestAsk = nil
		b.emit(domain.EventBestAskChanged, nil, decimal.Decimal{}, now)
	}
	b.lastImbalance = decimal.Decimal{}
	b.hasImbalance = false
}

// recheckBest recomputes one side's best aggregated level and emits an event
// only when the (price, size) pair actually changed. Mutations below the top
// of book stay silent. Callers hold b.mu.
func (b *OrderBook) recheckBest(st *bookState, side domain.Side, ts time.Time) {
	var (
		cached **domain.PriceLevel
		evType domain.BookEventType
		bs     *BookSide
	)
	if side == domain.SideBid {
		cached, evType, bs = &b.lastBestBid, domain.EventBestBidChanged, st.bids
	} else {
		cached, evType, bs = &b.lastBestAsk, domain.EventBestAskChanged, st.asks
	}

	best, ok := bs.Best(b.opts.TickSize)
	switch {
	case !ok && *cached == nil:
		return
	case ok && *cached != nil && best.Equal(**cached):
		return
	case !ok:
		*cached = nil
		b.emit(evType, nil, decimal.Decimal{}, ts)
	default:
		lvl := best
		*cached = &lvl
		b.emit(evType, &lvl, decimal.Decimal{}, ts)
	}
}

// recheckImbalance emits an ImbalanceChanged event when the weighted
// imbalance moved by at least ImbalanceDelta points since the last emitted
// value. Callers hold b.mu.
func (b *OrderBook) recheckImbalance(st *bookState, ts time.Time) {
	imb, ok := imbalanceOf(st, b.opts.Lambda, b.opts.TickSize)
	if !ok {
		return
	}
	if b.hasImbalance {
		diff := imb.Sub(b.lastImbalance).Abs()
		if b.opts.ImbalanceDelta > 0 {
			if diff.InexactFloat64() < b.opts.ImbalanceDelta {
				return
			}
		} else if diff.Sign() == 0 {
			return
		}
	}
	b.lastImbalance = imb
	b.hasImbalance = true
	b.emit(domain.EventImbalanceChanged, nil, imb, ts)
}

// emit publishes one event to the sink. Callers hold b.mu; the sink contract
// guarantees Publish never blocks, so holding the writer lock here cannot
// stall other feed goroutines for longer than an enqueue.
func (b *OrderBook) emit(t domain.BookEventType, best *domain.PriceLevel, imb decimal.Decimal, ts time.Time) {
	if b.sink == nil {
		return
	}
	b.sink.Publish(domain.BookEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Instrument: b.instrument,
		Best:       best,
		Imbalance:  imb,
		Timestamp:  ts,
	})
}
