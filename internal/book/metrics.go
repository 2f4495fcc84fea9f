package book

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/domain"
)

var two = decimal.NewFromInt(2)

// BestBid returns the best aggregated bid at the book's default tick.
func (b *OrderBook) BestBid() (domain.PriceLevel, bool) {
	return b.BestBidAt(b.opts.TickSize)
}

// BestBidAt returns the best aggregated bid at an override tick size.
func (b *OrderBook) BestBidAt(tick decimal.Decimal) (domain.PriceLevel, bool) {
	return b.state.Load().bids.Best(tick)
}

// BestAsk returns the best aggregated ask at the book's default tick.
func (b *OrderBook) BestAsk() (domain.PriceLevel, bool) {
	return b.BestAskAt(b.opts.TickSize)
}

// BestAskAt returns the best aggregated ask at an override tick size.
func (b *OrderBook) BestAskAt(tick decimal.Decimal) (domain.PriceLevel, bool) {
	return b.state.Load().asks.Best(tick)
}

// Midpoint returns the arithmetic mean of the best bid and ask prices, or
// false when either side is empty.
func (b *OrderBook) Midpoint() (decimal.Decimal, bool) {
	return b.MidpointAt(b.opts.TickSize)
}

// MidpointAt is Midpoint at an override tick size.
func (b *OrderBook) MidpointAt(tick decimal.Decimal) (decimal.Decimal, bool) {
	return midpointOf(b.state.Load(), tick)
}

func midpointOf(st *bookState, tick decimal.Decimal) (decimal.Decimal, bool) {
	bid, okB := st.bids.Best(tick)
	ask, okA := st.asks.Best(tick)
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(two), true
}

// WeightedImbalance returns the exponentially distance-weighted volume
// imbalance scaled to [-100, 100]: positive values mean more bid-side
// pressure. When the midpoint is undefined or the total weighted volume is
// zero it returns (0, false) rather than an error; an empty or one-sided
// book is a normal transient condition.
func (b *OrderBook) WeightedImbalance(lambda float64) (decimal.Decimal, bool) {
	return b.WeightedImbalanceAt(lambda, b.opts.TickSize)
}

// WeightedImbalanceAt is WeightedImbalance at an override tick size.
func (b *OrderBook) WeightedImbalanceAt(lambda float64, tick decimal.Decimal) (decimal.Decimal, bool) {
	return imbalanceOf(b.state.Load(), lambda, tick)
}

func imbalanceOf(st *bookState, lambda float64, tick decimal.Decimal) (decimal.Decimal, bool) {
	mid, ok := midpointOf(st, tick)
	if !ok {
		return decimal.Decimal{}, false
	}
	bidVol := st.bids.WeightedVolume(mid, lambda, tick)
	askVol := st.asks.WeightedVolume(mid, lambda, tick)
	total := bidVol + askVol
	if total == 0 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat((bidVol - askVol) / total * 100), true
}

// CenterOfGravityMidpoint pools the top `levels` aggregated buckets of both
// sides into one set and returns its volume-weighted average price, or false
// when the pooled volume is zero.
func (b *OrderBook) CenterOfGravityMidpoint(levels int) (decimal.Decimal, bool) {
	return b.CenterOfGravityMidpointAt(levels, b.opts.TickSize)
}

// CenterOfGravityMidpointAt is CenterOfGravityMidpoint at an override tick.
func (b *OrderBook) CenterOfGravityMidpointAt(levels int, tick decimal.Decimal) (decimal.Decimal, bool) {
	st := b.state.Load()
	var notional, volume decimal.Decimal
	for _, lvl := range st.bids.Top(levels, tick) {
		notional = notional.Add(lvl.Notional())
		volume = volume.Add(lvl.Size)
	}
	for _, lvl := range st.asks.Top(levels, tick) {
		notional = notional.Add(lvl.Notional())
		volume = volume.Add(lvl.Size)
	}
	if volume.Sign() == 0 {
		return decimal.Decimal{}, false
	}
	return notional.Div(volume), true
}

// VWAPMidpoint computes the bid-side and ask-side VWAPs independently over
// their top `levels` buckets and returns the simple average of the two. This
// is deliberately a different statistic from CenterOfGravityMidpoint: a
// volume-heavy side drags the pooled center of gravity toward itself but
// moves the averaged side VWAPs only through its own side's shape.
func (b *OrderBook) VWAPMidpoint(levels int) (decimal.Decimal, bool) {
	return b.VWAPMidpointAt(levels, b.opts.TickSize)
}

// VWAPMidpointAt is VWAPMidpoint at an override tick size.
func (b *OrderBook) VWAPMidpointAt(levels int, tick decimal.Decimal) (decimal.Decimal, bool) {
	st := b.state.Load()
	bidVWAP, okB := st.bids.VWAP(levels, tick)
	askVWAP, okA := st.asks.VWAP(levels, tick)
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bidVWAP.Add(askVWAP).Div(two), true
}

// Depth returns up to `levels` aggregated buckets per side, best-first, from
// one consistent state.
func (b *OrderBook) Depth(levels int) (bids, asks []domain.PriceLevel) {
	st := b.state.Load()
	return st.bids.Top(levels, b.opts.TickSize), st.asks.Top(levels, b.opts.TickSize)
}

// Quote assembles the derived top-of-book view from a single consistent
// state, for republication.
func (b *OrderBook) Quote() domain.Quote {
	st := b.state.Load()
	q := domain.Quote{
		Instrument: b.instrument,
		Timestamp:  st.updatedAt,
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	if bid, ok := st.bids.Best(b.opts.TickSize); ok {
		lvl := bid
		q.BestBid = &lvl
	}
	if ask, ok := st.asks.Best(b.opts.TickSize); ok {
		lvl := ask
		q.BestAsk = &lvl
	}
	if mid, ok := midpointOf(st, b.opts.TickSize); ok {
		q.Midpoint = mid
	}
	if imb, ok := imbalanceOf(st, b.opts.Lambda, b.opts.TickSize); ok {
		q.Imbalance = imb
	}
	return q
}
