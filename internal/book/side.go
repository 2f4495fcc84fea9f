// Package book implements the live, in-memory order book: per-side tick
// aggregation, atomic snapshot/delta application, and the derived metrics
// (midpoint, weighted imbalance, center-of-gravity and VWAP midpoints) that
// the rest of the service republishes.
package book

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// BookSide holds one side's raw price->size entries. A side is immutable
// after construction: every mutation returns a new side sharing nothing with
// the old one, so a reader holding a reference never observes a change.
type BookSide struct {
	side domain.Side
	raw  map[string]domain.PriceLevel
}

// NewBookSide builds a side from raw levels. Zero-size levels are skipped
// (a level with no size is logically absent); later entries for the same
// price win, matching last-write-wins feed semantics.
func NewBookSide(side domain.Side, levels []domain.PriceLevel) *BookSide {
	raw := make(map[string]domain.PriceLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Size.IsZero() {
			continue
		}
		raw[priceKey(lvl.Price)] = lvl
	}
	return &BookSide{side: side, raw: raw}
}

// priceKey canonicalizes a price for map keying so that numerically equal
// decimals ("1.5" vs "1.50") collapse to a single entry.
func priceKey(p decimal.Decimal) string {
	s := p.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// Side returns which half of the book this is.
func (bs *BookSide) Side() domain.Side { return bs.side }

// Len returns the number of raw (unaggregated) levels.
func (bs *BookSide) Len() int { return len(bs.raw) }

// WithLevel returns a new side with the level at price inserted, replaced, or
// (when size is zero) removed. Removing an absent price is a no-op.
func (bs *BookSide) WithLevel(price, size decimal.Decimal) *BookSide {
	key := priceKey(price)
	raw := make(map[string]domain.PriceLevel, len(bs.raw)+1)
	for k, v := range bs.raw {
		raw[k] = v
	}
	if size.IsZero() {
		delete(raw, key)
	} else {
		raw[key] = domain.PriceLevel{Price: price, Size: size}
	}
	return &BookSide{side: bs.side, raw: raw}
}

// bucket maps a raw price onto its tick-size multiple. Bids round down and
// asks round up: aggregation must never move liquidity closer to the market
// than it really is.
func (bs *BookSide) bucket(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	steps := price.Div(tick)
	if bs.side == domain.SideBid {
		return steps.Floor().Mul(tick)
	}
	return steps.Ceil().Mul(tick)
}

// Aggregate buckets the raw levels into tick multiples, summing sizes within
// a bucket, and returns the result ordered best-first (descending prices for
// bids, ascending for asks). The returned slice is freshly built on every
// call; callers may keep or modify it freely.
func (bs *BookSide) Aggregate(tick decimal.Decimal) []domain.PriceLevel {
	if len(bs.raw) == 0 {
		return nil
	}

	buckets := make(map[string]domain.PriceLevel, len(bs.raw))
	for _, lvl := range bs.raw {
		bp := bs.bucket(lvl.Price, tick)
		key := priceKey(bp)
		if agg, ok := buckets[key]; ok {
			agg.Size = agg.Size.Add(lvl.Size)
			buckets[key] = agg
		} else {
			buckets[key] = domain.PriceLevel{Price: bp, Size: lvl.Size}
		}
	}

	out := make([]domain.PriceLevel, 0, len(buckets))
	for _, lvl := range buckets {
		out = append(out, lvl)
	}
	if bs.side == domain.SideBid {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}
	return out
}

// Best returns the best aggregated level (highest bid bucket or lowest ask
// bucket) at the given tick size, or false when the side is empty.
func (bs *BookSide) Best(tick decimal.Decimal) (domain.PriceLevel, bool) {
	agg := bs.Aggregate(tick)
	if len(agg) == 0 {
		return domain.PriceLevel{}, false
	}
	return agg[0], true
}

// Top returns up to n best aggregated levels.
func (bs *BookSide) Top(n int, tick decimal.Decimal) []domain.PriceLevel {
	agg := bs.Aggregate(tick)
	if n > 0 && len(agg) > n {
		agg = agg[:n]
	}
	return agg
}

// WeightedVolume sums size * exp(-lambda * distance) over the aggregated
// levels, where distance is measured from the midpoint toward the level in
// the side's own direction. Levels priced through the midpoint have negative
// distance and therefore an amplified weight; crossed or stale data is meant
// to stand out, not to be discarded.
func (bs *BookSide) WeightedVolume(mid decimal.Decimal, lambda float64, tick decimal.Decimal) float64 {
	var total float64
	for _, lvl := range bs.Aggregate(tick) {
		var dist float64
		if bs.side == domain.SideBid {
			dist = mid.Sub(lvl.Price).InexactFloat64()
		} else {
			dist = lvl.Price.Sub(mid).InexactFloat64()
		}
		total += lvl.Size.InexactFloat64() * math.Exp(-lambda*dist)
	}
	return total
}

// VWAP returns the volume-weighted average price over the side's top n
// aggregated levels, or false when the side has no volume.
func (bs *BookSide) VWAP(n int, tick decimal.Decimal) (decimal.Decimal, bool) {
	var notional, volume decimal.Decimal
	for _, lvl := range bs.Top(n, tick) {
		notional = notional.Add(lvl.Notional())
		volume = volume.Add(lvl.Size)
	}
	if volume.Sign() == 0 {
		return decimal.Decimal{}, false
	}
	return notional.Div(volume), true
}
