package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// PriceLevel is a single price+size entry in an order book. It is an
// immutable value; a level with zero size is logically absent and is never
// stored.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// NewPriceLevel builds a PriceLevel from decimal strings as delivered by feed
// adapters. It returns an error when either field does not parse.
func NewPriceLevel(price, size string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("domain: parse price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("domain: parse size %q: %w", size, err)
	}
	return PriceLevel{Price: p, Size: s}, nil
}

// Equal reports whether two levels carry the same price and size, comparing
// decimals by value rather than by representation.
func (l PriceLevel) Equal(other PriceLevel) bool {
	return l.Price.Equal(other.Price) && l.Size.Equal(other.Size)
}

// Notional returns price * size.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}
