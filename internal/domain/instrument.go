package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument describes one traded instrument whose book the service
// maintains. TickSize is the aggregation bucket for the book's derived view;
// Lambda and Levels parameterize the imbalance and midpoint signals.
type Instrument struct {
	ID        string
	Exchange  string
	TickSize  decimal.Decimal
	Lambda    float64
	Levels    int
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quote is the derived top-of-book state republished to consumers.
type Quote struct {
	Instrument string
	BestBid    *PriceLevel
	BestAsk    *PriceLevel
	Midpoint   decimal.Decimal
	Imbalance  decimal.Decimal
	Timestamp  time.Time
}

// HasMidpoint reports whether both sides were present when the quote was
// taken.
func (q Quote) HasMidpoint() bool {
	return q.BestBid != nil && q.BestAsk != nil
}
