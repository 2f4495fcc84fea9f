package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookEventType enumerates the closed set of events a book emits.
type BookEventType string

const (
	EventBestBidChanged   BookEventType = "best_bid_changed"
	EventBestAskChanged   BookEventType = "best_ask_changed"
	EventImbalanceChanged BookEventType = "imbalance_changed"
)

// BookEvent is delivered to listeners when a book's derived top-of-book state
// changes. Best is nil when the side's best price vacated (e.g. after a
// clear); for imbalance events Best is nil and Imbalance carries the new
// value.
//
// Seq is a process-wide monotonic sequence number assigned at publish time.
// Delivery to a single listener preserves Seq order; a gap in Seq tells the
// listener that events were dropped because its queue was full.
type BookEvent struct {
	ID         string
	Seq        uint64
	Type       BookEventType
	Instrument string
	Best       *PriceLevel
	Imbalance  decimal.Decimal
	Timestamp  time.Time
}

// BookListener receives book events asynchronously. Implementations must not
// assume which goroutine invokes them; successive events for the same
// listener arrive in order.
type BookListener interface {
	OnBookEvent(ev BookEvent)
}

// BookListenerFunc adapts a plain function to the BookListener interface.
type BookListenerFunc func(ev BookEvent)

// OnBookEvent implements BookListener.
func (f BookListenerFunc) OnBookEvent(ev BookEvent) { f(ev) }
