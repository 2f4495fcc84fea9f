// Package service coordinates books, caches, and the signal bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jklarsen/bookfeed/internal/book"
	"github.com/jklarsen/bookfeed/internal/domain"
)

// publishTimeout bounds cache and bus writes triggered by book events.
const publishTimeout = 5 * time.Second

// QuoteService routes feed updates into the book registry and republishes
// derived quotes. It listens for book events and, on each change, refreshes
// the quote cache and fans the event out on the signal bus.
type QuoteService struct {
	registry *book.Registry
	cache    domain.QuoteCache
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewQuoteService creates a QuoteService. cache and bus may be nil, in which
// case the corresponding republishing step is skipped.
func NewQuoteService(registry *book.Registry, cache domain.QuoteCache, bus domain.SignalBus, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		registry: registry,
		cache:    cache,
		bus:      bus,
		logger:   logger.With(slog.String("component", "quote_service")),
	}
}

var _ domain.BookListener = (*QuoteService)(nil)

// HandleSnapshot replaces the book for an instrument with a full snapshot.
// Snapshots for instruments that were never registered are dropped.
func (s *QuoteService) HandleSnapshot(ctx context.Context, instrument string, bids, asks []domain.PriceLevel, ts time.Time) {
	b, err := s.registry.Get(instrument)
	if err != nil {
		s.logger.Debug("drop snapshot for unknown instrument", slog.String("instrument", instrument))
		return
	}
	if err := b.ApplySnapshot(bids, asks, ts); err != nil {
		s.logger.WarnContext(ctx, "apply snapshot failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}

// HandleDelta applies a single level update to an instrument's book.
func (s *QuoteService) HandleDelta(ctx context.Context, instrument string, side domain.Side, level domain.PriceLevel, ts time.Time) {
	b, err := s.registry.Get(instrument)
	if err != nil {
		s.logger.Debug("drop delta for unknown instrument", slog.String("instrument", instrument))
		return
	}
	if err := b.ApplyDelta(side, level.Price, level.Size, ts); err != nil {
		s.logger.WarnContext(ctx, "apply delta failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}

// OnBookEvent refreshes the cached quote for the event's instrument and
// republishes the event on the signal bus.
func (s *QuoteService) OnBookEvent(ev domain.BookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	b, err := s.registry.Get(ev.Instrument)
	if err != nil {
		return
	}
	q := b.Quote()

	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, q); err != nil {
			s.logger.Warn("set quote failed",
				slog.String("instrument", ev.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	payload, err := marshalEvent(ev, q)
	if err != nil {
		s.logger.Warn("marshal quote event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, "quotes", payload); err != nil {
		s.logger.Warn("publish quote event failed",
			slog.String("instrument", ev.Instrument),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "quotes:events", payload); err != nil {
		s.logger.Warn("append quote event failed",
			slog.String("instrument", ev.Instrument),
			slog.String("error", err.Error()),
		)
	}
}

// GetQuote returns the current quote for an instrument, preferring the live
// book and falling back to the cache for instruments this process does not
// maintain.
func (s *QuoteService) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	b, err := s.registry.Get(instrument)
	if err == nil {
		return b.Quote(), nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.cache == nil {
		return domain.Quote{}, err
	}

	q, err := s.cache.GetQuote(ctx, instrument)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote for %q: %w", instrument, err)
	}
	return q, nil
}

// GetDepth returns the top aggregated levels per side for a live book.
func (s *QuoteService) GetDepth(ctx context.Context, instrument string, levels int) (bids, asks []domain.PriceLevel, err error) {
	b, err := s.registry.Get(instrument)
	if err != nil {
		return nil, nil, err
	}
	bids, asks = b.Depth(levels)
	return bids, asks, nil
}

// ListInstruments returns the instruments with live books, sorted.
func (s *QuoteService) ListInstruments() []string {
	return s.registry.List()
}

// quoteEvent is the JSON shape published to the "quotes" channel and the
// quotes:events stream. Decimal fields are rendered as strings.
type quoteEvent struct {
	Event      string `json:"event"`
	Seq        uint64 `json:"seq"`
	Instrument string `json:"instrument"`
	BidPrice   string `json:"bid_price,omitempty"`
	BidSize    string `json:"bid_size,omitempty"`
	AskPrice   string `json:"ask_price,omitempty"`
	AskSize    string `json:"ask_size,omitempty"`
	Midpoint   string `json:"midpoint,omitempty"`
	Imbalance  string `json:"imbalance"`
	Timestamp  string `json:"timestamp"`
}

func marshalEvent(ev domain.BookEvent, q domain.Quote) ([]byte, error) {
	out := quoteEvent{
		Event:      string(ev.Type),
		Seq:        ev.Seq,
		Instrument: ev.Instrument,
		Imbalance:  q.Imbalance.String(),
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if q.BestBid != nil {
		out.BidPrice = q.BestBid.Price.String()
		out.BidSize = q.BestBid.Size.String()
	}
	if q.BestAsk != nil {
		out.AskPrice = q.BestAsk.Price.String()
		out.AskSize = q.BestAsk.Size.String()
	}
	if q.HasMidpoint() {
		out.Midpoint = q.Midpoint.String()
	}
	return json.Marshal(out)
}
