package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// QuoteProvider is the slice of the quote service the HTTP handlers need.
type QuoteProvider interface {
	GetQuote(ctx context.Context, instrument string) (domain.Quote, error)
	GetDepth(ctx context.Context, instrument string, levels int) (bids, asks []domain.PriceLevel, err error)
	ListInstruments() []string
}

// QuoteHandler serves instrument and quote endpoints.
type QuoteHandler struct {
	quotes QuoteProvider
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quotes QuoteProvider, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, logger: logger}
}

// quoteDTO is the JSON rendering of a derived quote.
type quoteDTO struct {
	Instrument string    `json:"instrument"`
	BestBid    *levelDTO `json:"best_bid"`
	BestAsk    *levelDTO `json:"best_ask"`
	Midpoint   string    `json:"midpoint,omitempty"`
	Imbalance  string    `json:"imbalance"`
	Timestamp  string    `json:"timestamp"`
}

func toQuoteDTO(q domain.Quote) quoteDTO {
	dto := quoteDTO{
		Instrument: q.Instrument,
		BestBid:    toLevelDTO(q.BestBid),
		BestAsk:    toLevelDTO(q.BestAsk),
		Imbalance:  q.Imbalance.String(),
		Timestamp:  q.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if q.HasMidpoint() {
		dto.Midpoint = q.Midpoint.String()
	}
	return dto
}

// ListInstruments returns the instruments with live books.
// GET /api/instruments
func (h *QuoteHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": h.quotes.ListInstruments(),
	})
}

// GetQuote returns the current derived quote for one instrument.
// GET /api/quotes/{id}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q, err := h.quotes.GetQuote(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown instrument")
			return
		}
		h.logger.ErrorContext(r.Context(), "get quote failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// GetDepth returns the top aggregated levels per side for one instrument.
// GET /api/quotes/{id}/depth?levels=N
func (h *QuoteHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	levels := queryInt(r, "levels", 5, 100)

	bids, asks, err := h.quotes.GetDepth(r.Context(), id, levels)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown instrument")
			return
		}
		h.logger.ErrorContext(r.Context(), "get depth failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": id,
		"bids":       toLevelDTOs(bids),
		"asks":       toLevelDTOs(asks),
	})
}
