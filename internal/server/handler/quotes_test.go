package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jklarsen/bookfeed/internal/domain"
)

type stubQuotes struct {
	quote domain.Quote
	bids  []domain.PriceLevel
	asks  []domain.PriceLevel
}

func (s *stubQuotes) GetQuote(_ context.Context, instrument string) (domain.Quote, error) {
	if instrument != s.quote.Instrument {
		return domain.Quote{}, domain.ErrNotFound
	}
	return s.quote, nil
}

func (s *stubQuotes) GetDepth(_ context.Context, instrument string, levels int) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	if instrument != s.quote.Instrument {
		return nil, nil, domain.ErrNotFound
	}
	clamp := func(ls []domain.PriceLevel) []domain.PriceLevel {
		if len(ls) > levels {
			return ls[:levels]
		}
		return ls
	}
	return clamp(s.bids), clamp(s.asks), nil
}

func (s *stubQuotes) ListInstruments() []string {
	return []string{s.quote.Instrument}
}

func newQuoteRouter(t *testing.T) *http.ServeMux {
	t.Helper()
	stub := &stubQuotes{
		quote: domain.Quote{
			Instrument: "BTC-USD",
			BestBid:    &domain.PriceLevel{Price: decimal.RequireFromString("243.49"), Size: decimal.NewFromInt(100)},
			BestAsk:    &domain.PriceLevel{Price: decimal.RequireFromString("243.50"), Size: decimal.NewFromInt(75)},
			Midpoint:   decimal.RequireFromString("243.495"),
			Timestamp:  time.Now(),
		},
		bids: []domain.PriceLevel{
			{Price: decimal.RequireFromString("243.49"), Size: decimal.NewFromInt(100)},
			{Price: decimal.RequireFromString("243.48"), Size: decimal.NewFromInt(50)},
		},
		asks: []domain.PriceLevel{
			{Price: decimal.RequireFromString("243.50"), Size: decimal.NewFromInt(75)},
		},
	}
	h := NewQuoteHandler(stub, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/instruments", h.ListInstruments)
	mux.HandleFunc("GET /api/quotes/{id}", h.GetQuote)
	mux.HandleFunc("GET /api/quotes/{id}/depth", h.GetDepth)
	return mux
}

func TestQuoteHandler_GetQuote(t *testing.T) {
	mux := newQuoteRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/BTC-USD", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body quoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC-USD", body.Instrument)
	require.NotNil(t, body.BestBid)
	assert.Equal(t, "243.49", body.BestBid.Price)
	assert.Equal(t, "243.495", body.Midpoint)
}

func TestQuoteHandler_GetQuoteNotFound(t *testing.T) {
	mux := newQuoteRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/NOPE", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuoteHandler_GetDepthClampsLevels(t *testing.T) {
	mux := newQuoteRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/BTC-USD/depth?levels=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bids []levelDTO `json:"bids"`
		Asks []levelDTO `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Bids, 1)
	assert.Len(t, body.Asks, 1)
}

func TestQuoteHandler_ListInstruments(t *testing.T) {
	mux := newQuoteRouter(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instruments", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Instruments []string `json:"instruments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"BTC-USD"}, body.Instruments)
}
