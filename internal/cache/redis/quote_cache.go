package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// QuoteCache implements domain.QuoteCache using one Redis hash per
// instrument.
//
// Key schema:
//
//	quote:{instrument} - hash with fields bid_price, bid_size, ask_price,
//	                     ask_size, mid, imbalance, ts (unix nanos). Price
//	                     fields are absent when the side is empty.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A zero ttl
// keeps quotes until the next write.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(instrument string) string { return "quote:" + instrument }

// SetQuote stores the latest derived quote for an instrument, replacing the
// previous hash in one transaction so readers never see fields from two
// different quotes.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Instrument)

	fields := map[string]interface{}{
		"ts": strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	if q.BestBid != nil {
		fields["bid_price"] = q.BestBid.Price.String()
		fields["bid_size"] = q.BestBid.Size.String()
	}
	if q.BestAsk != nil {
		fields["ask_price"] = q.BestAsk.Price.String()
		fields["ask_size"] = q.BestAsk.Size.String()
	}
	if q.HasMidpoint() {
		fields["mid"] = q.Midpoint.String()
		fields["imbalance"] = q.Imbalance.String()
	}

	pipe := qc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Instrument, err)
	}
	return nil
}

// GetQuote reconstructs the latest quote for an instrument. It returns
// domain.ErrNotFound when no quote has been stored.
func (qc *QuoteCache) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(instrument)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{Instrument: instrument}
	if tsStr, ok := vals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			q.Timestamp = time.Unix(0, tsNano)
		}
	}
	if lvl, ok := parseLevel(vals, "bid_price", "bid_size"); ok {
		q.BestBid = lvl
	}
	if lvl, ok := parseLevel(vals, "ask_price", "ask_size"); ok {
		q.BestAsk = lvl
	}
	if midStr, ok := vals["mid"]; ok {
		if mid, err := decimal.NewFromString(midStr); err == nil {
			q.Midpoint = mid
		}
	}
	if imbStr, ok := vals["imbalance"]; ok {
		if imb, err := decimal.NewFromString(imbStr); err == nil {
			q.Imbalance = imb
		}
	}
	return q, nil
}

// GetBBO retrieves just the best bid and ask levels. Either may be nil for a
// one-sided book; domain.ErrNotFound means no quote exists at all.
func (qc *QuoteCache) GetBBO(ctx context.Context, instrument string) (*domain.PriceLevel, *domain.PriceLevel, error) {
	q, err := qc.GetQuote(ctx, instrument)
	if err != nil {
		return nil, nil, err
	}
	return q.BestBid, q.BestAsk, nil
}

func parseLevel(vals map[string]string, priceField, sizeField string) (*domain.PriceLevel, bool) {
	priceStr, ok := vals[priceField]
	if !ok {
		return nil, false
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, false
	}
	size := decimal.Zero
	if sizeStr, ok := vals[sizeField]; ok {
		if s, err := decimal.NewFromString(sizeStr); err == nil {
			size = s
		}
	}
	return &domain.PriceLevel{Price: price, Size: size}, true
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
