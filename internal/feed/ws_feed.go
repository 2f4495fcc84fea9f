// Package feed connects to an exchange market-data WebSocket and turns raw
// book messages into typed snapshot and delta callbacks.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// defaultReconnectBackoff is the base delay before attempting to reconnect.
	defaultReconnectBackoff = 2 * time.Second

	// defaultDialTimeout bounds the WebSocket handshake.
	defaultDialTimeout = 15 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Config holds the feed connection parameters.
type Config struct {
	WsURL            string
	ReconnectBackoff time.Duration
	DialTimeout      time.Duration
}

// SnapshotHandler is called for each full book snapshot received on the feed.
type SnapshotHandler func(ctx context.Context, instrument string, bids, asks []domain.PriceLevel, ts time.Time)

// DeltaHandler is called for each incremental level update received on the feed.
type DeltaHandler func(ctx context.Context, instrument string, side domain.Side, level domain.PriceLevel, ts time.Time)

// WSFeed subscribes to book and level-update channels for the configured
// instruments and invokes the registered handlers for each message. It
// reconnects with exponential backoff on disconnect.
type WSFeed struct {
	cfg         Config
	instruments []string
	onSnapshot  SnapshotHandler
	onDelta     DeltaHandler
	logger      *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed that will subscribe to the given instrument IDs.
func NewWSFeed(cfg Config, instruments []string, onSnapshot SnapshotHandler, onDelta DeltaHandler, logger *slog.Logger) *WSFeed {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &WSFeed{
		cfg:         cfg,
		instruments: instruments,
		onSnapshot:  onSnapshot,
		onDelta:     onDelta,
		logger:      logger.With(slog.String("component", "ws_feed")),
		done:        make(chan struct{}),
	}
}

// Run connects, subscribes, and processes messages until ctx is cancelled or
// Close is called. Disconnects trigger reconnection with exponential backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, feed exiting")
		return nil
	}

	delay := f.cfg.ReconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed. Safe to call more than once.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	conn, _, err := dialer.DialContext(dialCtx, f.cfg.WsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.Int("instruments", len(f.instruments)))

	// Close the connection when ctx or the feed shuts down so the read
	// loop below unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		conn.Close()
	}()
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w (%v)", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *WSFeed) subscribe(conn *websocket.Conn) error {
	for _, ch := range []string{"book", "price_change"} {
		cmd := wsCommand{
			Type:        "subscribe",
			Channel:     ch,
			Instruments: f.instruments,
		}
		data, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("feed: marshal subscribe: %w", err)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("feed: subscribe to %s: %w", ch, err)
		}
	}
	return nil
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw feed message and routes it to the snapshot or
// delta handler. Unparseable messages and messages with no valid levels are
// dropped.
func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		MsgType   string `json:"msg_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	msgType := envelope.EventType
	if msgType == "" {
		msgType = envelope.MsgType
	}

	switch msgType {
	case "book":
		var msg bookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug("drop malformed book message", slog.String("error", err.Error()))
			return
		}
		instrument := strings.TrimSpace(msg.Instrument)
		if instrument == "" || f.onSnapshot == nil {
			return
		}
		bids := parseLevels(msg.Bids)
		asks := parseLevels(msg.Asks)
		f.onSnapshot(ctx, instrument, bids, asks, parseTimestamp(msg.Timestamp))

	case "price_change":
		var msg priceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug("drop malformed price change", slog.String("error", err.Error()))
			return
		}
		instrument := strings.TrimSpace(msg.Instrument)
		if instrument == "" || f.onDelta == nil {
			return
		}
		ts := parseTimestamp(msg.Timestamp)
		for _, ch := range msg.Changes {
			side := domain.Side(ch.Side)
			if side == "buy" {
				side = domain.SideBid
			} else if side == "sell" {
				side = domain.SideAsk
			}
			if !side.Valid() {
				continue
			}
			level, ok := parseLevel(ch.Price, ch.Size)
			if !ok {
				continue
			}
			f.onDelta(ctx, instrument, side, level, ts)
		}
	}
}

type wsCommand struct {
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	Instruments []string `json:"instruments"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMessage struct {
	Instrument string      `json:"instrument"`
	Bids       []wireLevel `json:"bids"`
	Asks       []wireLevel `json:"asks"`
	Timestamp  string      `json:"timestamp"`
}

type levelChange struct {
	Side  string `json:"side"`
	Price string `json:"price"`
	Size  string `json:"size"`
}

type priceChangeMessage struct {
	Instrument string        `json:"instrument"`
	Changes    []levelChange `json:"changes"`
	Timestamp  string        `json:"timestamp"`
}

func parseLevel(price, size string) (domain.PriceLevel, bool) {
	p, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return domain.PriceLevel{}, false
	}
	s, err := decimal.NewFromString(strings.TrimSpace(size))
	if err != nil {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: p, Size: s}, true
}

func parseLevels(raw []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		level, ok := parseLevel(lv.Price, lv.Size)
		if !ok {
			continue
		}
		out = append(out, level)
	}
	return out
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}
