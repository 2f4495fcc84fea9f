// Package dispatch fans book events out to registered listeners without ever
// letting a slow or failing listener back-pressure the market-data path.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// DefaultQueueSize is the per-listener event buffer used when Options leaves
// QueueSize unset.
const DefaultQueueSize = 256

// Options configures a Dispatcher.
type Options struct {
	// QueueSize bounds each listener's pending-event queue. When a queue is
	// full new events for that listener are dropped; the sequence numbers on
	// delivered events expose the gap.
	QueueSize int
}

// subscriber owns one listener's queue and the single goroutine draining it,
// which is what gives each listener in-order delivery.
type subscriber struct {
	id string
	fn domain.BookListener
	ch chan domain.BookEvent
}

// Dispatcher is the process-wide notification worker pool: one draining
// goroutine per listener, shared across all instruments. Registration and
// removal are safe at any time, concurrently with ongoing dispatch.
type Dispatcher struct {
	logger    *slog.Logger
	queueSize int
	seq       atomic.Uint64
	dropped   atomic.Uint64

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher ready to accept listeners.
func New(opts Options, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Dispatcher{
		logger:    logger.With(slog.String("component", "dispatcher")),
		queueSize: opts.QueueSize,
		subs:      make(map[string]*subscriber),
	}
}

// Subscribe registers a listener and returns a handle for Unsubscribe. A
// registration that completes before a Publish is guaranteed to receive that
// event (queue capacity permitting).
func (d *Dispatcher) Subscribe(l domain.BookListener) string {
	sub := &subscriber{
		id: uuid.NewString(),
		fn: l,
		ch: make(chan domain.BookEvent, d.queueSize),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return sub.id
	}
	d.subs[sub.id] = sub
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(sub)
	return sub.id
}

// Unsubscribe removes the listener registered under handle. Events already
// queued for it are still delivered; unknown handles are ignored.
func (d *Dispatcher) Unsubscribe(handle string) {
	d.mu.Lock()
	sub, ok := d.subs[handle]
	if ok {
		delete(d.subs, handle)
		close(sub.ch)
	}
	d.mu.Unlock()
}

// Publish stamps the event with the next sequence number and enqueues it for
// every listener. It never blocks: a listener whose queue is full misses the
// event. Publishing after Close is a silent no-op so late-arriving feed
// goroutines cannot crash during teardown.
func (d *Dispatcher) Publish(ev domain.BookEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	ev.Seq = d.seq.Add(1)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	for _, sub := range d.subs {
		select {
		case sub.ch <- ev:
		default:
			n := d.dropped.Add(1)
			if n%1000 == 1 {
				d.logger.Warn("listener queue full, dropping event",
					slog.String("listener", sub.id),
					slog.String("instrument", ev.Instrument),
					slog.Uint64("dropped_total", n),
				)
			}
		}
	}
}

// Dropped returns the total number of events dropped across all listeners.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// drain delivers a subscriber's events one at a time until its channel is
// closed by Unsubscribe or Close.
func (d *Dispatcher) drain(sub *subscriber) {
	defer d.wg.Done()
	for ev := range sub.ch {
		d.invoke(sub, ev)
	}
}

// invoke calls the listener with panic containment: a failing listener is
// logged and skipped, it never takes down delivery to others or the
// dispatcher itself.
func (d *Dispatcher) invoke(sub *subscriber, ev domain.BookEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				slog.String("listener", sub.id),
				slog.String("event_type", string(ev.Type)),
				slog.String("instrument", ev.Instrument),
				slog.Any("panic", r),
			)
		}
	}()
	sub.fn.OnBookEvent(ev)
}

// Close stops accepting events, lets every listener finish its queued
// deliveries, and waits for the draining goroutines to exit. Safe to call
// once; Publish and Subscribe afterwards are no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub.ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher closed", slog.Uint64("dropped_total", d.dropped.Load()))
}
