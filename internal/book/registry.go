package book

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// Registry maps instrument identifiers to their order books. It is an
// explicit, constructed-once object handed to collaborators by the app
// wiring; there is no package-level instance. Safe for concurrent use.
type Registry struct {
	sink  EventSink
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewRegistry returns an empty registry whose books will publish events to
// sink (which may be nil).
func NewRegistry(sink EventSink) *Registry {
	return &Registry{
		sink:  sink,
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the book for instrument, creating it with opts when it
// does not exist yet. Options of an existing book are left untouched.
func (r *Registry) GetOrCreate(instrument string, opts Options) (*OrderBook, error) {
	r.mu.RLock()
	b, ok := r.books[instrument]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[instrument]; ok {
		return b, nil
	}
	b, err := New(instrument, opts, r.sink)
	if err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", instrument, err)
	}
	r.books[instrument] = b
	return b, nil
}

// Get returns the book for instrument or domain.ErrNotFound.
func (r *Registry) Get(instrument string) (*OrderBook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[instrument]
	if !ok {
		return nil, fmt.Errorf("registry: %s: %w", instrument, domain.ErrNotFound)
	}
	return b, nil
}

// List returns all registered instrument identifiers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.books))
	for n := range r.books {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered books.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}
