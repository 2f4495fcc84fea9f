package domain

import (
	"context"
)

// InstrumentStore persists instrument metadata (tick size and signal
// parameters). The live book itself is never persisted; only its
// configuration comes from the store.
type InstrumentStore interface {
	Upsert(ctx context.Context, inst Instrument) error
	GetByID(ctx context.Context, id string) (Instrument, error)
	ListEnabled(ctx context.Context) ([]Instrument, error)
	Count(ctx context.Context) (int64, error)
}
