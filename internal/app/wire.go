package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jklarsen/bookfeed/internal/book"
	"github.com/jklarsen/bookfeed/internal/cache/redis"
	"github.com/jklarsen/bookfeed/internal/config"
	"github.com/jklarsen/bookfeed/internal/dispatch"
	"github.com/jklarsen/bookfeed/internal/domain"
	"github.com/jklarsen/bookfeed/internal/service"
	"github.com/jklarsen/bookfeed/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry   *book.Registry
	Dispatcher *dispatch.Dispatcher
	QuoteCache domain.QuoteCache
	SignalBus  domain.SignalBus

	// InstrumentStore is nil when Postgres is disabled and instruments come
	// from the TOML file.
	InstrumentStore domain.InstrumentStore

	QuoteService *service.QuoteService

	// Instruments are the IDs with live books, used for feed subscriptions.
	Instruments []string
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient, 0)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Postgres (instrument store, optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.InstrumentStore = postgres.NewInstrumentStore(pgClient.Pool())
	}

	// --- Dispatcher and books ---
	deps.Dispatcher = dispatch.New(dispatch.Options{QueueSize: cfg.Dispatch.QueueSize}, logger)
	closers = append(closers, deps.Dispatcher.Close)

	deps.Registry = book.NewRegistry(deps.Dispatcher)

	if err := createBooks(ctx, cfg, deps); err != nil {
		cleanup()
		return nil, nil, err
	}

	// --- Quote service, listening on book events ---
	deps.QuoteService = service.NewQuoteService(deps.Registry, deps.QuoteCache, deps.SignalBus, logger)
	deps.Dispatcher.Subscribe(deps.QuoteService)

	return deps, cleanup, nil
}

// createBooks registers a book for every configured instrument. Instruments
// come from the store when Postgres is enabled and from the TOML file
// otherwise.
func createBooks(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	defaults, err := defaultOptions(cfg)
	if err != nil {
		return err
	}

	if deps.InstrumentStore != nil {
		instruments, err := deps.InstrumentStore.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("wire: list instruments: %w", err)
		}
		for _, inst := range instruments {
			opts := defaults
			if inst.TickSize.Sign() > 0 {
				opts.TickSize = inst.TickSize
			}
			if inst.Lambda > 0 {
				opts.Lambda = inst.Lambda
			}
			if inst.Levels > 0 {
				opts.Levels = inst.Levels
			}
			if _, err := deps.Registry.GetOrCreate(inst.ID, opts); err != nil {
				return fmt.Errorf("wire: book for %s: %w", inst.ID, err)
			}
			deps.Instruments = append(deps.Instruments, inst.ID)
		}
		return nil
	}

	for _, ic := range cfg.Instruments {
		opts := defaults
		if ic.TickSize != "" {
			tick, err := decimal.NewFromString(ic.TickSize)
			if err != nil {
				return fmt.Errorf("wire: instrument %s: bad tick_size %q: %w", ic.ID, ic.TickSize, err)
			}
			opts.TickSize = tick
		}
		if ic.Lambda > 0 {
			opts.Lambda = ic.Lambda
		}
		if ic.Levels > 0 {
			opts.Levels = ic.Levels
		}
		if ic.ImbalanceDelta > 0 {
			opts.ImbalanceDelta = ic.ImbalanceDelta
		}
		if _, err := deps.Registry.GetOrCreate(ic.ID, opts); err != nil {
			return fmt.Errorf("wire: book for %s: %w", ic.ID, err)
		}
		deps.Instruments = append(deps.Instruments, ic.ID)
	}
	return nil
}

func defaultOptions(cfg *config.Config) (book.Options, error) {
	tick, err := decimal.NewFromString(cfg.Book.TickSize)
	if err != nil {
		return book.Options{}, fmt.Errorf("wire: bad book tick_size %q: %w", cfg.Book.TickSize, err)
	}
	return book.Options{
		TickSize:       tick,
		Lambda:         cfg.Book.Lambda,
		Levels:         cfg.Book.Levels,
		ImbalanceDelta: cfg.Book.ImbalanceDelta,
	}, nil
}
