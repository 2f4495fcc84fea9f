package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jklarsen/bookfeed/internal/feed"
	"github.com/jklarsen/bookfeed/internal/server"
	"github.com/jklarsen/bookfeed/internal/server/handler"
	"github.com/jklarsen/bookfeed/internal/server/ws"
)

// IngestMode runs the market-data feed and republishes derived quotes without
// exposing the HTTP API.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	return g.Wait()
}

// ServeMode exposes the HTTP and WebSocket API without ingesting market data.
// Quotes for instruments this process does not maintain come from the cache.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the feed and the API server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startFeed launches the WebSocket feed goroutine, routing snapshots and
// deltas into the quote service.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if len(deps.Instruments) == 0 {
		a.logger.WarnContext(ctx, "no instruments configured, feed not started")
		return
	}

	wsFeed := feed.NewWSFeed(
		feed.Config{
			WsURL:            a.cfg.Feed.WsURL,
			ReconnectBackoff: a.cfg.Feed.ReconnectBackoff.Duration,
			DialTimeout:      a.cfg.Feed.DialTimeout.Duration,
		},
		deps.Instruments,
		deps.QuoteService.HandleSnapshot,
		deps.QuoteService.HandleDelta,
		a.logger,
	)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
}

// startHTTPServer launches the HTTP server and the WebSocket hub.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger, a.cfg.Mode, time.Now().UTC()),
		Quotes: handler.NewQuoteHandler(deps.QuoteService, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
