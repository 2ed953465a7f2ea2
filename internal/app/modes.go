package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/platform/venue"
	"github.com/tidewater-labs/reservoir/internal/server"
	"github.com/tidewater-labs/reservoir/internal/server/handler"
	"github.com/tidewater-labs/reservoir/internal/server/ws"
	"github.com/tidewater-labs/reservoir/internal/service"
)

// ServeMode runs the headless HTTP + WebSocket API without the keeper. Use
// this for read-heavy replicas where a separate keeper process owns
// maintenance.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startValuationStream(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// KeeperMode runs only the maintenance keeper: reconciliation, buffer ratio
// upkeep, valuation refresh, and journal archiving.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	if !a.cfg.Keeper.Enabled {
		return fmt.Errorf("app: keeper mode requires keeper.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startValuationStream(ctx, g, deps)
	a.startKeeper(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API server and the keeper in a single process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startValuationStream(ctx, g, deps)
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "keeper.enabled is false, full mode runs API only")
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to the
// errgroup and connects the service's event stream to the hub. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(a.logger)
	deps.Service.SetEventSink(hub)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Vault:     handler.NewVaultHandler(deps.Service, a.logger),
		Rebalance: handler.NewRebalanceHandler(deps.Service, a.logger),
		Journal:   handler.NewJournalHandler(deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper adds the keeper maintenance loop to the errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(service.KeeperConfig{
		Identity:     common.HexToAddress(a.cfg.Keeper.Identity),
		Interval:     a.cfg.Keeper.Interval.Duration,
		LockTTL:      a.cfg.Keeper.LockTTL.Duration,
		TargetBucket: domain.BucketID(a.cfg.Keeper.TargetBucket),
		ToleranceBps: a.cfg.Keeper.ToleranceBps,
		ArchiveAge:   a.cfg.Keeper.ArchiveAge.Duration,
	}, deps.Service, deps.Policy, deps.LockManager, deps.Archiver, a.logger)

	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

// startValuationStream connects to the venue's WebSocket valuation feed and
// pushes incoming marks into the valuation cache. Skipped unless
// venue.stream_valuations is set.
func (a *App) startValuationStream(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Venue.StreamValuations || a.cfg.Venue.WsURL == "" {
		return
	}

	wsClient := venue.NewWSClient(a.cfg.Venue.WsURL)
	wsClient.OnValuation(func(v domain.BucketValuation) {
		if err := deps.Service.StoreValuation(ctx, v); err != nil {
			a.logger.WarnContext(ctx, "valuation stream: store failed",
				slog.Uint64("bucket", uint64(v.Bucket)),
				slog.String("error", err.Error()),
			)
		}
	})

	g.Go(func() error {
		defer func() { _ = wsClient.Close() }()

		if err := wsClient.Connect(ctx); err != nil {
			// The feed is an optimization over polling; the keeper still
			// refreshes valuations over REST.
			a.logger.WarnContext(ctx, "valuation stream: connect failed",
				slog.String("url", a.cfg.Venue.WsURL),
				slog.String("error", err.Error()),
			)
			return nil
		}

		claims := deps.Engine.Buckets()
		buckets := make([]domain.BucketID, 0, len(claims))
		for _, c := range claims {
			buckets = append(buckets, c.Bucket)
		}
		if len(buckets) > 0 {
			if err := wsClient.Subscribe(ctx, buckets); err != nil {
				a.logger.WarnContext(ctx, "valuation stream: subscribe failed",
					slog.String("error", err.Error()),
				)
			}
		}

		<-ctx.Done()
		return nil
	})
}
