package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/iliyamo/smart-parking/internal/archive"
	"github.com/iliyamo/smart-parking/internal/config"
	"github.com/iliyamo/smart-parking/internal/engine"
	"github.com/iliyamo/smart-parking/internal/events"
	"github.com/iliyamo/smart-parking/internal/handler"
	"github.com/iliyamo/smart-parking/internal/middleware"
	"github.com/iliyamo/smart-parking/internal/router"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine, the poller and the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		eng := a.engine(dispatcher())

		var publisher events.Publisher = events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info().Str("nats_url", cfg.NATSURL).Msg("events enabled")
		} else {
			logger.Info().Msg("events disabled (NATS_URL not set)")
		}
		defer publisher.Close()

		hub := handler.NewHub(logger)
		// Runs before publisher.Close so nothing is forwarded to a closed connection.
		unsubscribe := subscribeAll(eng, events.Forward(publisher, logger), hub.Publish)
		defer unsubscribe()

		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 {
			dest, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Key, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				logger.Error().Err(err).Msg("failed to create S3 archive destination")
			} else {
				scheduler = archive.NewScheduler(a.ledger, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				scheduler.Start(ctx)
				logger.Info().Dur("interval", cfg.ArchiveInterval).Str("bucket", cfg.ArchiveS3Bucket).Msg("archive scheduler started")
			}
		}

		ready := map[string]handler.Pinger{"ledger": a.db}
		var limiter echo.MiddlewareFunc
		if a.rdb != nil {
			ready["channel"] = handler.PingFunc(func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() })
			limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), a.rdb, logger)
		}

		e := router.New(logger)
		router.RegisterRoutes(e, ready)
		router.RegisterParking(e, handler.NewParkingHandler(eng), hub, limiter)

		eng.Start(ctx)

		srvErr := make(chan error, 1)
		go func() {
			addr := ":" + cfg.Port
			logger.Info().Str("addr", addr).Str("env", cfg.Env).Int("slots", cfg.SlotCount).Msg("parkd listening")
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
			close(srvErr)
		}()

		select {
		case <-ctx.Done():
			logger.Info().Msg("received signal, shutting down")
		case err := <-srvErr:
			if err != nil {
				logger.Error().Err(err).Msg("http server failed")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown error")
		}
		eng.Stop()
		if scheduler != nil {
			scheduler.Stop()
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// subscribeAll registers subs on eng and returns a func removing them all.
func subscribeAll(eng *engine.Engine, subs ...engine.Subscriber) func() {
	cancels := make([]func(), 0, len(subs))
	for _, fn := range subs {
		cancels = append(cancels, eng.Subscribe(fn))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
