package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"registrar/internal/adapters"
	"registrar/internal/adapters/displayname"
	"registrar/internal/adapters/twitter"
	"registrar/internal/comms"
	"registrar/internal/eventlog"
	"registrar/internal/identity"
	"registrar/internal/notifier"
	"registrar/internal/platform/config"
	"registrar/internal/platform/httpserver"
	"registrar/internal/platform/logger"
	"registrar/internal/platform/metrics"
	platformpg "registrar/internal/platform/postgres"
	platformredis "registrar/internal/platform/redis"
	"registrar/internal/store"
	"registrar/internal/verifier"
)

// main wires high-level dependencies: stores, the event log, the comms bus,
// the verifier core loop, adapters, and the status API. Verification logic
// lives in the internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres and Redis are optional; memory stores carry
	// single-node development runs.
	var (
		pending    store.PendingIdentities = store.NewMemoryPendingIdentities()
		rooms      store.RoomBindings      = store.NewMemoryRoomBindings()
		watermarks store.Watermarks        = store.NewMemoryWatermarks()
		twitterIDs store.TwitterIDs        = store.NewMemoryTwitterIDs()
		eventLog   verifier.Log            = eventlog.NewMemoryLog()
	)

	if cfg.PostgresURL != "" {
		pool, err := platformpg.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgPending := store.NewPostgresPendingIdentities(pool)
		pgLog := eventlog.NewPostgresLog(pool)
		if err := pgPending.EnsureSchema(ctx); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		if err := pgLog.EnsureSchema(ctx); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		pending, eventLog = pgPending, pgLog
	}

	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		rooms = store.NewRedisRoomBindings(client.Client)
		watermarks = store.NewRedisWatermarks(client.Client)
		twitterIDs = store.NewRedisTwitterIDs(client.Client)
	}

	state := identity.NewState()
	bus := comms.NewBus(64)

	opts := []verifier.Option{verifier.WithMetrics(m)}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := eventlog.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		opts = append(opts, verifier.WithSink(sink))
	}

	core := verifier.NewService(state, eventLog, bus, pending, rooms, log, opts...)
	if err := core.Rehydrate(ctx); err != nil {
		log.Error("rehydration failed", "error", err)
		os.Exit(1)
	}

	connectorConn := bus.Register(comms.ChannelConnector)
	sessions := notifier.NewService(connectorConn, core, log)

	var channelAdapters []adapters.Adapter
	if cfg.DisplayName.Enabled {
		conn := bus.Register(identity.ChannelDisplayName)
		channelAdapters = append(channelAdapters,
			displayname.New(conn, core, state, cfg.DisplayName.Limit, log))
	}
	if cfg.Twitter.Enabled {
		conn := bus.Register(identity.ChannelTwitter)
		client := twitter.NewClient(
			cfg.Twitter.APIKey, cfg.Twitter.APISecret,
			cfg.Twitter.Token, cfg.Twitter.TokenSecret,
			cfg.Twitter.RequestTimeout, log)
		channelAdapters = append(channelAdapters, twitter.New(
			client, conn, core, watermarks, twitterIDs,
			cfg.Twitter.ScreenName, cfg.Twitter.PollInterval, log, m))
	}

	handler := notifier.NewHandler(sessions, cfg.JWTSigningKey, log)
	srv := httpserver.New(cfg.Addr, handler.Router())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(core.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(sessions.Run(ctx)) })
	g.Go(func() error { return adapters.RunAll(ctx, log, channelAdapters...) })
	g.Go(func() error {
		log.Info("starting registrar", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("registrar terminated", "error", err)
		os.Exit(1)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
