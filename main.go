// Package main our entry point.
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/broker"
	"github.com/johndosdos/courier/internal/broker/worker"
	"github.com/johndosdos/courier/internal/config"
	"github.com/johndosdos/courier/internal/database"
	"github.com/johndosdos/courier/internal/delivery"
	"github.com/johndosdos/courier/internal/handler"
	"github.com/johndosdos/courier/internal/logger"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/presence"
	ratelimiter "github.com/johndosdos/courier/internal/rate_limiter"
	"github.com/johndosdos/courier/internal/receipt"
	"github.com/johndosdos/courier/internal/registry"
	"github.com/johndosdos/courier/internal/store"
	ws "github.com/johndosdos/courier/internal/websocket"
)

//go:embed sql/schema/*.sql
var schemaFS embed.FS

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, logFile, err := logger.Setup(logger.Options{
		Level:  cfg.Level(),
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logFile.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "Starting application...", "store", cfg.StoreDriver, "addr", cfg.Addr())

	// Init store
	st, health, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	reg := registry.New()
	local := delivery.NewLocalRouter(reg, log)

	// Init NATS. Without it this instance only reaches its own connections.
	var router delivery.Router = local
	var nc *nats.Conn
	var js jetstream.JetStream
	if cfg.NatsURL != "" {
		nc, js, err = connectNATS(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		router = broker.NewRouter(js, log)
	}

	pipeline := delivery.NewPipeline(st, router, delivery.Options{
		MaxContentLength: cfg.MaxContentLength,
		PersistTimeout:   cfg.PersistTimeout,
	}, log)

	broadcaster := presence.NewBroadcaster(st, router, cfg.PresenceGrace, log)
	defer broadcaster.Close()

	receipts := receipt.NewProcessor(st, receipt.Options{
		BatchSize:     cfg.ReceiptBatchSize,
		FlushInterval: cfg.ReceiptFlushInterval,
	}, log)

	hub := ws.NewHub(reg, pipeline, receipts, broadcaster, ws.Options{
		SendRate:      ws.PerMinute(cfg.SendRate),
		SendBurst:     cfg.SendBurst,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, log)

	ipLimiter := ratelimiter.NewIPRateLimiter(cfg.IPRateRequests, cfg.IPRateWindow, ratelimiter.CleanupOpts{
		TTL:      3 * time.Minute,
		Interval: time.Minute,
	})
	defer ipLimiter.Close()

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: handler.Routes(handler.Deps{
			Hub:              hub,
			Notifier:         pipeline,
			Receipts:         receipts,
			Authenticator:    auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, st),
			HandshakeTimeout: cfg.HandshakeTimeout,
			NotifyKeyHash:    cfg.NotifyKeyHash,
			MaxFrameBytes:    cfg.MaxFrameBytes,
			OriginPatterns:   splitList(cfg.OriginPatterns),
			IPLimiter:        ipLimiter,
			Health:           health,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		receipts.Run(gctx)
		return nil
	})

	if js != nil {
		if err := consume(gctx, js, local, pipeline, log); err != nil {
			return err
		}
	}

	g.Go(func() error {
		log.InfoContext(ctx, "Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received; shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Streaming handlers only return once their connections are closed.
		hub.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown incomplete", "error", err)
		}
		receipts.Close()

		if nc != nil {
			if err := nc.Drain(); err != nil {
				log.Warn("couldn't drain NATS conn", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, func(context.Context) error, error) {
	if cfg.StoreDriver == "badger" {
		b, err := store.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	}

	log.InfoContext(ctx, "Initializing Database connection...")
	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to the postgresql database: %w", err)
	}

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, pool, schemaFS, "sql/schema"); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	return store.NewPostgres(pool), pool.Ping, nil
}

func connectNATS(ctx context.Context, cfg config.Config, log *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	log.InfoContext(ctx, "Initializing NATS connection...")

	var opts []nats.Option
	if cfg.NatsCred != "" {
		opts = append(opts, nats.UserCredentials(cfg.NatsCred))
	} else if cfg.NatsUser != "" && cfg.NatsPassword != "" {
		opts = append(opts, nats.UserInfo(cfg.NatsUser, cfg.NatsPassword))
	}
	opts = append(opts, nats.Timeout(5*time.Second))

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream instance: %w", err)
	}
	return nc, js, nil
}

// consume starts the stream consumers. They stop when ctx ends.
func consume(ctx context.Context, js jetstream.JetStream, local delivery.Router, pipeline *delivery.Pipeline, log *slog.Logger) error {
	deliveries, notifications, err := broker.EnsureStreams(ctx, js)
	if err != nil {
		return err
	}

	if err := broker.Subscriber(ctx, deliveries, broker.DeliveryConsumer(), worker.Deliver(local), log); err != nil {
		return err
	}
	return broker.Subscriber[model.SystemNotification](ctx, notifications, broker.NotificationConsumer(), worker.Notify(pipeline), log)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
