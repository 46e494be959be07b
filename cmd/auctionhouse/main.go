package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/cache/redis"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/feed"
	"github.com/jensholdgaard/auction-house/internal/health"
	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/httpapi"
	"github.com/jensholdgaard/auction-house/internal/leader"
	"github.com/jensholdgaard/auction-house/internal/ledger"
	"github.com/jensholdgaard/auction-house/internal/settlement"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auction-house/internal/store/memory"
	_ "github.com/jensholdgaard/auction-house/internal/store/pgxstore"
	_ "github.com/jensholdgaard/auction-house/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	metrics, err := telemetry.NewMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	// Open store using the configured driver (sqlx, pgx or memory).
	st, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer st.Close()
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	cur, err := auction.NormalizeCurrency(cfg.Ledger.DailyCurrency)
	if err != nil {
		return fmt.Errorf("ledger.daily_currency: %w", err)
	}
	ledgerMgr := ledger.NewManager(st, ledger.Settings{
		Starting:      cfg.Ledger.Starting(),
		Allowance:     cfg.Ledger.Allowance(),
		DailyCurrency: cur,
	}, clk, logger, tp.TracerProvider)

	checkers := []health.Checker{{Name: "database", Check: st.Ping}}
	opts := []house.Option{house.WithMetrics(metrics)}

	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rc.Close()
		opts = append(opts, house.WithPurchaseCache(redis.NewPurchaseCache(rc, cfg.Redis.PurchaseTTL)))
		checkers = append(checkers, health.Checker{Name: "redis", Check: rc.Ping})
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = feed.Connect(cfg.NATS, "auctionhouse", logger)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer nc.Drain()
		opts = append(opts, house.WithNotifier(feed.NewPublisher(nc, cfg.NATS.NoticeSubject)))
		checkers = append(checkers, health.Checker{Name: "nats", Check: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New(nc.Status().String())
			}
			return nil
		}})
	}

	svc := house.New(st, ledgerMgr, auction.NewResolver(clk, tp.TracerProvider), logger, tp.TracerProvider, opts...)

	healthHandler := health.NewHandler(clk, version, checkers...)
	router := mux.NewRouter()
	healthHandler.Register(router)
	httpapi.NewServer(svc, cfg.RateLimit, cfg.Discord.Admins, clk, logger).Register(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "auctionhouse", otelhttp.WithTracerProvider(tp.TracerProvider), otelhttp.WithMeterProvider(tp.MeterProvider)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting api server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "api server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	if nc != nil {
		consumer := feed.NewConsumer(nc, cfg.NATS, svc, logger)
		go func() {
			if feedErr := consumer.Run(ctx); feedErr != nil {
				logger.ErrorContext(ctx, "outcome feed stopped", slog.Any("error", feedErr))
			}
		}()
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctionhouse is running", slog.String("version", version))

	// Settlement sweeps run on one replica only.
	worker := settlement.NewWorker(svc, cfg.Settlement.Schedule, logger, tp.TracerProvider)
	if err := leader.RunLeading(ctx, cfg.LeaderElection, logger, func(ctx context.Context) {
		logger.InfoContext(ctx, "running settlement worker")
		if runErr := worker.Run(ctx); runErr != nil {
			logger.ErrorContext(ctx, "settlement worker failed", slog.Any("error", runErr))
		}
	}); err != nil {
		return fmt.Errorf("leader election: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
