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

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/bot"
	"github.com/jensholdgaard/auction-house/internal/bot/commands"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/coordinator"
	"github.com/jensholdgaard/auction-house/internal/feed"
	"github.com/jensholdgaard/auction-house/internal/health"
	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/httpapi"
	"github.com/jensholdgaard/auction-house/internal/leader"
	"github.com/jensholdgaard/auction-house/internal/market"
	"github.com/jensholdgaard/auction-house/internal/scheduler"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/telemetry"
)

var version = "dev"

// announcerViewer is the identity the shared market store reads as. It
// never creates auctions, so the market view holds every listing.
const announcerViewer = "announcer"

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
	cfg.Telemetry.ServiceName += "-bot"

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

	client := httpapi.NewClient(cfg.House)
	resolver := auction.NewResolver(clk, tp.TracerProvider)
	sessions := commands.NewSessions(func(userID string) *commands.Session {
		st := market.NewStore(userID, client, clk, logger, metrics)
		return &commands.Session{
			Store:       st,
			Coordinator: coordinator.New(st, client, resolver, cfg.Purchase, logger, tp.TracerProvider, metrics),
		}
	})
	handlers := commands.NewHandlers(client, sessions, cfg.Discord.Admins, clk, logger, tp.TracerProvider)

	announcements := market.NewStore(announcerViewer, client, clk, logger, metrics)
	sched := scheduler.New(announcements, []market.View{market.ViewMarket}, cfg.Sync, clk, logger)

	if cfg.NATS.URL != "" {
		nc, err := feed.Connect(cfg.NATS, "auctionbot", logger)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer nc.Drain()
		// Every committed transition can change the market.
		if _, err := feed.SubscribeNotices(nc, cfg.NATS.NoticeSubject, logger, func(house.Notice) {
			sched.Nudge(market.ViewMarket)
		}); err != nil {
			return fmt.Errorf("subscribing to notices: %w", err)
		}
	}

	healthHandler := health.NewHandler(clk, version, health.Checker{
		Name: "house",
		Check: func(ctx context.Context) error {
			_, err := client.ListAuctions(ctx, store.Query{Limit: 1})
			return err
		},
	})
	router := mux.NewRouter()
	healthHandler.Register(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.HealthPort))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// startBot is the core work that only the leader should run: Discord
	// allows one gateway connection per bot token.
	startBot := func(ctx context.Context) {
		discordBot, botErr := bot.New(cfg.Discord, handlers, sessions, announcements, clk, logger)
		if botErr != nil {
			logger.ErrorContext(ctx, "creating bot failed", slog.Any("error", botErr))
			return
		}
		if botErr = discordBot.Start(ctx); botErr != nil {
			logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", botErr))
			return
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auctionbot is running", slog.String("version", version))

		// The scheduler keeps the announcement store fresh until
		// leadership or the process ends.
		if err := sched.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "scheduler stopped", slog.Any("error", err))
		}

		healthHandler.SetReady(false)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		if stopErr := discordBot.Stop(stopCtx); stopErr != nil {
			logger.Error("bot shutdown error", slog.Any("error", stopErr))
		}
	}

	if err := leader.RunLeading(ctx, cfg.LeaderElection, logger, startBot); err != nil {
		return fmt.Errorf("leader election: %w", err)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
