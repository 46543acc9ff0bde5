package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/config"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/engine"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/feed"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/gateway"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/httpapi"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/match"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/observability"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/profile"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profiles, err := profile.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create profile store")
	}
	defer profiles.Close()

	var sink feed.Sink
	if cfg.NATSURL != "" {
		feedCfg := feed.DefaultJetStreamConfig()
		feedCfg.URL = cfg.NATSURL
		feedCfg.StreamName = cfg.FeedStream
		feedCfg.SubjectPrefix = cfg.FeedSubjectPrefix
		jsFeed, err := feed.NewJetStreamFeed(feedCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect session-event feed")
		}
		defer jsFeed.Close()
		sink = jsFeed
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	hub := gateway.NewHub(gateway.DefaultConnectionConfig())
	eng := engine.New(
		engine.Config{SessionSeconds: cfg.SessionSeconds},
		hub,
		engine.WithMetrics(metrics),
		engine.WithFeed(sink),
	)
	hub.Bind(eng)

	go eng.Run(ctx)
	go hub.Start(ctx)

	matcher := match.NewService(profiles)
	api := httpapi.New(cfg, gateway.NewHandler(hub), eng, profiles, matcher)

	server := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	log.Info().Msg("whisperd shutdown complete")
}
