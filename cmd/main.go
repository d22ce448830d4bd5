package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/logging"
	"github.com/d3vh/omnifeed/internal/metrics"
	"github.com/d3vh/omnifeed/internal/runtime"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
	"github.com/d3vh/omnifeed/internal/runtime/feeds"
	"github.com/d3vh/omnifeed/internal/runtime/genai"
	"github.com/d3vh/omnifeed/internal/runtime/search"
	"github.com/d3vh/omnifeed/internal/runtime/wiki"
	"github.com/d3vh/omnifeed/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "OMNIFEED", "environment variable prefix")
	)
	flag.Parse()

	// Local development keys live in .env; absence is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	ttls := cache.TTLs{
		Default:    cfg.Server.Cache.DefaultTTL,
		Categories: cfg.Server.Cache.TTL.Durations(),
	}
	store := buildCacheStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache, ttls)

	// One keep-alive client shared by every adapter so upstream connections
	// are reused across requests.
	httpClient := &http.Client{}

	wikiClient := wiki.New(cfg.Wiki, store, httpClient, metricsRecorder, logger)
	feedFetcher := feeds.NewFetcher(store, httpClient, metricsRecorder, logger)
	searchClient := search.New(cfg.Search, store, httpClient, metricsRecorder, logger)
	genaiClient := genai.New(cfg.Genai, httpClient, logger)

	pipe := runtime.NewPipeline(logger, runtime.PipelineOptions{
		Store:       store,
		Summary:     wikiClient,
		Passthrough: wikiClient,
		Feeds:       feedFetcher,
		Search:      searchClient,
		Genai:       genaiClient,
		Sources:     cfg.Feeds,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := pipe.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	preloader := feeds.NewPreloader(feedFetcher, cfg.Feeds, cfg.Preload.Interval, logger)
	go preloader.Run(ctx)

	handler := server.NewPipelineHandler(pipe)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", handler)

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildCacheStore(logger *slog.Logger, cfg config.CacheConfig, ttls cache.TTLs) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache", slog.Duration("default_ttl", ttls.Default))
		return cache.NewMemory(ttls)
	case "valkey":
		store, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
		}, ttls)
		if err != nil {
			logger.Error("valkey cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory(ttls)
		}
		logger.Info("using valkey cache", slog.String("address", cfg.Valkey.Address))
		return store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory(ttls)
	}
}
