package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
	"github.com/lueurxax/incident-crawler/internal/crawler"
	"github.com/lueurxax/incident-crawler/internal/platform/config"
)

func main() {
	category := flag.String("category", "news", "Categories to crawl: news, papers, vulnerabilities, a comma-separated list, or all")
	keywordsFile := flag.String("keywords-file", "", "Newline-delimited keywords file (default KEYWORDS_FILE)")
	keywords := flag.String("keywords", "", "Comma-separated keywords; overrides the keywords file")
	resume := flag.String("resume", "", "Checkpoint basename to resume, or \"latest\"")
	stateName := flag.String("state-name", "", "Checkpoint basename for a fresh run")
	flag.Parse()

	// Setup logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	categories, err := crawler.ParseCategories(*category)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid -category")
	}

	opts := crawler.Options{
		Categories: categories,
		Resume:     *resume,
		StateName:  *stateName,
	}

	if *keywords != "" {
		opts.Keywords = crawler.SplitKeywords(*keywords)
	} else {
		path := *keywordsFile
		if path == "" {
			path = cfg.KeywordsFile
		}

		if opts.Keywords, err = crawler.LoadKeywords(path); err != nil {
			logger.Fatal().Err(err).Msg("Failed to load keywords")
		}
	}

	if len(opts.Keywords) == 0 && opts.Resume == "" {
		logger.Fatal().Msg("No keywords given; use -keywords, -keywords-file or -resume")
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal, pausing at the next checkpoint")
		cancel()
	}()

	c, err := crawler.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create crawler")
	}

	// Start health server
	healthServer := crawler.NewHealthServer(c, cfg.HealthPort)

	go func() {
		logger.Info().Int("port", cfg.HealthPort).Msg("Starting health server")

		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Health server error")
		}
	}()

	healthServer.SetReady(true)

	logger.Info().Int("keywords", len(opts.Keywords)).Msg("Starting crawl")

	_, err = c.Run(ctx, opts)

	c.Close()

	switch {
	case err == nil:
		logger.Info().Msg("Crawl finished")
	case errors.Is(err, apperrors.ErrRunPaused), errors.Is(err, context.Canceled):
		logger.Warn().Err(err).Msg("Crawl paused; rerun with -resume to continue")
		os.Exit(2) //nolint:gocritic // deferred cancel is irrelevant on exit
	default:
		logger.Fatal().Err(err).Msg("Crawl failed")
	}
}

// setLogLevel sets the global log level based on the configuration.
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
