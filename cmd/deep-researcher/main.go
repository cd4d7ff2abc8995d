package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bububa/instructor-go/pkg/instructor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bububa/deep-researcher/config"
	"github.com/bububa/deep-researcher/llm"
	"github.com/bububa/deep-researcher/planner"
	"github.com/bububa/deep-researcher/research"
	"github.com/bububa/deep-researcher/retrieval"
	"github.com/bububa/deep-researcher/retrieval/scraper"
	"github.com/bububa/deep-researcher/retrieval/searxng"
	"github.com/bububa/deep-researcher/server"
	"github.com/bububa/deep-researcher/synthesis"
)

func main() {
	var (
		configPath  string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if printConfig {
		dump, err := cfg.Dump()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(dump)
		return
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	gateway := llm.New(provider(cfg.LLM.Provider), cfg.LLM.APIKey,
		llm.WithModel(cfg.LLM.Model),
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithCallTimeout(cfg.LLM.Timeout),
		llm.WithMaxAttempts(cfg.LLM.MaxAttempts),
		llm.WithRateLimit(cfg.LLM.RateLimit.PerSecond, cfg.LLM.RateLimit.Burst),
		llm.WithLogger(logger.Named("llm")),
	)

	search := searxng.New(
		searxng.WithBaseURL(cfg.Search.BaseURL),
		searxng.WithLanguage(cfg.Search.Language),
		searxng.WithEngines(cfg.Search.Engines),
		searxng.WithMaxResults(cfg.Search.TopK),
	)
	scraperOpts := []scraper.Option{
		scraper.WithTimeout(cfg.Fetch.Timeout),
		scraper.WithMaxContentLength(cfg.Fetch.MaxContentLength),
	}
	if cfg.Fetch.UserAgent != "" {
		scraperOpts = append(scraperOpts, scraper.WithUserAgent(cfg.Fetch.UserAgent))
	}
	retriever := retrieval.NewClient(search, scraper.New(scraperOpts...),
		retrieval.WithCallTimeout(cfg.Fetch.Timeout),
		retrieval.WithLogger(logger.Named("retrieval")),
	)

	manager := research.NewManager(
		planner.New(gateway,
			planner.WithMaxSubQueries(cfg.Research.MaxSubQueries),
			planner.WithLogger(logger.Named("planner")),
		),
		retriever,
		synthesis.New(gateway, synthesis.WithLogger(logger.Named("synthesis"))),
		research.WithManagerLogger(logger.Named("research")),
		research.WithLimits(research.Limits{
			DefaultRounds:    cfg.Research.DefaultRounds,
			MaxRounds:        cfg.Research.MaxRounds,
			DefaultTokens:    cfg.Research.DefaultTokens,
			MaxTokens:        cfg.Research.MaxTokens,
			DefaultDeadline:  cfg.Research.DefaultDeadline,
			MaxDeadline:      cfg.Research.MaxDeadline,
			TopK:             cfg.Search.TopK,
			FetchConcurrency: cfg.Fetch.Concurrency,
			MaxSessions:      cfg.Research.MaxSessions,
			Retention:        cfg.Research.Retention,
			PerItemTokenCap:  cfg.Research.PerItemTokenCap,
		}),
	)
	defer manager.Close()

	srv := server.New(manager,
		server.WithAddr(cfg.Server.Addr),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		server.WithLogger(logger.Named("http")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func provider(name string) instructor.Provider {
	switch name {
	case "anthropic":
		return instructor.ProviderAnthropic
	case "cohere":
		return instructor.ProviderCohere
	default:
		return instructor.ProviderOpenAI
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
