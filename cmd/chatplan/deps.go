package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/config"
	"github.com/mohammad-safakhou/chatplan/internal/catalog"
	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
	"github.com/mohammad-safakhou/chatplan/provider"
	"github.com/mohammad-safakhou/chatplan/provider/httpstream"
	openai_provider "github.com/mohammad-safakhou/chatplan/provider/openai"
	"github.com/mohammad-safakhou/chatplan/repository"
)

// newStreamer selects the model transport named by llm.type.
func newStreamer(cfg config.LLMConfig, logger *zap.Logger) (provider.Streamer, error) {
	switch provider.Client(cfg.Type) {
	case provider.OpenAI:
		return openai_provider.NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, logger), nil
	case provider.HTTP:
		return httpstream.New(cfg.PlannerURL, cfg.Timeout, logger), nil
	}
	return nil, fmt.Errorf("unknown llm.type %q", cfg.Type)
}

// newCatalog builds the model catalog, fronted by Redis when configured. A
// Redis outage at startup only costs the cache.
func newCatalog(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*catalog.Catalog, func()) {
	opts := []catalog.Option{
		catalog.WithLogger(logger),
		catalog.WithRegisterer(reg),
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Models.FetchTimeout}),
	}
	closeFn := func() {}
	if r := cfg.Storage.Redis; r.Enabled() {
		cache, closer, err := repository.NewModelCacheRepository(ctx, repository.RepoTypeRedis, repository.RedisOptions{
			Host:     r.Host,
			Port:     r.Port,
			Password: r.Password,
			DB:       r.DB,
			Timeout:  r.Timeout,
		}, cfg.Models.CacheTTL, logger)
		if err != nil {
			logger.Warn("model cache disabled", zap.Error(err))
		} else {
			opts = append(opts, catalog.WithCache(cache))
			closeFn = func() { _ = closer() }
		}
	}
	return catalog.New(cfg.Models.RemoteURL, opts...), closeFn
}

func pipelineOptions(cfg *config.Config, subject string) pipeline.Options {
	return pipeline.Options{
		SearchMode:          cfg.Planner.SearchMode,
		Model:               cfg.Planner.Model,
		Timeout:             cfg.Planner.RequestTimeout,
		FallbackTitle:       cfg.Planner.FallbackTitle,
		FallbackDescription: cfg.Planner.FallbackDescription,
		Subject:             subject,
	}
}
