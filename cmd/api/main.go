package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webresearch/backend/internal/agent"
	"webresearch/backend/internal/cache"
	"webresearch/backend/internal/config"
	"webresearch/backend/internal/db"
	"webresearch/backend/internal/httpapi"
	"webresearch/backend/internal/inference"
	"webresearch/backend/internal/learning"
	"webresearch/backend/internal/orchestrator"
	"webresearch/backend/internal/provider"
	"webresearch/backend/internal/quota"
	"webresearch/backend/internal/reputation"
	"webresearch/backend/internal/scorer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	contentCache := cache.New(cache.NewSQLStore(database), cfg.CacheTTL)
	contentCache.StartSweeper(rootCtx, cfg.CacheSweepInterval)

	ledger := quota.NewLedger(quota.NewSQLStore(database))
	ledger.Register("google", 100, 24*time.Hour)
	ledger.Register("newsapi", 100, 24*time.Hour)

	tracker := reputation.NewTracker(reputation.NewSQLStore(database))

	inferenceClient := inference.NewClient(cfg, nil)
	log.Printf("inference configured: base_url=%s model=%s key=%s",
		cfg.InferenceBaseURL, cfg.InferenceModel, config.MaskKey(cfg.InferenceAPIKey))

	searchers := make([]provider.Adapter, 0, 2)
	if googleAdapter, err := provider.NewGoogleAdapter(cfg); err != nil {
		log.Printf("google adapter disabled: err=%v", err)
	} else {
		searchers = append(searchers, provider.WithCache(provider.WithQuota(provider.WithRateLimit(googleAdapter, 1, 2), ledger), contentCache))
	}
	if cfg.NewsAPIKey != "" {
		newsAdapter := provider.NewNewsAdapter(cfg, nil)
		searchers = append(searchers, provider.WithCache(provider.WithQuota(provider.WithRateLimit(newsAdapter, 1, 2), ledger), contentCache))
	} else {
		log.Printf("newsapi adapter disabled: no api key")
	}

	agentClient := agent.NewClient(cfg, nil)
	crawler := provider.NewCrawlAdapter(agentClient, contentCache, cfg.ArtifactDir)

	contentScorer := scorer.New(inferenceClient)
	loop := learning.NewLoop(contentScorer, inferenceClient)

	engine := orchestrator.NewEngine(orchestrator.Deps{
		Searchers: searchers,
		Crawler:   crawler,
		Planner:   orchestrator.NewJSONPlanner(inferenceClient),
		Learning:  loop,
		Analyzer:  contentScorer,
		Quota:     ledger,
		Sites:     tracker,
	}, orchestrator.Config{
		SearchTimeout: time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
	})

	handler := httpapi.NewRouter(cfg, httpapi.NewHandler(cfg, engine, tracker))

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.ListenAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
