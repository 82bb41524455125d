package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/config"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/httpapi"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/pipeline"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/rotation"
	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	store, sweeper, err := buildStore(cfg.Cache)
	if err != nil {
		log.Fatal("Failed to open cache store: %v", err)
	}

	c := cron.New()
	janitor := cache.NewJanitor(sweeper, c, cfg.Cache.JanitorCron)
	if err := janitor.Schedule(context.Background()); err != nil {
		log.Fatal("Failed to schedule cache janitor: %v", err)
	}
	c.Start()
	defer c.Stop()

	primary, fallback := buildCredentials(cfg.Provider)
	if len(primary) == 0 {
		log.Fatal("No provider credentials configured")
	}
	log.Info("Credential pools: %d primary, %d fallback", len(primary), len(fallback))

	records := pipeline.NewRecords(store,
		cfg.Cache.PartialRecordTTL, cfg.Cache.FinalRecordTTL, cfg.Cache.ErrorRecordTTL)

	orchestrator := pipeline.NewOrchestrator(store, records, pipeline.OrchestratorConfig{
		Planner: pipeline.PlannerConfig{
			TokenBudget:     cfg.Pipeline.BatchTokenBudget,
			FirstCheckpoint: cfg.Pipeline.CheckpointFirst,
			CheckpointStep:  cfg.Pipeline.CheckpointStep,
		},
		Checkpoint: pipeline.CheckpointConfig{
			DebounceInterval: cfg.Pipeline.CheckpointDebounce,
			MinDelta:         cfg.Pipeline.CheckpointMinDelta,
		},
		Rotation: rotation.Config{
			ErrorThreshold: cfg.Rotation.ErrorThreshold,
			ErrorWindow:    cfg.Rotation.ErrorWindow,
			Cooldown:       cfg.Rotation.Cooldown,
			Granularity:    cfg.Rotation.Granularity,
		},
		MismatchCutoff:      cfg.Pipeline.MismatchCutoff,
		FullRetryCount:      cfg.Pipeline.FullRetryCount,
		MaxJobsPerUser:      cfg.Pipeline.MaxJobsPerUser,
		CallTimeout:         time.Duration(cfg.Provider.LLM.Timeout) * time.Second,
		DefaultWorkflowMode: cfg.Pipeline.WorkflowMode,
		ProviderTag:         providerTag(cfg.Provider, primary),
	}, primary, fallback)

	server := httpapi.NewServer(orchestrator)
	log.Info("Listening on %s", cfg.System.HTTPAddr)
	if err := server.ListenAndServe(cfg.System.HTTPAddr); err != nil {
		log.Fatal("HTTP server failed: %v", err)
	}
}

// providerTag names the deployed primary provider and model for job
// fingerprints, so changing either stops serving records translated by
// the old configuration.
func providerTag(cfg config.ProviderConfig, primary []rotation.Credential) string {
	if len(primary) > 0 && primary[0].Provider == "gemini" {
		return "gemini/" + cfg.GeminiModel
	}
	return "openai/" + cfg.LLM.Model
}

func buildStore(cfg config.CacheConfig) (cache.Store, cache.Sweeper, error) {
	if cfg.Backend == "memory" {
		store := cache.NewMemoryStore()
		return store, store, nil
	}
	store, err := cache.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

// buildCredentials assembles the rotation pools. Gemini keys form the
// primary pool with the OpenAI-compatible provider as fallback; with no
// Gemini keys the OpenAI-compatible provider is the primary.
func buildCredentials(cfg config.ProviderConfig) (primary, fallback []rotation.Credential) {
	for _, key := range cfg.GeminiAPIKeys {
		handle := provider.NewGeminiHandle(key, cfg.GeminiModel)
		primary = append(primary, rotation.NewCredential(handle.Name(), key, handle))
	}

	if cfg.LLM.APIKey != "" {
		handle := provider.NewOpenAIHandle(provider.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     time.Duration(cfg.LLM.Timeout) * time.Second,
			SiteURL:     cfg.LLM.SiteURL,
			AppName:     cfg.LLM.AppName,
		})
		cred := rotation.NewCredential(handle.Name(), cfg.LLM.APIKey, handle)
		if len(primary) == 0 {
			primary = append(primary, cred)
		} else {
			fallback = append(fallback, cred)
		}
	}
	return primary, fallback
}
