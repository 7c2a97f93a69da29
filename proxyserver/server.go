// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package proxyserver stands up the reference HTTP boundary described in
// SPEC_FULL.md §9: a gorilla/mux router exposing /v1/route, /admin/keys,
// /admin/budgets, /admin/policies, /metrics, and /healthz, wrapped in
// rs/cors and shut down gracefully. Adapted from cmd/orchestrator/main.go
// (thin cmd/ wrapper calling a package-level Run) and orchestrator/run.go
// (mux.NewRouter + cors.New + promhttp.Handler route registration,
// LoadLLMConfig's env-var provider configuration) — this package is the
// out-of-core-scope exerciser spec.md §1 describes, not part of the
// audited router/routing/cost/policy/quota core itself.
package proxyserver

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"apikeyrouter/config"
	"apikeyrouter/cost"
	"apikeyrouter/keymanager"
	"apikeyrouter/observability"
	"apikeyrouter/policy"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
	"apikeyrouter/router"
	"apikeyrouter/routing"
	"apikeyrouter/store"
)

// components bundles every wired piece the HTTP handlers close over,
// mirroring the set of package-level globals orchestrator/run.go's
// initializeComponents populates (dynamicPolicyEngine, llmRouter,
// auditLogger, ...), collected here into one struct instead of globals.
type components struct {
	cfg        *config.Config
	observer   *observability.Observer
	stateStore store.StateStore
	costRepo   cost.Repository
	keys       *keymanager.Manager
	quotaEng   *quota.Engine
	costCtl    *cost.Controller
	policyEng  *policy.Engine
	providers  *provider.Registry
	routingEng *routing.Engine
	r          *router.Router
	cron       *cron.Cron
	quotaRedis *quota.RedisMirror
}

// Run wires every component and blocks serving HTTP until a termination
// signal arrives, then drains in flight requests, stops the cron schedule,
// and closes the StateStore and the Redis quota mirror. Adapter HTTP
// clients are not closed explicitly.
func Run() {
	log.Println("Starting API key router proxy...")

	cfg := config.Load()
	c, err := build(cfg)
	if err != nil {
		log.Fatalf("proxyserver: failed to initialize: %v", err)
	}

	r := mux.NewRouter()
	registerRoutes(r, c)

	corsMW := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMW.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	shutdown := newGracefulShutdown(httpServer, cfg.ShutdownTimeout)
	shutdown.onShutdown(func() {
		if c.cron != nil {
			c.cron.Stop()
		}
	})
	shutdown.onShutdown(func() {
		if err := c.stateStore.Close(); err != nil {
			log.Printf("proxyserver: error closing state store: %v", err)
		}
	})
	shutdown.onShutdown(func() {
		if err := c.quotaRedis.Close(); err != nil {
			log.Printf("proxyserver: error closing redis quota mirror: %v", err)
		}
	})
	shutdown.listenForSignals()

	log.Printf("API key router proxy listening on port %s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("proxyserver: listener failed: %v", err)
	}
	shutdown.wait()
	log.Println("API key router proxy stopped")
}

// build constructs every component from cfg, following
// orchestrator/run.go's initializeComponents ordering: durable stores
// first, then the managers/engines layered on top, then the HTTP-facing
// router last.
func build(cfg *config.Config) (*components, error) {
	observer := observability.New("apikeyrouter-proxy")

	var stateStore store.StateStore
	var costRepo cost.Repository
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		stateStore = pg

		// A second *sql.DB handle backs the cost repository, following
		// orchestrator/cost/postgres_repository.go's own independent
		// connection rather than sharing StateStore's private handle.
		costDB, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := costDB.PingContext(ctx); err != nil {
			return nil, err
		}
		costPg, err := cost.NewPostgresRepository(ctx, costDB)
		if err != nil {
			return nil, err
		}
		costRepo = costPg
	} else {
		log.Println("DATABASE_URL not set, using in-memory StateStore (not durable across restarts)")
		stateStore = store.NewMemoryStore(cfg.MaxDecisions, cfg.MaxTransitions)
		costRepo = cost.NewMemoryRepository()
	}

	if cfg.EncryptionKey == "" {
		log.Println("WARNING: ENCRYPTION_KEY is not set; key registration will fail until it is configured")
	}
	enc, err := keymanager.NewEncryptor(cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		return nil, err
	}

	keys := keymanager.New(stateStore, enc, observer, cfg.DefaultCooldown)
	quotaEng := quota.New(stateStore, keys, observer)
	var quotaRedis *quota.RedisMirror
	if cfg.RedisURL != "" {
		mirror, err := quota.NewRedisMirror(cfg.RedisURL)
		if err != nil {
			log.Printf("proxyserver: redis quota mirror disabled: %v", err)
		} else {
			quotaEng.AttachRedisMirror(mirror)
			quotaRedis = mirror
		}
	}
	costCtl := cost.NewController(costRepo, observer)
	policyEng := policy.New()

	providers := provider.NewRegistry()
	registerProviders(providers, cfg)

	routingEng := routing.New(keys, quotaEng, policyEng, providers, observer, stateStore)
	r := router.New(keys, quotaEng, costCtl, routingEng, providers, observer, cfg.MaxRetryAttempts)

	cronSched := cron.New()
	cronSched.AddFunc("@every 1m", func() {
		ctx := context.Background()
		quotaEng.Sweep(ctx)
	})
	cronSched.AddFunc("@hourly", func() {
		ctx := context.Background()
		if err := costCtl.ResetPeriod(ctx); err != nil {
			observer.Warn("", "", "budget period reset sweep failed", map[string]interface{}{"error": err.Error()})
		}
	})
	cronSched.Start()

	return &components{
		cfg:        cfg,
		observer:   observer,
		stateStore: stateStore,
		costRepo:   costRepo,
		keys:       keys,
		quotaEng:   quotaEng,
		costCtl:    costCtl,
		policyEng:  policyEng,
		providers:  providers,
		routingEng: routingEng,
		r:          r,
		cron:       cronSched,
		quotaRedis: quotaRedis,
	}, nil
}

// registerProviders wires the reference Adapter implementations from
// environment configuration, mirroring orchestrator/run.go's
// LoadLLMConfig: every provider is optional, keyed off the presence of its
// credential/endpoint env var.
func registerProviders(reg *provider.Registry, cfg *config.Config) {
	openAIKey := getEnv("OPENAI_API_KEY")
	if openAIKey != "" {
		model := getEnvOr("OPENAI_MODEL", "gpt-4o")
		reg.Register(provider.NewOpenAIProvider(openAIKey, model, cfg.HealthCheckTTL))
	}

	anthropicKey := getEnv("ANTHROPIC_API_KEY")
	if anthropicKey != "" {
		model := getEnvOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022")
		reg.Register(provider.NewAnthropicProvider(anthropicKey, model, cfg.HealthCheckTTL))
	}

	bedrockRegion := getEnv("BEDROCK_REGION")
	if bedrockRegion != "" {
		model := getEnvOr("BEDROCK_MODEL", "anthropic.claude-3-haiku-20240307-v1:0")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		bedrock, err := provider.NewBedrockProvider(ctx, bedrockRegion, model, cfg.HealthCheckTTL)
		if err != nil {
			log.Printf("proxyserver: bedrock provider disabled: %v", err)
		} else {
			reg.Register(bedrock)
		}
	}

	ollamaEndpoint := getEnv("OLLAMA_ENDPOINT")
	if ollamaEndpoint != "" {
		model := getEnvOr("OLLAMA_MODEL", "llama3")
		reg.Register(provider.NewOllamaProvider(ollamaEndpoint, model, cfg.HealthCheckTTL))
	}

	if len(reg.List()) == 0 {
		log.Println("no provider credentials configured, registering mock provider")
		reg.Register(provider.NewMockProvider("mock"))
	}
}

func getEnv(key string) string { return os.Getenv(key) }

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
