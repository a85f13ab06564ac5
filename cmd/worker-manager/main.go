// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"insight-pipeline/internal/collab"
	"insight-pipeline/internal/common/aws"
	"insight-pipeline/internal/common/camunda"
	"insight-pipeline/internal/common/config"
	"insight-pipeline/internal/common/database"
	pipelinehttp "insight-pipeline/internal/common/http"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/common/observability"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/orchestrator"
	"insight-pipeline/internal/registry"
	"insight-pipeline/internal/stages/discovery"
	"insight-pipeline/internal/stages/execution"
	"insight-pipeline/internal/stages/followup"
	"insight-pipeline/internal/stages/greeting"
	"insight-pipeline/internal/stages/ranking"
	"insight-pipeline/internal/stages/safety"
	"insight-pipeline/internal/stages/synthesis"
	"insight-pipeline/internal/stages/validation"
	"insight-pipeline/internal/stages/visualization"

	answerquery "insight-pipeline/internal/workers/pipeline/answer-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer func() { _ = zapLog.Sync() }()

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Re-init with the configured level and format now that config is loaded
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Camunda Client with retry ---
	var camundaClient *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		camundaClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry (monitoring only, skipped when unset) ---
	var events collab.EventSink = collab.NoopEventSink{}
	if cfg.Database.Elasticsearch.GetURL() != "" {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			// Test the connection
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		events = collab.NewESEventSink(esClient.Client, cfg.Database.Elasticsearch.Index, log)
		zapLog.Info("Elasticsearch connected successfully")
	} else {
		zapLog.Warn("Elasticsearch not configured, query events will not be recorded")
	}

	// --- Init Redis with retry (plan cache, skipped when disabled) ---
	var planCache collab.PlanCache = collab.NoopPlanCache{}
	planCacheEnabled := config.IsStageEnabled(cfg, "plan_cache")
	if planCacheEnabled {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			// Test the connection with context
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		planCache = collab.NewRedisPlanCache(redisClient.Client, time.Duration(cfg.Database.Redis.TTL)*time.Second, log)
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Usage Publisher ---
	var costSink collab.CostSink = collab.NoopCostSink{}
	if cfg.Notifications.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		costSink = collab.NewSNSCostSink(snsClient.GetClient(), cfg.Notifications.SNS.TopicARN, log)
		zapLog.Info("SNS usage publisher initialized")
	} else {
		zapLog.Warn("SNS disabled, usage events will not be published")
	}

	// --- Init Model Service Clients ---
	llmClient := llm.NewHTTPClient(&llm.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     config.GetDuration(cfg.LLM.Timeout),
		MaxRetries:  cfg.LLM.MaxRetries,
	}, log)

	embedder := llm.NewCachedEmbedder(llm.NewHTTPEmbedder(&llm.EmbedderConfig{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Timeout:    config.GetDuration(cfg.Embeddings.Timeout),
		BatchSize:  cfg.Embeddings.BatchSize,
		MaxRetries: cfg.Embeddings.MaxRetries,
	}, log), cfg.Embeddings.CacheSize)

	zapLog.Info("Model service clients initialized")

	// --- Init Source Registry ---
	store := registry.NewPostgresStore(pg.DB, log)

	encryptionKey, err := base64.StdEncoding.DecodeString(cfg.Sources.EncryptionKey)
	if err != nil {
		zapLog.Fatal("sources.encryption_key is not valid base64", zap.Error(err))
	}
	decryptor, err := registry.NewAESDecryptor(encryptionKey)
	if err != nil {
		zapLog.Fatal("sources.encryption_key rejected", zap.Error(err))
	}

	// --- Build Pipeline Stages ---
	safetyHandler := safety.NewHandler(safety.LoadConfig(), log)

	greetingCfg := greeting.LoadConfig()
	greetingCfg.MaxWordsForModelCheck = cfg.Pipeline.Greeting.MaxWords
	greetingHandler := greeting.NewHandler(greetingCfg, llmClient, log)

	validationCfg := validation.LoadConfig()
	validationCfg.ConfidenceThreshold = cfg.Pipeline.Validation.ConfidenceThreshold
	validationHandler := validation.NewHandler(validationCfg, llmClient, log)

	discoveryCfg := discovery.LoadConfig()
	discoveryCfg.MaxCandidates = cfg.Pipeline.Discovery.MaxCandidates
	if cfg.Pipeline.Discovery.MinSimilarity > 0 {
		discoveryCfg.MinSimilarity = cfg.Pipeline.Discovery.MinSimilarity
	}
	discoveryHandler := discovery.NewHandler(discoveryCfg, store, embedder, llmClient, log)

	rankingHandler := ranking.NewHandler(ranking.LoadConfig(), llmClient, log)

	executionCfg := execution.LoadConfig()
	executionCfg.SourceTimeout = config.GetDuration(cfg.Pipeline.Execution.SourceTimeout)
	executionCfg.MaxRows = cfg.Pipeline.Execution.MaxRows
	executionCfg.MaxParallel = cfg.Pipeline.Execution.MaxParallel

	apiCoordinator := execution.NewAPICoordinator(executionCfg, store, pipelinehttp.NewClient(executionCfg.SourceTimeout), log)
	executionHandler := execution.NewHandler(executionCfg, map[models.SourceKind]execution.Coordinator{
		models.SourceKindDatabase:    execution.NewDatabaseCoordinator(executionCfg, store, decryptor, llmClient, nil, log),
		models.SourceKindFile:        execution.NewFileCoordinator(executionCfg, store, log),
		models.SourceKindAPIEndpoint: apiCoordinator,
		models.SourceKindURL:         apiCoordinator,
	}, log)

	synthesisHandler := synthesis.NewHandler(synthesis.LoadConfig(), llmClient, log)
	visualizationHandler := visualization.NewHandler(visualization.LoadConfig(), llmClient, log)

	followUpCfg := followup.LoadConfig()
	followUpCfg.MaxQuestions = cfg.Pipeline.FollowUp.MaxQuestions
	followUpHandler := followup.NewHandler(followUpCfg, llmClient, log)

	// --- Assemble Orchestrator ---
	orchestratorCfg := orchestrator.LoadConfig()
	orchestratorCfg.TokensPerCredit = cfg.Billing.TokensPerCredit
	orchestratorCfg.SchemaShortcut = config.IsStageEnabled(cfg, "schema_shortcut")
	orchestratorCfg.PlanCache = planCacheEnabled

	pipeline := orchestrator.NewOrchestrator(orchestratorCfg, orchestrator.Stages{
		Safety:        safetyHandler,
		Greeting:      greetingHandler,
		Validation:    validationHandler,
		Discovery:     discoveryHandler,
		Ranking:       rankingHandler,
		Execution:     executionHandler,
		Synthesis:     synthesisHandler,
		Visualization: visualizationHandler,
		FollowUp:      followUpHandler,
	}, store, orchestrator.Collaborators{
		PlanCache: planCache,
		CostSink:  costSink,
		Events:    events,
		Telemetry: obs,
	}, log)

	zapLog.Info("Pipeline assembled")

	// --- Register Worker ---
	aqHandler, err := answerquery.NewHandler(answerquery.HandlerOptions{
		AppConfig: cfg,
		Camunda:   camundaClient,
		Pipeline:  pipeline,
		Logger:    log,
	})
	if err != nil {
		zapLog.Fatal("failed to create answer-query handler", zap.Error(err))
	}
	if err := aqHandler.Register(); err != nil {
		zapLog.Fatal("failed to register answer-query worker", zap.Error(err))
	}

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := aqHandler.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")

	aqHandler.Close()

	if err := camundaClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}
