package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spyglass/internal/api"
	"spyglass/internal/ingest"
	"spyglass/internal/pipeline"
	"spyglass/internal/scheduler"
	"spyglass/internal/storage"
	"spyglass/pkg/cache"
	"spyglass/pkg/config"
	"spyglass/pkg/database"
	"spyglass/pkg/kafka"
	"spyglass/pkg/logging"
	"spyglass/pkg/monitoring"
	"spyglass/pkg/server"
	"spyglass/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("spyglass")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Spyglass (Coordination Detection & Narrative Risk)")

	databaseURL := config.RequireEnv("DATABASE_URL")
	brokersEnv := config.RequireEnv("KAFKA_BROKERS")

	// Connect to PostgreSQL and apply the results schema
	pgConfig := database.ConfigFromEnv()
	db := database.MustConnect(pgConfig, logger)
	defer db.Close()
	if err := database.MigratePostgres(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to migrate PostgreSQL schema")
	}

	// Connect to ClickHouse and apply the post archive schema
	chConfig := database.ClickHouseConfigFromEnv()
	clickhouse := database.MustConnectClickHouseNative(chConfig, logger)
	defer clickhouse.Close()
	if err := database.MigrateClickHouse(context.Background(), clickhouse, logger); err != nil {
		logger.WithError(err).Fatal("Failed to migrate ClickHouse schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("spyglass", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("spyglass", version.Version, version.GitCommit)

	// Custom ingest metrics
	ingestMetrics := &ingest.Metrics{
		PostBatches:       metricsCollector.NewCounter("post_batches_total", "Post batches processed", []string{"status"}),
		PostsReceived:     metricsCollector.NewCounter("posts_received_total", "Posts received", nil).WithLabelValues(),
		BatchDuration:     metricsCollector.NewHistogram("batch_processing_duration_seconds", "Batch processing time", []string{}, nil),
		BufferedPosts:     metricsCollector.NewGauge("buffered_posts", "Posts waiting for the next analysis run", nil).WithLabelValues(),
		ClickHouseInserts: metricsCollector.NewCounter("clickhouse_inserts_total", "ClickHouse inserts", []string{"table", "status"}),
	}
	ingestMetrics.KafkaMessages, ingestMetrics.KafkaDuration, ingestMetrics.KafkaLag = metricsCollector.CreateKafkaMetrics()

	// Analysis run metrics
	schedulerMetrics := &scheduler.Metrics{}
	schedulerMetrics.Runs, schedulerMetrics.Duration, schedulerMetrics.Items = metricsCollector.CreateAnalysisMetrics()

	// Query API metrics
	apiMetrics := &api.Metrics{
		Queries:       metricsCollector.NewCounter("api_queries_total", "API queries", []string{"endpoint", "status"}),
		QueryDuration: metricsCollector.NewHistogram("api_query_duration_seconds", "API query time", []string{"endpoint"}, nil),
	}

	// Analysis configuration
	analysisConfig, err := config.AnalysisConfigFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Invalid analysis configuration")
	}

	// Setup Kafka producer and consumer
	brokers := config.GetEnvList("KAFKA_BROKERS", nil)
	groupID := config.GetEnv("KAFKA_GROUP_ID", "spyglass")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "spyglass")

	producer, err := kafka.NewProducer(brokers, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	// Ingest path: post_events -> validate -> archive -> buffer
	buffer := ingest.NewPostBuffer(config.GetEnvInt("INGEST_BUFFER_MAX_POSTS", 100000))
	archive := ingest.NewClickHouseArchive(clickhouse, logger, ingestMetrics)
	ingestHandler := ingest.NewHandler(archive, buffer, producer, logger, ingestMetrics)
	consumer.AddHandler(kafka.TopicPostEvents, ingestHandler.HandlePostBatch)

	// Health checks
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(clickhouse))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  databaseURL,
		"KAFKA_BROKERS": brokersEnv,
	}))

	// Response cache for the query API, purged after each run
	cacheEvents := metricsCollector.NewCounter("cache_events_total", "Response cache events", []string{"outcome"})
	responseCache := cache.New(cache.Options{
		TTL:                  time.Duration(config.GetEnvInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		StaleWhileRevalidate: 30 * time.Second,
		MaxEntries:           1024,
	}, cache.Hooks{
		OnHit:   func(string) { cacheEvents.WithLabelValues("hit").Inc() },
		OnMiss:  func(string) { cacheEvents.WithLabelValues("miss").Inc() },
		OnStale: func(string) { cacheEvents.WithLabelValues("stale").Inc() },
	})

	// Analysis scheduler
	store := storage.NewStore(db, logger)
	analysisPipeline := pipeline.New(&analysisConfig, logger)
	schedulerOpts := scheduler.Options{
		Interval:     time.Duration(config.GetEnvInt("ANALYSIS_INTERVAL_SECONDS", 300)) * time.Second,
		InitialDelay: time.Duration(config.GetEnvInt("ANALYSIS_INITIAL_DELAY_SECONDS", 10)) * time.Second,
		RunTimeout:   time.Duration(config.GetEnvInt("ANALYSIS_RUN_TIMEOUT_SECONDS", 600)) * time.Second,
		MinPosts:     config.GetEnvInt("ANALYSIS_MIN_POSTS", 1),
		Parallelism:  config.GetEnvInt("ANALYSIS_PARALLELISM", 4),
	}
	runScheduler := scheduler.NewScheduler(analysisPipeline, buffer, store, producer, responseCache, logger, schedulerMetrics, schedulerOpts)

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	runScheduler.Start()

	// HTTP API
	router := server.SetupServiceRouter(logger, "spyglass", healthChecker, metricsCollector)
	queryHandlers := api.NewHandlers(store, responseCache, logger, apiMetrics)
	queryHandlers.RegisterRoutes(router)
	router.POST("/api/analyze", func(c *gin.Context) {
		go func() {
			if err := runScheduler.Trigger(); err != nil {
				logger.WithError(err).Error("Triggered analysis run failed")
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "analysis triggered"})
	})

	logger.Info("Spyglass started - consuming post batches and serving analysis results")

	// Blocks until SIGINT/SIGTERM, then shuts the HTTP server down gracefully
	serverConfig := server.DefaultConfig("spyglass", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("HTTP server error")
	}

	logger.Info("Shutting down Spyglass...")
	cancel()
	runScheduler.Stop()

	logger.Info("Spyglass stopped")
}
