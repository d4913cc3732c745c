package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/leadrouting/config"
	"github.com/jordanlanch/leadrouting/pkg/alerting"
	"github.com/jordanlanch/leadrouting/pkg/api/handlers"
	"github.com/jordanlanch/leadrouting/pkg/cache"
	"github.com/jordanlanch/leadrouting/pkg/coordinator"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/evaluator"
	"github.com/jordanlanch/leadrouting/pkg/history"
	"github.com/jordanlanch/leadrouting/pkg/intake"
	"github.com/jordanlanch/leadrouting/pkg/jobs"
	"github.com/jordanlanch/leadrouting/pkg/leadassignment"
	"github.com/jordanlanch/leadrouting/pkg/leadclient"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	custommiddleware "github.com/jordanlanch/leadrouting/pkg/middleware"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/telemetry"
	"github.com/jordanlanch/leadrouting/pkg/territory"
	"github.com/jordanlanch/leadrouting/pkg/workload"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("❌ Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("⚠️  Failed to flush traces: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	var ruleCache rules.Cache
	var redisClient *cache.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		ruleCache = rules.NewRedisCache(redisClient, cfg.RuleCacheTTL, appLogger.With("component", "rule_cache"))
	} else {
		log.Printf("ℹ️  Rule cache disabled (no REDIS_URL configured)")
	}

	prometheusMetrics := metrics.New()

	// Stores
	ruleStore := rules.NewStore(db, ruleCache)
	territories := territory.NewService(db)
	tracker := workload.NewTracker(db, cfg.RoutingDefaultCapacity)
	routingQueue := queue.New(db, queue.Config{
		BaseDelay:   cfg.RoutingBaseDelay,
		MaxDelay:    cfg.RoutingMaxDelay,
		MaxAttempts: cfg.RoutingMaxAttempts,
	})
	historyLog := history.NewLog(db)

	// External dependencies
	clientOpts := leadclient.Options{
		Timeout:       cfg.DependencyTimeout,
		RatePerSecond: cfg.DependencyRatePerSecond,
		Burst:         cfg.DependencyBurst,
	}
	leadService := leadclient.NewLeadService(cfg.LeadServiceURL, clientOpts)
	directory := leadclient.NewDirectory(cfg.DirectoryServiceURL, clientOpts)

	service := leadassignment.NewService(leadassignment.Deps{
		Rules:       ruleStore,
		Territories: territories,
		Workload:    tracker,
		Queue:       routingQueue,
		History:     historyLog,
		Leads:       leadService,
		Users:       directory,
		Metrics:     prometheusMetrics,
		Logger:      appLogger.With("component", "leadassignment"),
	})

	reporter := alerting.NewSentryReporter(nil, appLogger)

	coord := coordinator.New(coordinator.Deps{
		Queue:    routingQueue,
		Selector: evaluator.New(ruleStore, tracker, territories),
		Workload: tracker,
		History:  historyLog,
		Cursors:  ruleStore,
		Leads:    leadService,
		Reporter: reporter,
		Metrics:  prometheusMetrics,
		Logger:   appLogger.With("component", "coordinator"),
	}, coordinator.Config{
		BatchSize:         cfg.RoutingBatchSize,
		Concurrency:       cfg.RoutingConcurrency,
		DependencyTimeout: cfg.DependencyTimeout,
	})

	var wg sync.WaitGroup

	pool := coordinator.NewPool(coord, directory, cfg.RoutingWorkers, cfg.RoutingPollInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	monitor := jobs.NewMonitor(routingQueue, tracker, directory, reporter, prometheusMetrics, appLogger.With("component", "jobs"), cfg.RoutingStallTimeout)
	cronManager := jobs.NewCronManager(monitor, appLogger.With("component", "cron"))
	if err := cronManager.SetupJobs(jobs.Schedules{
		Reaper:       cfg.ReaperSchedule,
		WorkloadSync: cfg.WorkloadSyncSchedule,
		QueueGauges:  cfg.QueueGaugeSchedule,
	}); err != nil {
		log.Fatalf("❌ Failed to setup cron jobs: %v", err)
	}
	cronManager.Start()
	defer cronManager.Stop()

	if cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Fatalf("❌ Failed to open RabbitMQ channel: %v", err)
		}
		defer ch.Close()

		consumer := intake.NewConsumer(ch, cfg.IntakeQueue, service, prometheusMetrics, appLogger.With("component", "intake"))
		if err := consumer.SetupTopology(); err != nil {
			log.Fatalf("❌ Failed to declare intake topology: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx, cfg.RoutingBatchSize); err != nil {
				appLogger.Error("intake consumer stopped", "error", err)
				stop()
			}
		}()
	} else {
		log.Printf("ℹ️  Intake consumer disabled (no RABBITMQ_URL configured)")
	}

	// HTTP API
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(prometheusMetrics.Middleware())

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	go rateLimiter.Cleanup(ctx, 3*time.Minute)

	e.GET("/health", func(c echo.Context) error {
		checkCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up"}
		code := http.StatusOK
		if err := db.Ping(checkCtx); err != nil {
			status["status"], status["database"], code = "unhealthy", "down", http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["cache"] = "up"
			if err := redisClient.Redis.Ping(checkCtx).Err(); err != nil {
				status["status"], status["cache"], code = "unhealthy", "down", http.StatusServiceUnavailable
			}
		}
		prometheusMetrics.UpdateDBConnections(float64(db.Stats().OpenConnections))
		return c.JSON(code, status)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tenants := e.Group("/api/v1/tenants/:tenant_id", rateLimiter.RateLimitMiddleware())
	handlers.NewLeadAssignmentHandler(service).RegisterRoutes(tenants)
	handlers.NewTerritoryHandler(service).RegisterRoutes(tenants)

	go func() {
		addr := cfg.APIHost + ":" + cfg.APIPort
		log.Printf("🚀 Lead routing API listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}
	wg.Wait()
	log.Printf("✅ Shutdown complete")
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.Client, error) {
	if cfg.DBDriver == "sqlite3" {
		return database.OpenSQLite(ctx, cfg.DatabaseURL)
	}
	return database.NewClient(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	})
}
