// Package main provides the main entry point for the dispatchd campaign dispatch service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/textlane/dispatchd/app/dispatch"
	"github.com/textlane/dispatchd/app/handlers"
	"github.com/textlane/dispatchd/app/router"
	businessflow "github.com/textlane/dispatchd/business_flow"
	"github.com/textlane/dispatchd/config"
	"github.com/textlane/dispatchd/repository"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting dispatchd...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics)
	}

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers before closing the HTTP surface
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s:%d (db=%d)", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	return rc, nil
}

// newDispatchLogger builds the dispatcher's logger: stdout plus a rotating
// file so dispatch history survives restarts.
func newDispatchLogger(cfg config.LoggingConfig) *log.Logger {
	var w io.Writer = os.Stdout
	if cfg.FilePath != "" && cfg.Output != "stdout" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if cfg.Output == "both" {
			w = io.MultiWriter(os.Stdout, rotating)
		} else {
			w = rotating
		}
	}
	return log.New(w, "dispatch ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// initializeGateway picks the SMS gateway client from configuration
func initializeGateway(cfg config.GatewayConfig) dispatch.Gateway {
	if cfg.UseMock {
		log.Println("Using mock SMS gateway")
		return dispatch.NewMockGateway(cfg.MockFailEvery)
	}
	return dispatch.NewHTTPGateway(cfg)
}

func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	queueRepo := repository.NewQueueEntryRepository(db)
	deliveryRepo := repository.NewDeliveryRecordRepository(db)
	contactRepo := repository.NewContactRepository(db)
	dncRepo := repository.NewDNCRepository(db)

	// Initialize dispatch core
	dispatchLogger := newDispatchLogger(cfg.Logging)

	var (
		lease  dispatch.Lease
		events dispatch.StatusPublisher
	)
	if rc != nil {
		lease = dispatch.NewRedisLease(rc, cfg.Cache.RedisPrefix)
		events = dispatch.NewRedisPublisher(rc, cfg.Cache.RedisPrefix, dispatchLogger)
	} else {
		log.Println("Cache disabled; falling back to in-process lease, status events are dropped")
		lease = dispatch.NewLocalLease()
		events = dispatch.NoopPublisher{}
	}

	gateway := initializeGateway(cfg.Gateway)
	machine := dispatch.NewMachine(queueRepo, events)
	resolver := dispatch.NewResolver(contactRepo, dncRepo)

	dispatcher := dispatch.NewDispatcher(
		queueRepo,
		campaignRepo,
		deliveryRepo,
		gateway,
		lease,
		machine,
		cfg.Dispatch,
		dispatchLogger,
	)
	stopDispatcher := dispatcher.Start(context.Background())
	stopFuncs = append(stopFuncs, stopDispatcher)

	// Initialize flows
	campaignFlow := businessflow.NewCampaignFlow(campaignRepo, contactRepo, db)
	queueFlow := businessflow.NewQueueFlow(
		queueRepo,
		campaignRepo,
		deliveryRepo,
		resolver,
		machine,
		dispatcher,
		db,
	)

	// Initialize handlers and router
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)
	queueHandler := handlers.NewQueueHandler(queueFlow)
	receiptHandler := handlers.NewReceiptHandler(queueFlow)

	r := router.NewFiberRouter(cfg, campaignHandler, queueHandler, receiptHandler)

	return &Application{
		router:    r,
		config:    cfg,
		server:    r.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}

// serveMetrics exposes prometheus metrics on a dedicated port
func serveMetrics(cfg config.MetricsConfig) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	address := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Metrics server starting on %s%s", address, cfg.Path)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}
