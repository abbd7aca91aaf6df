package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/config"
	"github.com/papersim/internal/handler"
	"github.com/papersim/internal/messaging"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/repository"
	"github.com/papersim/internal/service"
	"github.com/papersim/internal/worker"
	"github.com/redis/go-redis/v9"
)

func serve(cfg *config.Config) error {
	if err := middleware.InitLogger(cfg.Log.Dir, cfg.Log.Debug); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := autoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Initialize Redis
	rdb := initRedis(cfg)

	m := metrics.New()
	store := repository.NewStore(db)
	locker := service.NewAccountLocker()

	// Initialize services
	priceService := service.NewPriceService(rdb)
	authService := service.NewAuthService(cfg.JWT)
	monitor := service.NewThresholdMonitor(store, priceService, locker, m)

	settlementService := service.NewSettlementService(store, priceService, locker, m)
	settlementService.SetThresholdMonitor(monitor)
	settlementService.SetFlattenPolicy(cfg.Simulation.FlattenMaxAttempts, cfg.Simulation.FlattenBackoff())

	marginService := service.NewMarginService(store, locker, m, monitor)
	clockService := service.NewClockService(store, locker, m, monitor)
	if cfg.Simulation.MarketHours.Enabled {
		loc, open, closeAt, err := cfg.Simulation.MarketHours.Parse()
		if err != nil {
			return err
		}
		clockService.SetMarketSession(service.NewMarketSession(loc, open, closeAt))
		log.Printf("[Clock] Market hours %s-%s %s", cfg.Simulation.MarketHours.Open, cfg.Simulation.MarketHours.Close, loc)
	}
	accountService := service.NewAccountService(store, locker, cfg.Defaults, m, monitor)

	// Event sinks
	hub := handler.NewStreamHub()
	sinks := []messaging.EventSink{hub}
	var kafkaPublisher *messaging.KafkaPublisher
	if cfg.Kafka.Enabled() {
		kafkaPublisher = messaging.NewKafkaPublisher(cfg.Kafka)
		sinks = append(sinks, kafkaPublisher)
	} else {
		sinks = append(sinks, messaging.LogPublisher{})
	}

	// Workers
	clockWorker := worker.NewClockWorker(store, clockService, monitor, cfg.Simulation.TickInterval())
	clockWorker.AddListener(hub)
	outboxRelay := worker.NewOutboxRelay(store, m, cfg.Simulation.OutboxPollInterval(), cfg.Simulation.OutboxBatchSize, sinks...)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(accountService, marginService)
	tradingHandler := handler.NewTradingHandler(settlementService, accountService, priceService)
	clockHandler := handler.NewClockHandler(clockService)
	priceHandler := handler.NewPriceHandler(priceService)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(corsMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		authMiddleware := middleware.AuthMiddleware(authService)

		accountHandler.RegisterRoutes(v1, authMiddleware)
		tradingHandler.RegisterRoutes(v1, authMiddleware)
		clockHandler.RegisterRoutes(v1, authMiddleware)
		priceHandler.RegisterRoutes(v1, authMiddleware)
		hub.RegisterRoutes(v1, authMiddleware)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start price service
	if err := priceService.Start(context.Background()); err != nil {
		log.Printf("Warning: Failed to start price service: %v", err)
	}

	go clockWorker.Start()
	go outboxRelay.Start()

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	clockWorker.Stop()
	outboxRelay.Stop()
	priceService.Stop()

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Printf("Error closing Kafka writer: %v", err)
		}
	}

	// Close Redis connection
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}

	log.Println("Server exited properly")
	return nil
}

func initRedis(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
