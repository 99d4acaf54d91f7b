package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	"github.com/sakashimaa/marketplace-checkout/internal/transport/http"
	"github.com/sakashimaa/marketplace-checkout/internal/transport/http/handler"
	checkoutKafka "github.com/sakashimaa/marketplace-checkout/internal/transport/kafka"
	"github.com/sakashimaa/marketplace-checkout/pkg/config"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	kafka2 "github.com/sakashimaa/marketplace-checkout/pkg/kafka"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
	outbox "github.com/sakashimaa/marketplace-checkout/pkg/outbox/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/worker"
	"github.com/sakashimaa/marketplace-checkout/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: cfg.Tracing.ServiceName,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Env:         cfg.Env,
	})
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := db.RunMigrations(cfg.Postgres.URL, cfg.Postgres.MigrationsPath); err != nil {
			logger.Fatal("Error running migrations", zap.Error(err))
		}
	}

	pool, err := db.NewPostgresDB(ctx, db.PoolConfig{
		URL:      cfg.Postgres.URL,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	}, logger)
	if err != nil {
		logger.Fatal("Error creating new postgres DB", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("checkout", registry)

	txManager := db.NewTxManager(pool, logger)

	cartRepository := repository.NewCartRepository(logger)
	catalogRepository := repository.NewCatalogRepository(pool, logger)
	ledgerRepository := repository.NewLedgerRepository(pool, logger)
	checkoutRepository := repository.NewCheckoutRepository(logger)
	orderRepository := repository.NewOrderRepository(pool, logger)
	outboxRepository := outbox.NewOutboxRepository(cfg.Outbox.MaxAttempts, logger)

	catalogService := service.NewCatalogService(catalogRepository, logger)
	cachedCatalogService := service.NewCachedCatalogService(catalogService, rdb, cfg.Redis.CatalogTTL, m, logger)
	aggregator := service.NewCheckoutAggregator(cartRepository, service.NewPriceResolver(catalogRepository), logger)

	cartService := service.NewCartService(txManager, cartRepository, cachedCatalogService, aggregator, cfg.Checkout.MaxCartItems, logger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		TxManager:    txManager,
		CartRepo:     cartRepository,
		Aggregator:   aggregator,
		LedgerRepo:   ledgerRepository,
		CheckoutRepo: checkoutRepository,
		OrderRepo:    orderRepository,
		OutboxRepo:   outboxRepository,
		Metrics:      m,
		OrderTopic:   cfg.Kafka.OrderTopic,
	}, logger)
	accountService := service.NewAccountService(orderRepository, ledgerRepository, logger)

	kafkaProducer, err := kafka2.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("Error creating kafka producer", zap.Error(err))
	}

	outboxProcessor := worker.NewOutboxProcessor(txManager, outboxRepository, kafkaProducer, m, worker.Config{
		BatchSize: cfg.Outbox.BatchSize,
		Interval:  cfg.Outbox.Interval,
	}, logger)

	workers := newBackgroundWorkers(logger)
	workers.Go(ctx, "outbox", func(ctx context.Context) error {
		outboxProcessor.Start(ctx)
		return nil
	})

	consumer := checkoutKafka.NewConsumer(cachedCatalogService, txManager, checkoutKafka.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.CatalogTopic,
	}, logger)
	workers.Go(ctx, "catalog-consumer", consumer.Start)

	validate := utils.NewValidator()

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.CheckoutTimeout + cfg.HTTP.Timeout,
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Too many requests. Try again later.",
				"code":    "RATE_LIMITED",
			})
		},
	}))

	handlers := &http.Handlers{
		Cart:     handler.NewCartHandler(cartService, validate, logger),
		Checkout: handler.NewCheckoutHandler(checkoutService, validate, cfg.HTTP.CheckoutTimeout, logger),
		Account:  handler.NewAccountHandler(accountService, logger),
		Health:   handler.NewHealthHandler(pool, logger),
	}

	http.RegisterRoutes(app, handlers, http.RouterConfig{
		AccessSecret: cfg.Auth.AccessSecret,
		Metrics:      m,
		Gatherer:     registry,
	})

	go func() {
		logger.Info("Checkout service listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening HTTP", zap.String("port", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	} else {
		logger.Info("Stopped HTTP server successfully")
	}

	if err := workers.Wait(shutdownCtx); err != nil {
		logger.Error("Background workers did not stop in time", zap.Error(err))
	} else {
		logger.Info("Background workers stopped")
	}

	if err := kafkaProducer.Close(); err != nil {
		logger.Error("Error closing kafka producer", zap.Error(err))
	}

	if err := rdb.Close(); err != nil {
		logger.Error("Error closing redis client", zap.Error(err))
	}

	pool.Close()
	logger.Info("Closed db pool successfully")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping telemetry", zap.Error(err))
	} else {
		logger.Info("Telemetry closed correctly")
	}
}
