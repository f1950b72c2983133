package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/vvmafra/EnerTradeZK/libs/health"
	"github.com/vvmafra/EnerTradeZK/libs/httpmiddleware"
	"github.com/vvmafra/EnerTradeZK/libs/kafka"
	"github.com/vvmafra/EnerTradeZK/libs/logging"
	"github.com/vvmafra/EnerTradeZK/libs/metrics"
	"github.com/vvmafra/EnerTradeZK/libs/trace"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/config"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/events"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/handlers"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/payment"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/rate"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/service"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/storage"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/verifier"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(registry)
	exchangeMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ready.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	paymentToken, err := buildPayment(cfg, redisClient)
	if err != nil {
		logger.Error("payment adapter init failed", "error", err)
		os.Exit(1)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Verifier.Address != "" {
		opts = append(opts, engine.WithVerifier(verifier.NewStatic(engine.MustAddress(cfg.Verifier.Address), cfg.Verifier.Accept)))
	}

	var snapshot *engine.Snapshot
	if cfg.DB.Enabled {
		pool, err := connectDB(cfg)
		if err != nil {
			logger.Error("db connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := storage.New(pool, logger)
		snap, err := loadState(store)
		if err != nil {
			logger.Error("load exchange state failed", "error", err)
			os.Exit(1)
		}
		snapshot = &snap
		opts = append(opts, engine.WithJournal(store))
		ready.AddCheck("postgres", store.Ping)
	} else {
		logger.Warn("database disabled; exchange state is not persisted")
	}

	exchange := engine.New(paymentToken, opts...)
	if snapshot != nil {
		if err := exchange.Restore(*snapshot); err != nil {
			logger.Error("restore exchange state failed", "error", err)
			os.Exit(1)
		}
	}

	var publisher service.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		}, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		var out kafka.Publisher = producer
		if cfg.Kafka.Topics.DeadLetter != "" {
			out = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger, kafkaMetrics)
		}
		publisher = events.NewPublisher(out, cfg.Kafka.Topics.Listings, logger)
	} else {
		logger.Warn("kafka brokers not configured; listing events are not published")
	}

	exchangeService := service.NewExchangeService(exchange, publisher, logger, exchangeMetrics)
	if snapshot != nil {
		exchangeService.ReportPending(snapshot.Pending)
	}

	var mutate []gin.HandlerFunc
	if cfg.RateLimit.Limit > 0 {
		mutate = append(mutate, rate.Middleware(buildLimiter(cfg, redisClient), logger))
	}

	var faucet *handlers.FaucetHandler
	if f, ok := paymentToken.(payment.Faucet); ok && cfg.App.Env == "dev" {
		faucet = handlers.NewFaucet(f, logger)
		logger.Warn("dev token faucet enabled", "path", "/dev/token")
	}

	httpServer := buildHTTPServer(cfg, ready, registry, httpMetrics, handlers.New(exchangeService, logger), faucet, mutate, logger)

	ready.SetReady(true)

	go func() {
		logger.Info("exchange http starting",
			"addr", httpServer.Addr,
			"payment_token", exchange.PaymentToken(),
			"active_listings", exchangeService.Stats().ActiveListings,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func buildPayment(cfg *config.Config, client *redis.Client) (engine.TokenTransferAdapter, error) {
	token, err := engine.ParseAddress(cfg.Payment.TokenAddress)
	if err != nil {
		return nil, err
	}
	spender, err := engine.ParseAddress(cfg.Payment.ExchangeAddress)
	if err != nil {
		return nil, err
	}
	switch cfg.Payment.Adapter {
	case config.PaymentRedis:
		if client == nil {
			return nil, fmt.Errorf("redis client required for the redis payment adapter")
		}
		return payment.NewRedisToken(client, token, spender, cfg.Payment.Prefix), nil
	default:
		return payment.NewMemoryToken(token, spender), nil
	}
}

func buildLimiter(cfg *config.Config, client *redis.Client) rate.Limiter {
	if client != nil {
		return rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Prefix)
	}
	return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}

func loadState(store *storage.Store) (engine.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	return store.LoadSnapshot(ctx)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, httpMetrics *metrics.HTTP, h *handlers.Handler, faucet *handlers.FaucetHandler, mutate []gin.HandlerFunc, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger, httpMetrics))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	h.Register(router, []byte(cfg.JWT.Secret), mutate...)
	if faucet != nil {
		faucet.Register(router, []byte(cfg.JWT.Secret))
	}

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
