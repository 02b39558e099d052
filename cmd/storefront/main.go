package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_store/internal/config"
	"github.com/fjod/go_store/internal/consumer"
	"github.com/fjod/go_store/internal/domain"
	h "github.com/fjod/go_store/internal/http"
	"github.com/fjod/go_store/internal/inventory"
	"github.com/fjod/go_store/internal/lock"
	"github.com/fjod/go_store/internal/logger"
	"github.com/fjod/go_store/internal/order"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/publisher"
	"github.com/fjod/go_store/internal/repository"
	"github.com/fjod/go_store/internal/service"
	"github.com/fjod/go_store/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("store", cfg.Store).Msg("storefront starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up order locks")
	}
	defer closeLocker()

	gateways, err := newGateways(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure payment providers")
	}
	log.Info().Strs("providers", gateways.Names()).Msg("payment providers ready")

	codes, err := order.NewCodeGenerator(cfg.Orders.CodeMin, cfg.Orders.CodeMax, cfg.Orders.CodeRandomAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid order code range")
	}

	checkoutService := service.NewCheckoutService(
		st,
		inventory.NewLedger(st, log),
		order.NewBuilder(codes),
		gateways,
		locker,
		log,
	)

	// Background workers: outbox -> Kafka -> notifications
	var workers sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(st, log, cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		defer poller.Close()
		notifications := consumer.NewNotificationConsumer(consumer.NewLogNotifier(log), log,
			cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
		defer notifications.Close()

		workers.Add(2)
		go func() {
			defer workers.Done()
			poller.Run(ctx)
		}()
		go func() {
			defer workers.Done()
			notifications.Run(ctx)
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("outbox publishing enabled")
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	router := h.NewRouter(checkoutService, h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// gRPC health for orchestrators
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("failed to serve")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcServer.GracefulStop()

	cancel()
	workers.Wait()
	log.Info().Msg("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		s := store.NewMemoryStore()
		if err := seedDemoCatalog(ctx, s); err != nil {
			return nil, nil, err
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return s, func() {}, nil
	}

	creds := &repository.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		SSLMode:           cfg.DB.SSLMode,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds, log)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, nil, err
	}
	log.Info().Msg("database migrations completed")

	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database")
		}
	}, nil
}

func seedDemoCatalog(ctx context.Context, s *store.MemoryStore) error {
	variants := []domain.ProductVariant{
		{ProductID: 1, CapacityID: 1, Name: "Arabica beans 250g", Price: decimal.NewFromInt(120000), Quantity: 50, Active: true},
		{ProductID: 1, CapacityID: 2, Name: "Arabica beans 1kg", Price: decimal.NewFromInt(420000), SalePercent: 10, Quantity: 20, Active: true},
		{ProductID: 2, Name: "Pour-over kettle", Price: decimal.NewFromInt(650000), Quantity: 5, Active: true},
	}
	for i := range variants {
		if err := s.UpsertVariant(ctx, &variants[i]); err != nil {
			return err
		}
	}
	return nil
}

func newLocker(ctx context.Context, cfg *config.Config, log zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("REDIS_ADDR not set, order locks are local to this process")
		return lock.NewKeyedMutex(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

	locker := lock.NewRedisLocker(client, lock.RedisConfig{
		TTL:         cfg.Lock.TTL,
		WaitTimeout: cfg.Lock.WaitTimeout,
	}, log)
	return locker, func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}, nil
}

func newGateways(cfg *config.Config, log zerolog.Logger) (*payment.Registry, error) {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	var gateways []payment.Gateway

	if cfg.VNPay.Enabled {
		vnpay, err := payment.NewVNPay(cfg.VNPay.VNPayConfig,
			payment.NewCaller(payment.ProviderVNPay, client, cfg.Provider.CallerConfig(), log))
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, vnpay)
	}
	if cfg.MoMo.Enabled {
		momo, err := payment.NewMoMo(cfg.MoMo.MoMoConfig,
			payment.NewCaller(payment.ProviderMoMo, client, cfg.Provider.CallerConfig(), log))
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, momo)
	}
	if len(gateways) == 0 {
		log.Warn().Msg("no payment provider enabled, only cash on delivery orders can be placed")
	}
	return payment.NewRegistry(gateways...), nil
}
