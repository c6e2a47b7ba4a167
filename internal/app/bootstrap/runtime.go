package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/adapters/tdjson"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// publisher is an event publisher that owns broker resources.
type publisher interface {
	ports.EventPublisher
	Close() error
}

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m31 telegram login service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"session_dir", cfg.SessionDir,
	)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		db          *gorm.DB
		repos       postgres.Repositories
		redisClient *redis.Client
	)
	if cfg.DatabaseURL != "" {
		db, err = postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gorm sql db: %w", err)
		}
		closers = append(closers, func() { _ = sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			cleanup()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		repos = postgres.NewRepositories(db)
	} else {
		logger.Warn("DB_URL not set; session history and event outbox disabled")
	}

	if cfg.RedisURL != "" {
		redisClient, err = cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
	} else {
		logger.Warn("REDIS_URL not set; submission lockout disabled")
	}

	var pub publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		pub = kafkaPub
	} else {
		pub = eventadapter.NewLoggingPublisher(logger)
	}
	closers = append(closers, func() { _ = pub.Close() })

	factory := tdjson.NewFactory(tdjson.FactoryConfig{
		BridgeURL:   cfg.TdlibBridgeURL,
		DialTimeout: cfg.TdlibDialTimeout,
		Retry:       tdjson.DefaultRetryConfig(),
		Logger:      logger,
	})
	registry := application.NewRegistry(factory, application.RegistryConfig{
		SessionDir: cfg.SessionDir,
		Parameters: ports.TdlibParameters{
			UseTestDC:          cfg.UseTestDC,
			UseFileDatabase:    true,
			UseChatInfoDB:      true,
			UseMessageDatabase: true,
			UseSecretChats:     true,
			SystemLanguageCode: cfg.SystemLanguageCode,
			DeviceModel:        cfg.DeviceModel,
			SystemVersion:      cfg.SystemVersion,
			ApplicationVersion: cfg.ApplicationVersion,
		},
		Timeouts: application.Timeouts{
			InitialProbe: cfg.InitialProbeTimeout,
			StepWait:     cfg.StepWaitTimeout,
			ResumeWait:   cfg.ResumeWaitTimeout,
			Probe:        cfg.ProbeTimeout,
		},
		Logger: logger,
	})

	deps := application.Dependencies{
		Config: application.Config{
			FailedSubmitThreshold: cfg.FailedThreshold,
			LockoutDuration:       cfg.LockoutDuration,
			OperationTimeout:      cfg.OperationTimeout,
		},
		Registry: registry,
		Logger:   logger,
	}
	if db != nil {
		deps.History = repos.Sessions
		deps.Attempts = repos.LoginAttempts
		deps.Outbox = repos.Outbox
	}
	if redisClient != nil {
		deps.Lockouts = cacheadapter.NewRedisLockoutStore(redisClient)
	}
	svc := application.NewService(deps)

	handler := httpadapter.NewHandler(svc, cfg.AppVersion)
	if db != nil {
		handler.AddReadinessCheck("postgres", func(ctx context.Context) error { return postgres.Ping(ctx, db) })
	}
	if redisClient != nil {
		handler.AddReadinessCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewTelegramSessionInternalServer(svc))

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	var outbox *eventadapter.OutboxWorker
	if db != nil {
		outbox = eventadapter.NewOutboxWorker(logger, repos.Outbox, pub, eventadapter.OutboxWorkerConfig{
			Interval:   cfg.OutboxPollInterval,
			BatchSize:  cfg.OutboxBatchSize,
			ClaimTTL:   cfg.OutboxClaimTTL,
			MaxRetries: cfg.OutboxMaxRetries,
		})
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	closed := r.service.CloseAllSessions(shutdownCtx)
	r.logger.Info("sessions closed", "count", closed)
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	if r.outbox == nil {
		r.cleanupFn(ctx)
		return errors.New("outbox worker requires DB_URL")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = r.grpcLis.Close()
	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
