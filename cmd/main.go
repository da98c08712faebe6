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

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/config"
	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/handler"
	"github.com/andressep95/broker-auth-service/internal/handler/middleware"
	"github.com/andressep95/broker-auth-service/internal/probe"
	"github.com/andressep95/broker-auth-service/internal/repository/sqlstore"
	"github.com/andressep95/broker-auth-service/internal/service"
	"github.com/andressep95/broker-auth-service/internal/verification"
	"github.com/andressep95/broker-auth-service/pkg/broker"
	"github.com/andressep95/broker-auth-service/pkg/email"
	"github.com/andressep95/broker-auth-service/pkg/hash"
	"github.com/andressep95/broker-auth-service/pkg/jwt"
	"github.com/andressep95/broker-auth-service/pkg/kvstore"
	"github.com/andressep95/broker-auth-service/pkg/logger"
	"github.com/andressep95/broker-auth-service/pkg/metrics"
	"github.com/andressep95/broker-auth-service/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Database holds issue history, reports and optionally the session key
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), zl, sqlstore.OpenOptions{})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			zl.Warn("error closing database connection", zap.Error(err))
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = initRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				zl.Warn("error closing redis connection", zap.Error(err))
			}
		}()
		zl.Info("redis connection established", zap.String("addr", cfg.Redis.Addr()))
	}

	kv, readiness := initSessionBackend(cfg, db, redisClient)
	zl.Info("session backend selected", zap.String("backend", cfg.Session.Backend))

	stateSecret := []byte(cfg.Session.StateSecret)
	if len(stateSecret) == 0 {
		// A per-process secret still protects the round trip; states die with the process
		token, err := hash.NewToken()
		if err != nil {
			return err
		}
		stateSecret = []byte(token)
		zl.Warn("SESSION_STATE_SECRET not set, using an ephemeral secret")
	}
	signer, err := jwt.NewStateSigner(stateSecret, cfg.Session.StateExpiry, "broker-auth-service")
	if err != nil {
		return fmt.Errorf("failed to initialize state signer: %w", err)
	}

	m := metrics.New()
	validate := validator.NewValidator()

	sessions := service.NewSessionStore(kv, signer, service.NewKeyedMutex(), zl, service.SessionStoreOptions{
		Key:        cfg.Session.StorageKey,
		BrokerName: cfg.Session.BrokerName,
	})
	kite := broker.NewClient(cfg.Broker.APIBaseURL, cfg.Broker.LoginURL, cfg.Broker.Timeout)
	oauthService := service.NewOAuthService(sessions, kite, m, zl)

	issueRepo := sqlstore.NewIssueRepository(db)
	reportRepo := sqlstore.NewReportRepository(db)
	classifier := service.NewIssueClassifier(issueRepo, zl)

	httpClient := &http.Client{Timeout: cfg.Verification.ProbeTimeout}
	verifier := service.NewVerificationService(
		classifier,
		service.NewReportGenerator(),
		reportRepo,
		m,
		initNotifier(cfg, zl),
		zl,
		service.VerificationOptions{
			Deadline:       cfg.Verification.Deadline,
			MaxRetries:     uint64(cfg.Verification.MaxRetries),
			RetryBaseDelay: cfg.Verification.RetryBaseDelay,
			RetryMaxDelay:  cfg.Verification.RetryMaxDelay,
			Parallelism:    cfg.Verification.Parallelism,
			HTTPClient:     httpClient,
		},
	)

	planFile := verification.DefaultFile(cfg.Verification.BackendURL, cfg.Verification.FrontendURL)
	if cfg.Verification.PlanPath != "" {
		planFile, err = verification.Load(cfg.Verification.PlanPath)
		if err != nil {
			return fmt.Errorf("failed to load verification plan: %w", err)
		}
	} else if redisClient != nil {
		planFile.Probes = append(planFile.Probes, verification.ProbeSpec{
			Name: "session cache", Type: verification.ProbeRedis, Component: domain.ComponentDatabase,
		})
	}
	deps := verification.Deps{
		DB:         db,
		HTTPClient: httpClient,
		ProbeOptions: probe.Options{
			Timeout:         cfg.Verification.ProbeTimeout,
			DegradedLatency: cfg.Verification.DegradedLatency,
		},
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	plans := func() (*verification.Plan, error) { return planFile.Build(deps) }

	// Reject a broken plan at startup rather than on the first run
	if _, err := plans(); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "Broker Auth Service",
		ErrorHandler: handler.ErrorHandler(zl),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(middleware.RecoveryMiddleware(zl))
	app.Use(middleware.LoggerMiddleware(zl))
	app.Use(middleware.CORSMiddleware(cfg.Server.FrontendOrigin))

	readiness["database"] = db.PingContext
	handler.SetupRoutes(
		app,
		handler.NewBrokerHandler(oauthService, validate, zl),
		handler.NewVerificationHandler(verifier, classifier, plans, validate, zl),
		handler.NewHealthHandler(readiness),
		adaptor.HTTPHandler(m.Handler()),
		middleware.OperatorAuth(cfg.Operator.TokenHash, zl),
	)
	if cfg.Operator.TokenHash == "" {
		zl.Warn("OPERATOR_TOKEN_HASH not set, verification endpoints are disabled")
	}

	if cfg.Verification.ScheduleInterval > 0 {
		go schedule(ctx, verifier, plans, cfg.Verification.ScheduleInterval, zl)
	}

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		zl.Info("server starting", zap.String("addr", addr), zap.String("environment", cfg.Server.Environment))
		if err := app.Listen(addr); err != nil {
			zl.Error("server failed to start", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	zl.Info("server stopped")
	return nil
}

// initRedis initializes the Redis client and verifies the connection
func initRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// initSessionBackend picks the KV surface the session store writes through
func initSessionBackend(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) (kvstore.Store, map[string]handler.ReadinessCheck) {
	checks := map[string]handler.ReadinessCheck{}

	switch cfg.Session.Backend {
	case "redis":
		store := kvstore.NewRedisStore(redisClient, "broker", 0)
		checks["session_store"] = store.Ping
		return store, checks
	case "sql":
		store := sqlstore.NewKVStore(db)
		checks["session_store"] = store.Ping
		return store, checks
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return kvstore.NewMemoryStore(), checks
}

// initNotifier wires failure alerts. Resend wins when both transports are configured.
func initNotifier(cfg *config.Config, zl *zap.Logger) service.ReportNotifier {
	if !cfg.Email.Enabled {
		zl.Info("email alerts disabled (set EMAIL_ENABLED=true to enable)")
		return nil
	}
	if len(cfg.Email.To) == 0 {
		zl.Warn("email alerts enabled but EMAIL_TO is empty")
		return nil
	}

	emailConfig := &email.Config{
		APIKey:     cfg.Email.APIKey,
		WebhookURL: cfg.Email.WebhookURL,
		FromEmail:  cfg.Email.FromEmail,
		FromName:   cfg.Email.FromName,
		Timeout:    cfg.Email.Timeout,
	}

	var (
		sender email.Sender
		err    error
	)
	if cfg.Email.APIKey != "" {
		sender, err = email.NewResendSender(emailConfig)
	} else {
		sender, err = email.NewWebhookSender(emailConfig)
	}
	if err != nil {
		zl.Warn("email alerts disabled", zap.Error(err))
		return nil
	}
	return service.NewEmailNotifier(sender, cfg.Email.To, zl)
}

// schedule runs the plan on a fixed interval until shutdown
func schedule(ctx context.Context, verifier *service.VerificationService, plans handler.PlanSource, every time.Duration, zl *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plan, err := plans()
			if err != nil {
				zl.Error("scheduled verification skipped", zap.Error(err))
				continue
			}
			if _, err := verifier.Run(ctx, plan); err != nil {
				zl.Error("scheduled verification failed", zap.Error(err))
			}
		}
	}
}
