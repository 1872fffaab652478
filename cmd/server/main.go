package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appaccounting "github.com/vritti/backend/internal/application/accounting"
	"github.com/vritti/backend/internal/infrastructure/auth"
	"github.com/vritti/backend/internal/infrastructure/cache"
	"github.com/vritti/backend/internal/infrastructure/config"
	"github.com/vritti/backend/internal/infrastructure/crypto"
	"github.com/vritti/backend/internal/infrastructure/logger"
	"github.com/vritti/backend/internal/infrastructure/persistence"
	"github.com/vritti/backend/internal/infrastructure/quickbooks"
	"github.com/vritti/backend/internal/infrastructure/syncrun"
	"github.com/vritti/backend/internal/interfaces/http/handler"
	"github.com/vritti/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting sync backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize Redis (OAuth state store, readiness probe)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	cancelPing()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()
	log.Info("Redis connected successfully")

	// Token cipher for OAuth tokens at rest
	cipher, err := crypto.NewAESTokenCipher(cfg.Crypto.TokenKey)
	if err != nil {
		log.Fatal("Failed to initialize token cipher", zap.Error(err))
	}

	// Initialize repositories
	connRepo := persistence.NewGormConnectionRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	vendorMappingRepo := persistence.NewGormVendorMappingRepository(db.DB)
	mappingConfigRepo := persistence.NewGormMappingConfigRepository(db.DB)
	syncRepo := persistence.NewGormSyncRecordRepository(db.DB)

	stateStore := cache.NewRedisStateStoreWithClient(redisClient, "")

	// QuickBooks transport
	oauthClient := quickbooks.NewOAuthClient(&cfg.OAuth, log)
	qbCfg := quickbooks.NewQuickBooksConfig()
	if cfg.App.Env != "production" {
		qbCfg = quickbooks.NewSandboxQuickBooksConfig()
	}
	platform, err := quickbooks.NewQuickBooksAdapter(qbCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize QuickBooks adapter", zap.Error(err))
	}

	// Initialize application services
	credentialService := appaccounting.NewCredentialService(
		connRepo, oauthClient, cipher, stateStore,
		appaccounting.CredentialConfig{
			RefreshSkew:        cfg.OAuth.RefreshSkew,
			MaxRefreshFailures: cfg.OAuth.MaxRefreshFailures,
			StateTTL:           cfg.OAuth.StateTTL,
		},
		log,
	)
	mappingService := appaccounting.NewMappingService(vendorMappingRepo, mappingConfigRepo, log)
	dedupService := appaccounting.NewDedupService(syncRepo, platform, log)
	statusService := appaccounting.NewStatusService(syncRepo)

	gate := syncrun.NewTenantRateGate(cfg.RateLimit.CallsPerSecond, cfg.RateLimit.Burst)
	breaker := syncrun.NewTenantBreaker(syncrun.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		Cooldown:         cfg.Breaker.Cooldown,
	}, log)
	backoff := syncrun.ExponentialBackoff{
		Base:     cfg.Sync.BackoffBase,
		Cap:      cfg.Sync.BackoffCap,
		Attempts: cfg.Sync.MaxAttempts,
	}
	vendorLocks := syncrun.NewKeyLockRegistry()

	syncService := appaccounting.NewSyncService(
		syncRepo, invoiceRepo, vendorMappingRepo,
		credentialService, mappingService, dedupService,
		platform, gate, breaker, backoff, vendorLocks,
		appaccounting.SyncConfig{
			CallTimeout: cfg.Sync.CallTimeout,
			// A record is only stale once the dispatcher's attempt deadline
			// has long since passed.
			StaleAttemptAfter: 2 * cfg.Sync.AttemptTimeout,
		},
		log,
	)

	// Worker pool. The dispatcher executes attempts via the sync service and
	// the sync service enqueues follow-up work via the dispatcher, so the
	// queue is wired after construction.
	dispatcher := syncrun.NewDispatcher(syncrun.DispatcherConfig{
		Workers:           cfg.Sync.Workers,
		QueueDepth:        cfg.Sync.QueueDepth,
		AttemptTimeout:    cfg.Sync.AttemptTimeout,
		RetryPollInterval: cfg.Sync.RetryPollInterval,
		RetryPollBatch:    cfg.Sync.RetryPollBatch,
	}, syncService, log)
	syncService.SetQueue(dispatcher)

	if err := dispatcher.Start(context.Background()); err != nil {
		log.Fatal("Failed to start sync dispatcher", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			log.Error("Error stopping sync dispatcher", zap.Error(err))
		}
	}()
	log.Info("Sync dispatcher started",
		zap.Int("workers", cfg.Sync.Workers),
		zap.Duration("retry_poll_interval", cfg.Sync.RetryPollInterval),
	)

	// HTTP layer
	jwtService := auth.NewJWTService(cfg.JWT)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.Setup(router.Config{
		Logger:            log,
		JWTService:        jwtService,
		HTTP:              cfg.HTTP,
		SystemHandler:     handler.NewSystemHandler(db, redisClient),
		ConnectionHandler: handler.NewConnectionHandler(credentialService),
		SyncHandler:       handler.NewSyncHandler(syncService, statusService),
	})

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
