package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/config"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/handlers"
	"github.com/ekaya-inc/signportal/pkg/logging"
	"github.com/ekaya-inc/signportal/pkg/middleware"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/retry"
	"github.com/ekaya-inc/signportal/pkg/services"
	"github.com/ekaya-inc/signportal/pkg/storage"
	"github.com/ekaya-inc/signportal/pkg/tracking"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("sequence_backend", cfg.Tracking.SequenceBackend))

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(stdlib.OpenDBFromPool(db.Pool), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger.Named("redis"))
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	blobs, err := storage.New(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}
	if closer, ok := blobs.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	sequence, err := trackingSequence(cfg.Tracking, redisClient)
	if err != nil {
		return err
	}
	trackingNumbers, err := tracking.NewGenerator(cfg.Tracking.Prefix, sequence)
	if err != nil {
		return err
	}

	// Auth
	issuer, err := auth.NewIssuer(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}
	if cfg.Auth.SigningKey == "" {
		logger.Warn("AUTH_SIGNING_KEY not set; issued tokens will not survive a restart")
	}
	validator, err := auth.NewJWKSValidator(ctx, &auth.ValidatorConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		LocalIssuer:        issuer.Name(),
		LocalKey:           issuer.Key(),
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("create token validator: %w", err)
	}
	defer validator.Close()

	sessions, err := auth.NewSessionStore(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL,
		auth.DeriveCookieSettings(cfg.BaseURL, cfg.Auth.CookieDomain))
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	auditor := audit.NewSecurityAuditor(logger)
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(validator, sessions, logger), auditor, logger)

	// Repositories and services
	userRepo := repositories.NewUserRepository()
	docRepo := repositories.NewDocumentRepository()
	stageRepo := repositories.NewWorkflowStageRepository()
	versionRepo := repositories.NewVersionRepository()
	tx := database.NewTransactor(logger)
	access := services.NewAccessResolver(cfg.Workflow.AllowEscalation)

	userService := services.NewUserService(userRepo, auditor, 0, logger)
	workflowService := services.NewWorkflowService(docRepo, stageRepo, userRepo, access, tx, auditor, logger)
	versionService := services.NewVersionService(docRepo, stageRepo, versionRepo, workflowService, access, blobs, tx, auditor, logger)
	documentService := services.NewDocumentService(services.DocumentServiceDeps{
		Documents:           docRepo,
		Stages:              stageRepo,
		Versions:            versionRepo,
		Workflow:            workflowService,
		Access:              access,
		Tracking:            trackingNumbers,
		Blobs:               blobs,
		Tx:                  tx,
		Auditor:             auditor,
		MaxTrackingAttempts: cfg.Tracking.MaxAttempts,
	}, logger)

	if err := bootstrapAdmin(ctx, db, userService, cfg.Bootstrap, logger); err != nil {
		return err
	}

	// HTTP
	mux := http.NewServeMux()
	scope := handlers.Scope(database.WithScope(db, logger))
	handlers.NewHealthHandler(cfg, healthChecks(db, redisClient), logger.Named("health")).RegisterRoutes(mux)
	handlers.NewAuthHandler(userService, issuer, sessions, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewUsersHandler(userService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewDocumentsHandler(documentService, versionService, cfg.Server.MaxUploadBytes, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewVersionsHandler(versionService, cfg.Server.MaxUploadBytes, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewWorkflowHandler(workflowService, logger).RegisterRoutes(mux, authMiddleware, scope)

	var handler http.Handler = mux
	handler = middleware.CORS(cfg.AllowedOrigins())(handler)
	handler = middleware.RequestLogger(logger.Named("http"))(handler)

	server := &http.Server{
		Addr:         cfg.BindAddr + ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting signportal", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// trackingSequence picks the persistent counter behind tracking numbers.
// healthChecks lists the backing services reported by GET /ping.
func healthChecks(db *database.DB, redisClient *redis.Client) []handlers.DependencyCheck {
	checks := []handlers.DependencyCheck{{Name: "postgres", Pinger: db.Pool}}
	if redisClient != nil {
		checks = append(checks, handlers.DependencyCheck{Name: "redis", Pinger: database.RedisPinger{Client: redisClient}})
	}
	return checks
}

func trackingSequence(cfg config.TrackingConfig, redisClient *redis.Client) (tracking.Sequence, error) {
	switch cfg.SequenceBackend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("tracking.sequence_backend is redis but REDIS_HOST is not set")
		}
		return tracking.NewRedisSequence(redisClient), nil
	default:
		return repositories.NewTrackingSequenceRepository(), nil
	}
}

func bootstrapAdmin(ctx context.Context, db *database.DB, users services.UserService, cfg config.BootstrapConfig, logger *zap.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}

	scopedCtx, release, err := db.ScopedContext(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for bootstrap: %w", err)
	}
	defer release()

	admin, err := users.EnsureBootstrapAdmin(scopedCtx, services.CreateUserRequest{
		Email:    cfg.AdminEmail,
		Name:     cfg.AdminName,
		Role:     models.RoleAdmin,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		return err
	}
	if admin == nil {
		logger.Debug("Bootstrap administrator not needed")
	}
	return nil
}
