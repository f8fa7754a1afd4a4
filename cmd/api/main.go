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

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/background"
	"github.com/BradenHooton/torneo/internal/cache"
	"github.com/BradenHooton/torneo/internal/config"
	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/handlers"
	"github.com/BradenHooton/torneo/internal/metrics"
	middlewareCustom "github.com/BradenHooton/torneo/internal/middleware"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/repositories"
	"github.com/BradenHooton/torneo/internal/routes"
	"github.com/BradenHooton/torneo/internal/services"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	pkglogger "github.com/BradenHooton/torneo/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, db.Pool, logger)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewAccountLockoutRepository(db)
	rateLimitRepo := repositories.NewRateLimitRepository(db)
	securityEventRepo := repositories.NewSecurityEventRepository(db)
	emailVerificationRepo := repositories.NewEmailVerificationRepository(db)

	// Security journal
	auditService := services.NewAuditService(securityEventRepo, pkglogger.NewAuditLogger(logger, cfg.Server.Env), logger)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(auth.TokenConfig{
		Secret:          cfg.Auth.JWTSecret,
		Issuer:          cfg.Auth.Issuer,
		AccessTTL:       cfg.Auth.AccessTokenExpiry,
		RefreshTTL:      cfg.Auth.RefreshTokenExpiry,
		RefreshIPPolicy: cfg.Auth.RefreshIPPolicy,
	}, refreshRepo, revokeRepo, userRepo, auditService, logger)

	var revocationCache *cache.RevocationCache
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedisRevocationCache(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, cfg.Redis.RevocationTTL)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, revocation checks go to postgres", slog.Any("error", err))
		} else {
			revocationCache = rc
			defer revocationCache.Close()
			tokenManager.SetCache(revocationCache)
			logger.Info("revocation cache enabled")
		}
	}

	// Outbound email
	var mailer services.Mailer
	switch cfg.Email.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesMailer, err := services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	default:
		mailer = services.NewLogMailer(logger, cfg.Server.Env)
	}
	asyncMailer := services.NewAsyncNotifier(mailer, services.AsyncConfig{
		Workers:           cfg.Email.Workers,
		QueueSize:         cfg.Email.QueueSize,
		SendRatePerSecond: cfg.Email.SendRatePerSecond,
		SendTimeout:       cfg.Email.SendTimeout,
	}, logger)
	notifier := services.NewMailNotifier(asyncMailer, cfg.Email.VerificationURLBase)

	// Initialize security services
	attemptTracker := services.NewLoginAttemptTracker(loginAttemptRepo, logger)
	lockoutManager := services.NewLockoutManager(lockoutRepo, attemptTracker, notifier, auditService, services.LockoutConfig{
		MaxAttempts:      cfg.Lockout.MaxAttempts,
		FailureWindow:    cfg.Lockout.FailureWindow,
		LockoutDuration:  cfg.Lockout.LockoutDuration,
		CodeValidity:     cfg.Lockout.CodeValidity,
		SendLockoutEmail: cfg.Lockout.SendLockoutEmail,
	}, logger)
	rateLimiter := services.NewRateLimiter(rateLimitRepo, services.DefaultPolicies(models.RateLimitPolicy{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
		Ban:         cfg.RateLimit.Ban,
	}), logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	emailVerificationService := services.NewEmailVerificationService(
		emailVerificationRepo,
		userRepo,
		notifier,
		auditService,
		logger,
		cfg.Email.TokenExpiry,
	)

	authService := services.NewAuthService(userRepo, tokenManager, attemptTracker, lockoutManager, emailVerificationService, auditService, timingDelay, logger)
	adminService := services.NewAdminService(userRepo, lockoutManager, auditService, rateLimiter, logger)

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(authService, emailVerificationService, ipConfig, cfg.Server.Env)
	adminHandler := handlers.NewAdminHandler(adminService, cfg.Server.Env)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Request pipeline
	var limiter middlewareCustom.Limiter = rateLimiter
	if !cfg.RateLimit.Enabled {
		limiter = allowAll{}
		logger.Warn("persistent rate limiting disabled")
	}
	pipeline := &middlewareCustom.Pipeline{
		Sanitize:     middlewareCustom.SanitizeJSON(cfg.Server.MaxBodyBytes),
		RateLimit:    middlewareCustom.NewRateLimiter(limiter, tokenManager, ipConfig).For,
		Authenticate: auth.Authenticate(tokenManager, auth.RevocationConfig{FailClosed: cfg.Auth.RevocationFailClosed}, logger),
		Authorize:    auth.RequireRole,
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.ClientInfo(ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Server.Env))
	router.Use(middlewareCustom.Metrics)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.FloodGuard(cfg.Server.FloodLimitPerMinute, ipConfig))

	// Register routes
	routes.RegisterRoutes(router, pipeline, authHandler, adminHandler)
	router.Handle("/metrics", metrics.Handler())

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		status := map[string]string{"status": "healthy", "database": "up"}
		if revocationCache != nil {
			status["cache"] = "up"
			if err := revocationCache.Ping(ctx); err != nil {
				// Revocation checks fall back to postgres.
				status["status"], status["cache"] = "degraded", "down"
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager([]background.Sweep{
		background.TokenSweep(tokenManager),
		background.RetentionSweep("login_attempts", attemptTracker, cfg.Retention.LoginAttempts),
		background.RetentionSweep("rate_limits", rateLimiter, cfg.Retention.RateLimitGrace),
		background.RetentionSweep("security_events", auditService, cfg.Retention.SecurityEvents),
		background.VerificationSweep(emailVerificationService),
		background.LockoutSweep(lockoutManager),
	}, logger, cfg.Auth.CleanupInterval)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Requests are drained, so nothing else can enqueue mail.
	if err := asyncMailer.Close(shutdownCtx); err != nil {
		logger.Error("notification queue not drained", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

// allowAll stands in for the persistent limiter when RATE_LIMIT_ENABLED=false.
type allowAll struct{}

func (allowAll) Check(context.Context, string, string) models.RateDecision {
	return models.RateDecision{Allowed: true, Remaining: -1}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:         adminEmail,
		PasswordHash:  hashedPassword,
		Name:          "Admin",
		Role:          models.RoleAdmin,
		Active:        true,
		EmailVerified: true,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
