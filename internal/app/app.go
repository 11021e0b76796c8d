package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/config"
	"github.com/prperemyshlev/step-sync-service/internal/googlefit"
	"github.com/prperemyshlev/step-sync-service/internal/handler"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"github.com/prperemyshlev/step-sync-service/internal/scheduler"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"github.com/prperemyshlev/step-sync-service/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 5 * time.Second
	schedulerTimeout = 30 * time.Second
)

type App struct {
	infra     Infrastructure
	config    *config.Config
	router    *gin.Engine
	server    *http.Server
	scheduler *scheduler.Scheduler
}

type handlers struct {
	steps       *handler.StepsHandler
	credentials *handler.CredentialsHandler
	health      *HealthChecker
	operator    gin.HandlerFunc
	userLimit   gin.HandlerFunc
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()

	key, err := cfg.Security.EncryptionKey()
	if err != nil {
		return nil, err
	}
	cipher, err := utils.NewTokenCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}
	if !cipher.Enabled() {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, provider tokens are stored in plaintext")
	}

	location, err := cfg.Sync.Location()
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewSyncMetrics(infra.MeterProvider().Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	repos := repository.NewRepositories(infra.Postgres(), cipher)

	httpClient := &http.Client{}
	stepsClient := googlefit.NewClient(httpClient, googlefit.ClientConfig{
		Endpoint:          cfg.Google.AggregateURL,
		Timeout:           cfg.Google.FetchTimeout.Duration,
		RequestsPerSecond: cfg.Google.RequestsPerSecond,
		Burst:             cfg.Google.RequestBurst,
	}, logger)
	tokenClient := googlefit.NewTokenClient(httpClient, googlefit.TokenClientConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenURL:     cfg.Google.TokenURL,
		Timeout:      cfg.Google.RefreshTimeout.Duration,
	}, logger)

	credentials := service.NewCredentialManager(
		repos.User,
		tokenClient,
		logger,
		service.WithRefreshLocker(service.NewRefreshLock(infra.Redis(), cfg.Sync.RefreshLockTTL.Duration)),
		service.WithRefreshTimeout(cfg.Google.RefreshTimeout.Duration),
		service.WithCredentialMetrics(metrics),
	)
	engine := service.NewSyncEngine(credentials, stepsClient, repos.DailySteps, metrics, logger, nil)
	stepsService := service.NewStepsService(repos.User, repos.DailySteps, logger)
	rateLimiter := service.NewRateLimiter(infra.Redis())

	sched := scheduler.New(repos.User, engine, scheduler.Config{
		Location:        location,
		Concurrency:     cfg.Sync.Concurrency,
		BackfillDefault: cfg.Sync.BackfillDefault,
		BackfillMax:     cfg.Sync.BackfillMax,
		FleetTimeout:    cfg.Sync.FleetSyncTimeout.Duration,
		DisableNightly:  !cfg.Sync.SchedulerEnabled,
	}, metrics, logger, nil)

	h := handlers{
		steps:       handler.NewStepsHandler(sched, stepsService, logger),
		credentials: handler.NewCredentialsHandler(credentials, logger),
		health:      NewHealthChecker(infra),
		operator:    handler.OperatorAuthMiddleware(utils.NewOperatorTokenManager(cfg.Operator.JWTSecret)),
		userLimit: handler.RateLimitMiddleware(
			rateLimiter,
			cfg.Sync.RateLimitRequests,
			cfg.Sync.RateLimitWindow.Duration,
			handler.UserParamKey,
			logger,
		),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger, "/health", "/metrics"))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, h, infra.MetricsHandler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:     infra,
		config:    cfg,
		router:    router,
		server:    srv,
		scheduler: sched,
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

func setupRoutes(router *gin.Engine, h handlers, metricsHandler http.Handler) {
	router.GET("/metrics", observability.PrometheusHandler(metricsHandler))
	router.GET("/health", h.health.Handler)

	router.GET("/leaderboard", h.steps.Leaderboard)

	steps := router.Group("/steps")
	{
		steps.POST("/sync-all", h.operator, h.steps.SyncAll)
		steps.PUT("/sync/:userId", h.userLimit, h.steps.SyncUser)
		steps.GET("/sync-history/:userId", h.userLimit, h.steps.SyncHistory)
		steps.GET("/:userId", h.steps.ListByUser)
		steps.POST("/:userId/recompute", h.operator, h.steps.Recompute)
	}

	router.GET("/users/:userId/credentials/status", h.credentials.Status)
	router.POST("/internal/credentials", h.operator, h.credentials.Link)
}

// Run serves HTTP and, when enabled, the midnight scheduler until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scheduler.Start(ctx)

	errChan := make(chan error, 1)

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
			zap.Bool("scheduler", a.config.Sync.SchedulerEnabled),
			zap.String("timezone", a.config.Sync.TimeZone),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	// Cancels in-flight syncs before the stores are closed
	cancel()

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		errs <- a.waitScheduler()
	}()

	err := errors.Join(<-errs, <-errs)

	infraCtx, infraCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer infraCancel()

	if infraErr := a.infra.Shutdown(infraCtx); infraErr != nil {
		err = errors.Join(err, infraErr)
	}

	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}

func (a *App) waitScheduler() error {
	done := make(chan struct{})
	go func() {
		a.scheduler.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(schedulerTimeout):
		return fmt.Errorf("scheduler did not stop within %v", schedulerTimeout)
	}
}
