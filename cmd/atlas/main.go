package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/atlascms/atlas/internal/app"
	"github.com/atlascms/atlas/internal/auth"
	"github.com/atlascms/atlas/internal/authz"
	"github.com/atlascms/atlas/internal/events"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/observability"
	"github.com/atlascms/atlas/internal/platform/cache"
	"github.com/atlascms/atlas/internal/platform/db"
	"github.com/atlascms/atlas/internal/roles"
	"github.com/atlascms/atlas/internal/sessions"
	"github.com/atlascms/atlas/internal/users"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The app stays up without Redis; invalidation degrades to local-only.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, cache invalidation is local-only", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	identityCache := identity.NewCache(nil)
	broadcaster := identity.NewBroadcaster(redisClient, identityCache, logger, uuid.NewString())
	if err := broadcaster.Listen(ctx); err != nil {
		logger.Warn("invalidation listener", slog.Any("error", err))
	}

	sessionRepo := sessions.NewRepository(pool)
	resolver := identity.NewResolver(sessionRepo, identityCache, logger, identity.ResolverConfig{
		IdentityTTL:   cfg.IdentityCacheTTL,
		StoreTimeout:  cfg.StoreTimeout,
		TouchInterval: cfg.TouchInterval,
	}, nil)

	roleRepo := roles.NewRepository(pool)
	catalog, err := authz.LoadCatalog(ctx, roleRepo)
	if err != nil {
		logger.Error("load permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	guard := authz.NewGuard(logger, catalog, identityCache, cfg.SuperAdminRole, cfg.DecisionCacheTTL)
	enforcer := authz.NewEnforcer(cfg.SuperAdminRole, logger)

	metrics := observability.NewMetrics(identityCache.Stats)
	registry := events.NewRegistry(logger, metrics.SetStreamConnections)
	defer registry.Close()

	cookies := auth.NewCookieManager(cfg.SessionCookie, cfg.IsProduction())
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionRepo, logger, broadcaster, cfg.SessionTTL, nil)
	authHandler := auth.NewHandler(logger, authService, cookies, metrics.LoginFailure)

	sessionService := sessions.NewService(sessionRepo, logger, guard, broadcaster, registry, nil)
	sessionHandler := sessions.NewHandler(logger, sessionService, guard, cookies.Read)

	roleService := roles.NewService(roleRepo, logger, enforcer, catalog, broadcaster, registry)
	roleHandler := roles.NewHandler(logger, roleService, guard)

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, roleRepo, sessionRepo, logger, enforcer, broadcaster, registry)
	userHandler := users.NewHandler(logger, userService, guard)

	eventHandler := events.NewHandler(logger, registry, cfg.HeartbeatInterval,
		func(ctx context.Context, id *identity.Identity) bool {
			return guard.Allow(ctx, id, authz.PermRolesView)
		})

	cacheHandler := identity.NewAdminHandler(logger, identityCache, broadcaster, guard.RequirePermission)

	router := app.NewRouter(app.RouterParams{
		Config:         cfg,
		Logger:         logger,
		Cookies:        cookies,
		Resolver:       resolver,
		AuthHandler:    authHandler,
		SessionHandler: sessionHandler,
		RoleHandler:    roleHandler,
		UserHandler:    userHandler,
		EventHandler:   eventHandler,
		CacheHandler:   cacheHandler,
		MetricsHandler: metrics.Handler(),
		MetricsMware:   metrics.Middleware,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
