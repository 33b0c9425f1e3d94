package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/config"
	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/handler"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/cache"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/client"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/kvstore"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/supabase"
	"github.com/maspatas/maspatas-bfa-go/internal/port"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var (
		envFile string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session agent and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			// --- Load .env file (for local development) ---
			_ = config.LoadDotEnv(envFile)

			cfg := config.Load()
			if port > 0 {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides PORT)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("supabase_url", cfg.SupabaseURL),
		zap.String("kv_backend", cfg.KVBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("session_init_timeout", cfg.SessionInitTimeout),
		zap.Duration("keepalive_interval", cfg.KeepAliveInterval),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("jwt_verification", cfg.SupabaseJWTSecret != ""),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "maspatas-bfa")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	kv, closeKV, err := openKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	dbGuard := resilience.NewGuard(resilience.NewCircuitBreaker("supabase-rest"), resilienceCfg)
	authGuard := resilience.NewGuard(resilience.NewCircuitBreaker("supabase-auth"), resilienceCfg)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.DatabaseKey(),
		cfg.ProfilesTable,
		dbGuard,
		logger,
	)
	authClient := supabase.NewAuthClient(supabaseClient, authGuard, kv, cfg.SupabaseJWTSecret)

	var functions port.FunctionsPinger
	if cfg.FunctionsPingURL != "" {
		functions = client.NewFunctionsClient(httpClient, cfg.FunctionsPingURL, cfg.SupabaseAnonKey,
			resilience.NewCircuitBreaker("supabase-functions"), resilienceCfg)
		logger.Info("functions warm-up enabled", zap.String("url", cfg.FunctionsPingURL))
	}

	// --- Services ---
	queries := cache.New[*domain.User](cfg.CacheSize, cfg.CacheTTL)
	resolver := service.NewProfileResolver(supabaseClient, metrics, logger)
	controller := service.NewSessionController(
		authClient,
		resolver,
		supabaseClient,
		kv,
		queries,
		metrics,
		logger,
		service.ControllerConfig{
			InitTimeout:      cfg.SessionInitTimeout,
			OAuthRedirectURL: cfg.OAuthRedirectURL,
		},
	)
	keepAlive := service.NewKeepAlive(authClient, supabaseClient, functions, cfg.KeepAliveInterval, metrics, logger)
	directory := service.NewUserDirectory(supabaseClient, authClient, queries, controller, metrics, logger)

	controller.Start(ctx)

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Controller: controller,
		KeepAlive:  keepAlive,
		Directory:  directory,
		DB:         supabaseClient,
		Functions:  functions,
		Metrics:    metrics,
		Logger:     logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return keepAlive.Run(gctx)
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")

		// The controller goes first so late events are dropped and open
		// session streams are told to close.
		controller.Close()
		<-controller.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openKV builds the session storage selected by KV_BACKEND.
func openKV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.KeyValueStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.KVBackend {
	case "redis":
		store, closeFn, err := kvstore.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KVPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis storage: %w", err)
		}
		logger.Info("session storage: redis", zap.String("addr", cfg.RedisAddr))
		return store, closeFn, nil
	case "memory":
		logger.Warn("session storage: memory, sessions will not survive a restart")
		return kvstore.NewMemory(), noop, nil
	default:
		store, err := kvstore.OpenFile(cfg.KVFilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		logger.Info("session storage: file", zap.String("path", cfg.KVFilePath))
		return store, noop, nil
	}
}
