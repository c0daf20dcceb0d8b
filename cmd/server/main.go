package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"skillmarket/backend/internal/api"
	"skillmarket/backend/internal/audit"
	"skillmarket/backend/internal/auth"
	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/config"
	"skillmarket/backend/internal/governance"
	"skillmarket/backend/internal/install"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/mcp"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/ratelimit"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/internal/retrieval"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/internal/skills"
	tlsutil "skillmarket/backend/internal/tls"
	"skillmarket/backend/internal/workflow"
)

func main() {
	var configPath string
	var inMemory bool

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Skill marketplace runtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, inMemory)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.Flags().BoolVar(&inMemory, "in-memory", false, "use in-memory storage instead of postgres")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, inMemory bool) error {
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("configuration loaded", "environment", cfg.Environment, "addr", cfg.Server.Addr)

	var repo repository.Repository
	if inMemory {
		repo = repository.NewMemory()
		logger.Info("using in-memory storage")
	} else {
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer pool.Close()

		pg := repository.NewPostgres(pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		repo = pg
		logger.Info("database connected")
	}

	m := metrics.NewDefault()

	limiter := ratelimit.NewLimiter(repo.Rates(), ratelimit.Policy{
		TenantPerMinute: cfg.RateLimit.TenantPerMinute,
		TenantPerHour:   cfg.RateLimit.TenantPerHour,
		DevicePerMinute: cfg.RateLimit.DevicePerMinute,
		DevicePerHour:   cfg.RateLimit.DevicePerHour,
		RouteCosts:      cfg.RateLimit.RouteCosts,
		AutoSuspend:     cfg.RateLimit.AutoSuspend,
		SuspendMinutes:  cfg.RateLimit.SuspendMinutes,
	}, logger, m)

	registrySvc := registry.NewService(repo.Registry(), logger)
	installSvc := install.NewService(repo.Installs(), registrySvc, logger)
	enforcer := governance.NewEnforcer(repo.Installs(), repo.Registry(), limiter)

	billingSvc := billing.NewService(repo.Wallets(), repo.Ledger(), repo.Registry(), billing.Pricing{
		UnitCreditValueUSD: cfg.Billing.UnitCreditValueUSD,
		PlatformFeePercent: cfg.Billing.PlatformFeePercent,
		StarterCredits:     cfg.Billing.StarterCredits,
	}, logger, m)

	skillRegistry := skills.NewRegistry()
	skills.RegisterBuiltins(skillRegistry)
	executor := skills.NewExecutor(logger, 30*time.Second)

	sink := audit.NewAsyncSink(logger, 1024, 500)
	invocation := services.NewInvocation(enforcer, skillRegistry, executor, billingSvc, sink, logger, m)

	var retriever retrieval.Backend
	if cfg.Retrieval.URL != "" {
		retriever = retrieval.NewHTTPBackend(cfg.Retrieval.URL, logger)
	} else {
		retriever = retrieval.NewMemory()
		logger.Warn("no retrieval url configured, rag_query steps use the in-process index")
	}

	statusTracker := workflow.NewStatusTracker()
	definitions := workflow.NewDefinitions(repo.Workflows(), logger)
	engine := workflow.NewEngine(invocation, retriever, definitions, statusTracker, logger, m, cfg.Retrieval.TopK)

	logger.Info("service layer initialized")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("skillmarket"))

	authz, err := auth.New(ctx, cfg, repo.Tenants(), logger)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}

	srv := &api.Server{
		Invocation: invocation,
		Engine:     engine,
		Workflows:  definitions,
		Status:     statusTracker,
		Registry:   registrySvc,
		Installs:   installSvc,
		Billing:    billingSvc,
		Limiter:    limiter,
		Skills:     skillRegistry,
		Audit:      sink,
		Logger:     logger,
	}
	srv.RegisterRoutes(e, authz.Middleware)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(invocation, engine, billingSvc)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) && len(cfg.TLS.Hostnames) > 0 {
				if err := tlsutil.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
					logger.Error("failed to generate self-signed cert", "error", err)
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		if err := sink.Close(shutdownCtx); err != nil {
			logger.Error("audit sink drain timed out", "error", err)
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
