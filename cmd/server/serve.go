package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-approval-routing/internal/client"
	"github.com/pesio-ai/be-approval-routing/internal/config"
	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/handler"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/metrics"
	"github.com/pesio-ai/be-approval-routing/internal/middleware"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/repository/memory"
	"github.com/pesio-ai/be-approval-routing/internal/service"
	"github.com/pesio-ai/be-approval-routing/internal/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if logLevelOverride != "" {
				cfg.Log.Level = logLevelOverride
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

type repositories struct {
	rules    repository.RuleRepository
	workflow repository.WorkflowRepository
	ledger   repository.LedgerRepository
	steps    repository.StepActivationRepository
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approval Routing Service")

	// Tracing
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Storage
	repos, closeRepos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepos()

	// Notifications
	var notifier service.Notifier
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.Timeout(cfg.NATS.ConnectWait),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher connected")
	} else {
		notifier = client.NewLogNotifier(log.Logger)
	}

	// Identity
	var identity service.IdentityResolver
	if cfg.Identity.GRPCAddr != "" {
		identityClient, err := client.NewIdentityGRPCClient(cfg.Identity.GRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to create identity gRPC client: %w", err)
		}
		defer identityClient.Close()
		identity = identityClient
		log.Info().Str("identity_grpc", cfg.Identity.GRPCAddr).Msg("Identity gRPC client initialized")
	} else {
		identity = client.NewDirectoryResolver(cfg.Directory.Roles, cfg.Directory.Departments)
	}

	// Service
	routingService := service.NewApprovalRoutingService(
		repos.rules, repos.workflow, repos.ledger, repos.steps,
		identity, notifier, log,
		service.WithMetrics(m),
		service.WithTracerProvider(otel.GetTracerProvider()),
		service.WithAssignmentEnforcement(cfg.Routing.EnforceAssignment),
		service.WithDispatcher(cfg.Routing.DispatchBuffer, cfg.Routing.DispatchWorkers),
		service.WithNotificationTimeout(cfg.Routing.NotificationTimeout),
	)
	defer routingService.Close()

	if cfg.Rules.File != "" {
		rules, err := config.LoadRulesFile(cfg.Rules.File)
		if err != nil {
			return err
		}
		for _, r := range rules {
			if err := routingService.RegisterRule(ctx, r); err != nil {
				return fmt.Errorf("rule file %s: %w", cfg.Rules.File, err)
			}
		}
		log.Info().Str("file", cfg.Rules.File).Int("rules", len(rules)).Msg("Approval rules loaded")
	}

	if _, err := routingService.ResumeEscalations(ctx); err != nil {
		return fmt.Errorf("failed to resume escalations: %w", err)
	}

	// HTTP
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	handler.NewHTTPHandler(routingService, log.Component("http")).Register(mux)

	h := middleware.Chain(mux, &log.Logger, []string{"*"}, cfg.Server.RequestTimeout)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryServerInterceptor(log.Logger)))
	handler.RegisterApprovalRoutingServer(grpcServer, handler.NewGRPCHandler(routingService, log.Logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ApprovalRoutingServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}
	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return runErr
}

func openRepositories(ctx context.Context, cfg *config.Config, log *logger.Logger) (*repositories, func(), error) {
	if !cfg.Database.Enabled {
		log.Info().Msg("Database disabled, keeping approval state in memory")
		return &repositories{
			rules:    memory.NewRuleRegistry(),
			workflow: memory.NewWorkflowStore(),
			ledger:   memory.NewLedger(),
			steps:    memory.NewStepActivationStore(),
		}, func() {}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := repository.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &repositories{
		rules:    repository.NewApprovalRulesRepository(db),
		workflow: repository.NewApprovalWorkflowRepository(db),
		ledger:   repository.NewApprovalLedgerRepository(db),
		steps:    repository.NewApprovalStepsRepository(db),
	}, db.Close, nil
}
