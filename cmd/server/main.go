// Package main is the entry point for the WhaleRay control plane API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whaleray/control-plane/internal/builder"
	"github.com/whaleray/control-plane/internal/cluster"
	"github.com/whaleray/control-plane/internal/config"
	"github.com/whaleray/control-plane/internal/database"
	"github.com/whaleray/control-plane/internal/envvault"
	"github.com/whaleray/control-plane/internal/github"
	"github.com/whaleray/control-plane/internal/handler"
	"github.com/whaleray/control-plane/internal/middleware"
	"github.com/whaleray/control-plane/internal/repository"
	"github.com/whaleray/control-plane/internal/secrets"
	"github.com/whaleray/control-plane/internal/service"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting WhaleRay control plane",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// AWS clients share one credential chain and region
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Cluster.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	ecsClient := ecs.NewFromConfig(awsCfg)
	ec2Client := ec2.NewFromConfig(awsCfg)
	codebuildClient := codebuild.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)
	secretsClient := secretsmanager.NewFromConfig(awsCfg)

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Repositories
	deploymentRepo := repository.NewDeploymentRepository(dynamoClient, cfg.Tables.Deployments)
	serviceRepo := repository.NewServiceRepository(dynamoClient, cfg.Tables.Services)
	installationRepo := repository.NewInstallationRepository(dynamoClient, cfg.Tables.Installations)
	userRepo := repository.NewUserRepository(dynamoClient, cfg.Tables.Users)
	databaseRepo := repository.NewDatabaseRepository(dynamoClient, cfg.Tables.Database)
	stateRepo := repository.NewOAuthStateRepository(redis)

	// Platform integrations
	secretsCache := secrets.NewCache(secretsClient)
	ghClient := github.NewAppClient(cfg.GitHub.AppID, cfg.GitHub.PrivateKeySecret, secretsCache)
	vault := envvault.New(ssmClient, cfg.Platform.ProjectName, cfg.Platform.SSMKMSKeyARN)
	clst := cluster.New(ecsClient, ec2Client, cfg.Cluster, cfg.Database, cfg.Platform.ProjectName)
	bld := builder.New(codebuildClient, cfg.Platform.ProjectName, cfg.Cluster.ECRRepositoryURL)

	// Pipeline services
	statusMutator := service.NewStatusMutator(deploymentRepo, logger)
	deployer := service.NewDeployer(deploymentRepo, serviceRepo, clst, statusMutator,
		cfg.Cluster.ECRRepositoryURL, cfg.Platform.APIDomain, logger)
	watcher := builder.NewWatcher(codebuildClient, cfg.Pipeline.BuildPollInterval,
		deployer.HandleBuildResult, logger)
	inspector := service.NewPipelineInspector(ghClient, vault, bld, watcher, statusMutator, logger)
	sweeper := service.NewSweeper(deploymentRepo, cfg.Pipeline.DeploymentTimeout, logger)

	deploymentService := service.NewDeploymentService(deploymentRepo, installationRepo,
		inspector, sweeper, logger)
	catalog := service.NewServiceCatalog(serviceRepo, deploymentService)
	databaseService := service.NewDatabaseService(databaseRepo, clst, vault,
		cfg.Database.SubnetIDs(), cfg.Platform.ProjectName, cfg.Platform.DomainName, logger)
	authService := service.NewAuthService(cfg.GitHub, cfg.Auth, ghClient,
		userRepo, installationRepo, stateRepo, secretsCache, logger)

	// The watcher drives build completions for the process lifetime
	watcherCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()
	go watcher.Run(watcherCtx)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, cfg.GitHub)
	deploymentHandler := handler.NewDeploymentHandler(deploymentService)
	serviceHandler := handler.NewServiceHandler(catalog)
	databaseHandler := handler.NewDatabaseHandler(databaseService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Auth.FrontendURL))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints (no auth required)
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(redis))
	r.Handle("/metrics", promhttp.Handler())

	// Login flow runs unauthenticated
	r.Mount("/auth", authHandler.PublicRoutes())

	// Protected API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(secretsCache, cfg.Auth.JWTSecretARN))
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))

		r.Get("/me", authHandler.Me)
		r.Get("/github/repositories", authHandler.Repositories)
		r.Mount("/deployments", deploymentHandler.Routes())
		r.Mount("/services", serviceHandler.Routes())
		r.Mount("/db", databaseHandler.Routes())
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler returns a liveness check that succeeds while the
// process is serving.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler returns a readiness check that verifies the Redis
// connection.
func readyHandler(redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := redis.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","redis":"connected"}`))
	}
}
