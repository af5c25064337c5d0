package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/api/mediav1"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/cache"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/config"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/httpapi"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/observability"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/permissions"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/registry"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/service"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/worker"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Configuration and logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.InitLogger(cfg.IsDev(), cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sugar := observability.NewSugaredLogger(logger)

	// 2. Resolve the media type before anything touches storage
	mediaCfg, err := cfg.MediaConfig(registry.New())
	if err != nil {
		return err
	}
	sugar.Infof("media type %s", mediaCfg.Model.Label())

	// 3. Database
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.NewMigrator(db, logger).RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// 4. Storage
	files, closeFiles, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFiles()
	sugar.Infof("storing files with the %s backend", files.Name())

	// 5. Events
	bus := events.NewBus()
	if len(cfg.Kafka.Brokers) > 0 {
		forwarder := events.NewKafkaForwarder(cfg.Kafka.Brokers, cfg.Kafka.ServedTopic, logger)
		forwarder.Attach(bus)
		defer forwarder.Close()
		logger.Info("forwarding media_served to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.ServedTopic))
	}

	// 6. Metrics and tracing
	metrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	var tp *trace.TracerProvider
	if cfg.Tracing.Enabled {
		if tp, err = observability.InitTracerProvider(ctx, nil, logger); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			observability.ShutdownTracerProvider(shutdownCtx, tp, logger)
		}()
	}

	// 7. Permissions and the media manager
	policy := permissions.NewCollectionOwnershipPolicy(db)
	if err := policy.Reload(ctx); err != nil {
		return fmt.Errorf("load grants: %w", err)
	}
	go reloadGrants(ctx, policy, time.Minute, logger)
	manager, err := media.NewManager(mediaCfg, db, files, policy, bus,
		media.WithLogger(logger),
		media.WithMetrics(metrics.Media()),
	)
	if err != nil {
		return err
	}

	// 8. Thumbnail worker
	processor := worker.NewProcessingWorker(&worker.WorkerConfig{
		Store:             db,
		Files:             files,
		Logger:            logger,
		Metrics:           metrics.Media(),
		PollInterval:      cfg.PollInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Concurrency:       cfg.Worker.Concurrency,
		MaxThumbnailWidth: cfg.Worker.MaxThumbnailWidth,
	})
	processor.Start(ctx)
	defer processor.Stop()

	// 9. gRPC server
	auth := middleware.NewAuthenticator(cfg.Auth.APIKeys, cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("no api keys or jwt secret configured, authentication is disabled")
	}
	serverMetrics := metrics.GetServerMetrics()
	grpcServer := grpc.NewServer(
		observability.ServerStatsOption(tp),
		grpc.UnaryInterceptor(middleware.ChainUnaryInterceptors(
			serverMetrics.UnaryServerInterceptor(),
			middleware.UnaryLoggingInterceptor(logger),
			middleware.UnaryRecoveryInterceptor(logger),
			middleware.ExemptUnary(auth.UnaryInterceptor(), healthpb.Health_ServiceDesc.ServiceName),
		)),
		grpc.StreamInterceptor(middleware.ChainStreamInterceptors(
			serverMetrics.StreamServerInterceptor(),
			middleware.StreamLoggingInterceptor(logger),
			middleware.StreamRecoveryInterceptor(logger),
			middleware.ExemptStream(auth.StreamInterceptor(), healthpb.Health_ServiceDesc.ServiceName),
		)),
	)
	mediaServer := service.NewMediaServer(manager, db, db, service.Config{
		MaxUploadBytes:       cfg.Upload.MaxBytes,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
	}, logger)
	mediav1.RegisterMediaServiceServer(grpcServer, mediaServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	serverMetrics.InitializeMetrics(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.App.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	// 10. HTTP server
	filesRoot := ""
	if cfg.Storage.Backend == "filesystem" {
		filesRoot = cfg.Storage.Path
	}
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler: httpapi.NewRouter(httpapi.Config{
			Manager:        manager,
			Users:          db,
			Auth:           auth,
			DB:             db,
			Metrics:        metrics.GetHandler(),
			FilesRoot:      filesRoot,
			FilesURL:       cfg.Media.BaseURL,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting grpc server", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting http server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
	}
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	logger.Info("shutdown completed")
	return nil
}

// openStorage builds the configured backend and returns a cleanup func for
// whatever it opened alongside.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Backend, func(), error) {
	switch cfg.Storage.Backend {
	case "", "filesystem":
		fs, err := storage.NewFilesystemStorage(cfg.Storage.Path, cfg.Media.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using filesystem storage", zap.String("path", cfg.Storage.Path))
		return fs, func() {}, nil

	case "s3":
		var urlCache storage.URLCache
		cleanup := func() {}
		if cfg.Redis.Addr != "" {
			rc, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return nil, nil, err
			}
			urlCache = rc
			cleanup = func() { _ = rc.Close() }
		}
		s3, err := storage.NewS3Storage(ctx, cfg.S3Config(), urlCache)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("using s3 storage", zap.String("bucket", cfg.S3.Bucket), zap.Bool("url_cache", urlCache != nil))
		return s3, cleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// reloadGrants keeps the cached grants in step with changes made through the
// admin CLI.
func reloadGrants(ctx context.Context, policy *permissions.CollectionOwnershipPolicy, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := policy.Reload(ctx); err != nil {
				logger.Warn("failed to reload grants", zap.Error(err))
			}
		}
	}
}
