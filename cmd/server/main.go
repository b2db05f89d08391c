// formtrack - exercise rep counting and form analysis server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/api"
	"github.com/ashureev/formtrack/internal/config"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/feedback"
	"github.com/ashureev/formtrack/internal/identity"
	"github.com/ashureev/formtrack/internal/live"
	"github.com/ashureev/formtrack/internal/middleware"
	"github.com/ashureev/formtrack/internal/retention"
	"github.com/ashureev/formtrack/internal/sidecar"
	"github.com/ashureev/formtrack/internal/store"
	"github.com/ashureev/formtrack/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		slog.Error("Failed to create upload directory", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := store.Open(context.Background(), cfg.Store.Backend, cfg.Store.DSN)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "backend", cfg.Store.Backend)

	catalog, err := feedback.NewCatalog(cfg.DefaultLanguage)
	if err != nil {
		slog.Error("Failed to load feedback catalog", "error", err)
		os.Exit(1)
	}

	checks := map[string]api.Checker{"pose": nil}

	// Start the pose container when one is configured (optional).
	var mgr *sidecar.Manager
	if cfg.Sidecar.Enabled() {
		mgr, err = sidecar.NewDockerManager(sidecar.Config{
			Image:     cfg.Sidecar.Image,
			Name:      cfg.Sidecar.Name,
			Network:   cfg.Sidecar.Network,
			Port:      cfg.Sidecar.Port,
			Runtime:   cfg.Sidecar.Runtime,
			UploadDir: cfg.UploadDir,
			MountPath: cfg.Sidecar.MountPath,
			Env: map[string]string{
				"MODEL_COMPLEXITY":         strconv.Itoa(cfg.Pose.ModelComplexity),
				"MIN_DETECTION_CONFIDENCE": strconv.FormatFloat(cfg.Pose.MinDetectionConfidence, 'f', -1, 64),
				"MIN_TRACKING_CONFIDENCE":  strconv.FormatFloat(cfg.Pose.MinTrackingConfidence, 'f', -1, 64),
			},
		})
		if err != nil {
			slog.Error("Failed to initialize sidecar manager", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := mgr.Close(); closeErr != nil {
				slog.Debug("Failed to close docker client", "error", closeErr)
			}
		}()

		ensureCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		containerID, err := mgr.Ensure(ensureCtx)
		cancel()
		if err != nil {
			slog.Error("Failed to start pose container", "error", err)
			os.Exit(1)
		}
		slog.Info("Pose container ready", "container_id", containerID)
		checks["sidecar"] = mgr
	}

	// Connect to the pose service (optional). Without it only landmark
	// uploads can be analyzed.
	var remote estimator.Estimator
	if addr := cfg.PoseAddr(); addr != "" {
		slog.Info("Connecting to pose service via gRPC", "address", addr)
		grpcClient, err := estimator.NewGrpcClient(estimator.GrpcClientConfig{
			Address:        addr,
			ConnectTimeout: cfg.Pose.ConnectTimeout,
			Options: estimator.Options{
				ModelComplexity:        cfg.Pose.ModelComplexity,
				MinDetectionConfidence: cfg.Pose.MinDetectionConfidence,
				MinTrackingConfidence:  cfg.Pose.MinTrackingConfidence,
			},
			Paths: estimator.PathMapper{HostDir: cfg.UploadDir, SidecarDir: cfg.Pose.PathPrefix},
		}, logger)
		if err != nil {
			slog.Warn("Failed to connect to pose service, video analysis will be disabled", "error", err)
		} else {
			defer grpcClient.Close()
			remote = grpcClient
			checks["pose"] = grpcClient
		}
	}
	if remote == nil {
		slog.Info("Video analysis disabled (POSE_SERVICE_ADDR not set or connection failed)")
	}

	router := estimator.NewRouter(nil, remote)
	analyzer := analysis.NewService(router, catalog, repo, logger)

	// The live handler only needs an estimator for camera sessions.
	var cameraEstimator estimator.Estimator
	if router.HasRemote() {
		cameraEstimator = router
	}

	// Initialize handlers.
	sm := live.NewSessionManager()
	baseHandler := api.NewHandler(repo, analyzer, cfg)
	healthHandler := api.NewHealthHandler(repo, checks)
	wsHandler := live.NewWebSocketHandler(repo, catalog, cameraEstimator, sm, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.StripSlashes)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware())

	healthHandler.RegisterRoutes(r)
	api.NewExerciseHandler(baseHandler).RegisterRoutes(r)
	api.NewAnalyzeHandler(baseHandler).RegisterRoutes(r)
	api.NewUserHandler(baseHandler).RegisterRoutes(r)
	api.NewSessionHandler(baseHandler).RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/live", wsHandler.ServeHTTP)

	// Serve embedded browser client.
	spa := web.SPAHandler("/app")
	r.Handle("/app", spa)
	r.Handle("/app/*", spa)

	// Uploads can take a while to analyze, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention.NewWorker(repo, retention.Config{
		Interval:         cfg.Retention.Interval,
		AnalysisTTL:      cfg.Retention.AnalysisTTL,
		UploadDir:        cfg.UploadDir,
		UploadStaleAfter: cfg.Retention.UploadStaleAfter,
	}).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if mgr != nil && cfg.Sidecar.StopOnExit {
		if err := mgr.Stop(shutdownCtx); err != nil {
			slog.Error("Failed to stop pose container", "error", err)
		}
	}

	slog.Info("Server stopped successfully")
}
