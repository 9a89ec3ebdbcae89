package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-media/internal/database"
	"recipe-media/internal/fetch"
	"recipe-media/internal/filesystem"
	"recipe-media/internal/handlers"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
	"recipe-media/internal/middleware"
	"recipe-media/internal/reconciler"
	"recipe-media/internal/startup"
	"recipe-media/internal/storage"
	"recipe-media/internal/videonorm"

	"github.com/gorilla/mux"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	if config.MetricsEnabled {
		metrics.InitializeMetrics()
	}
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Clean up expired sessions periodically
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		for range ticker.C {
			if err := db.CleanExpiredSessions(); err != nil {
				logging.Warn("Session cleanup failed: %v", err)
			}
		}
	}()

	// Initialize image pipeline
	vipsErr := imagenorm.InitVips()
	if vipsErr != nil {
		logging.Warn("libvips initialization failed: %v", vipsErr)
	}
	defer imagenorm.ShutdownVips()
	startup.LogImagePipelineInit(vipsErr == nil, config.MaxImageDimension, config.JPEGQuality)

	normalizer := imagenorm.New(imagenorm.Options{
		MaxDimension: config.MaxImageDimension,
		Quality:      config.JPEGQuality,
	})

	// Initialize content store
	store, err := storage.New(config.UploadsDir, storage.Limits{
		MaxAvatarBytes: config.MaxAvatarBytes,
		MaxImageBytes:  config.MaxImageBytes,
		MaxVideoBytes:  config.MaxVideoBytes,
	}, normalizer)
	if err != nil {
		startup.LogFatal("Failed to initialize media store: %v", err)
	}

	// Initialize video converter
	startup.LogConverterInit(config.ConversionEnabled)
	converter := videonorm.New(config.ConversionEnabled)

	// Initialize remote image downloader
	downloader := fetch.New(config.DownloadTimeout, config.MaxImageBytes)

	// Initialize orphan reconciler
	startup.LogSweepInit(config.SweepInterval)
	rec := reconciler.New(store, db, config.SweepInterval)
	rec.Start()

	// Keep the inventory gauges fresh
	collector := metrics.NewCollector(db, 5*time.Minute)
	collector.Start()
	if err := db.RefreshStats(context.Background()); err != nil {
		logging.Warn("Initial stats refresh failed: %v", err)
	}

	// Initialize handlers
	h := handlers.New(db, store, downloader, converter, rec, config)

	// Setup router
	router := setupRouter(h)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogMediaFiles, config.LogHealthChecks)

	// Apply authentication middleware
	authedRouter := h.AuthMiddleware(router)

	// Apply metrics middleware
	metricsConfig := middleware.DefaultMetricsConfig()
	meteredHandler := middleware.Metrics(metricsConfig)(authedRouter)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogMediaFiles = config.LogMediaFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(meteredHandler)

	// Apply compression middleware
	compressionConfig := middleware.DefaultCompressionConfig()
	handler := middleware.Compression(compressionConfig)(loggedHandler)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics server on its own port so scrapes bypass auth
	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:         ":" + config.MetricsPort,
			Handler:      metricsMux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv, rec, converter, collector)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/setup-required", h.CheckSetupRequired).Methods("GET")
	auth.HandleFunc("/setup", h.Setup).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/logout", h.Logout).Methods("POST")
	auth.HandleFunc("/check", h.CheckAuth).Methods("GET")
	auth.HandleFunc("/password", h.ChangePassword).Methods("POST")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/recipes/{id}", h.CreateRecipe).Methods("PUT")
	api.HandleFunc("/recipes/{id}", h.DeleteRecipe).Methods("DELETE")
	api.HandleFunc("/recipes/{id}/assets", h.ListRecipeAssets).Methods("GET")
	api.HandleFunc("/recipes/{id}/image", h.UploadRecipeImage).Methods("POST")
	api.HandleFunc("/recipes/{id}/image/import", h.ImportRecipeImage).Methods("POST")
	api.HandleFunc("/recipes/{id}/steps/image", h.UploadStepImage).Methods("POST")
	api.HandleFunc("/recipes/{id}/video", h.UploadRecipeVideo).Methods("POST")
	api.HandleFunc("/users/{id}/avatar", h.UploadAvatar).Methods("POST")
	api.HandleFunc("/media", h.DeleteMedia).Methods("DELETE")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/sweep", h.TriggerSweep).Methods("POST")
	api.HandleFunc("/sweep/last", h.LastSweep).Methods("GET")

	// Media files (canonical and legacy URLs)
	r.PathPrefix("/recipes/").HandlerFunc(h.ServeMedia).Methods("GET", "HEAD")
	r.PathPrefix("/users/").HandlerFunc(h.ServeMedia).Methods("GET", "HEAD")

	return r
}

func handleShutdown(srv, metricsSrv *http.Server, rec *reconciler.Reconciler, converter *videonorm.Converter, collector *metrics.Collector) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping orphan sweeps")
	rec.Stop()
	startup.LogShutdownStepComplete("Orphan sweeps stopped")

	startup.LogShutdownStep("Cleaning up video converter")
	converter.Cleanup()
	startup.LogShutdownStepComplete("Video converter cleanup complete")

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
