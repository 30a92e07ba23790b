package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iptv-session/work/app"
	"iptv-session/work/config"
	"iptv-session/work/handlers"
	"iptv-session/work/logger"
	"iptv-session/work/middleware"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	if cfg.Debug {
		logger.SetLogLevel("debug")
	}

	// build the component graph
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Shutdown()

	// initial logo directory build and catalog import
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	application.Bootstrap(bootCtx)
	bootCancel()

	// Setup HTTP routes
	router := mux.NewRouter()
	router.Use(middleware.Gzip)

	// catalog browsing and search
	router.HandleFunc("/catalog", handlers.HandleCatalog(application)).Methods("GET")
	router.HandleFunc("/catalog/search", handlers.HandleCatalogSearch(application)).Methods("GET")
	router.HandleFunc("/catalog/item/{id}", handlers.HandleCatalogItem(application)).Methods("GET")

	// playback session lifecycle and live controls
	router.HandleFunc("/play/{surface}", handlers.HandlePlay(application)).Methods("POST")
	router.HandleFunc("/stop/{surface}", handlers.HandleStop(application)).Methods("POST")
	router.HandleFunc("/control/{surface}", handlers.HandleControl(application)).Methods("POST")
	router.HandleFunc("/status/{surface}", handlers.HandleStatus(application)).Methods("GET")
	router.HandleFunc("/watch/{surface}", handlers.HandleWatch(application)).Methods("GET")

	// logo resolution
	router.HandleFunc("/logo", handlers.HandleLogo(application)).Methods("GET")
	router.HandleFunc("/logo/failed", handlers.HandleLogoFailed(application)).Methods("POST")

	// VOD resume positions
	router.HandleFunc("/progress/{id}", handlers.HandleProgressGet(application)).Methods("GET")
	router.HandleFunc("/progress/{id}", handlers.HandleProgressPut(application)).Methods("PUT")

	// reachability probes
	router.HandleFunc("/health", handlers.HandleHealthAll(application)).Methods("GET")
	router.HandleFunc("/health/probe", handlers.HandleHealthProbe(application)).Methods("POST")

	// control overlay visibility
	router.HandleFunc("/overlay/{surface}", handlers.HandleOverlayState(application)).Methods("GET")
	router.HandleFunc("/overlay/{surface}/activity", handlers.HandleOverlayActivity(application)).Methods("POST")
	router.HandleFunc("/overlay/{surface}/leave", handlers.HandleOverlayLeave(application)).Methods("POST")

	// admin reload
	router.HandleFunc("/admin/reload", handlers.HandleAdminReload(application)).Methods("POST")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting IPTV Session %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Sources: %d", len(cfg.Sources))
	logger.Info("  - Stall Window: %s", cfg.StallWindow)
	logger.Info("  - Reconnect Backoff: base %s, cap %s, %d retries", cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxRetries)
	logger.Info("  - Overlay Quiescence: %s", cfg.OverlayQuiescence)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// shut down cleanly on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("Shutdown requested...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
