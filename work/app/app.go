package app

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"iptv-session/work/catalog"
	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/health"
	"iptv-session/work/logger"
	"iptv-session/work/logos"
	"iptv-session/work/overlay"
	"iptv-session/work/progress"
	"iptv-session/work/session"
)

// App wires the application's long-lived components together: the shared
// HTTP client and worker pool, the logo resolver, the aggregated catalog,
// the health checker, the progress store, and the per-surface playback
// controllers. Handlers receive an App and nothing else.
type App struct {
	Config     *config.Config
	HTTPClient *client.HeaderSettingClient
	Pool       *ants.Pool
	Logos      *logos.Resolver
	Catalog    *catalog.Catalog
	Health     *health.Checker
	Progress   *progress.Store
	Sessions   *session.Manager
	Overlays   *xsync.MapOf[string, *overlay.InactivityTimer]
}

// New builds the component graph. The progress store is the only piece
// that can fail to construct; everything else is wiring.
func New(cfg *config.Config) (*App, error) {
	pool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	httpClient := client.NewHeaderSettingClient()
	resolver := logos.NewResolver(cfg, httpClient)

	store, err := progress.Open(cfg.ProgressDBPath)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}

	return &App{
		Config:     cfg,
		HTTPClient: httpClient,
		Pool:       pool,
		Logos:      resolver,
		Catalog:    catalog.New(cfg, httpClient, resolver, pool),
		Health:     health.NewChecker(cfg, httpClient, pool),
		Progress:   store,
		Sessions:   session.NewManager(cfg, httpClient),
		Overlays:   xsync.NewMapOf[string, *overlay.InactivityTimer](),
	}, nil
}

// Bootstrap runs the initial logo directory build and catalog import.
// Failures are logged, not fatal: an empty catalog server is still useful
// for admin reload once the sources come back.
func (a *App) Bootstrap(ctx context.Context) {
	if err := a.Logos.Build(ctx); err != nil {
		logger.Warn("[APP] logo directory unavailable at startup: %v", err)
	}
	a.Logos.StartRefresh()

	if err := a.Catalog.Refresh(ctx); err != nil {
		logger.Warn("[APP] catalog import incomplete at startup: %v", err)
	}
}

// Reload rebuilds the logo table and re-imports every source. Serves the
// admin reload endpoint.
func (a *App) Reload(ctx context.Context) error {
	logoErr := a.Logos.Build(ctx)
	catErr := a.Catalog.Refresh(ctx)
	if catErr != nil {
		return catErr
	}
	return logoErr
}

// Overlay returns the inactivity timer for a surface, creating it with the
// configured quiescence window on first use.
func (a *App) Overlay(surfaceID string) *overlay.InactivityTimer {
	timer, _ := a.Overlays.LoadOrCompute(surfaceID, func() *overlay.InactivityTimer {
		return overlay.NewInactivityTimer(a.Config.OverlayQuiescence, nil)
	})
	return timer
}

// Shutdown releases every component.
func (a *App) Shutdown() {
	a.Sessions.CloseAll()
	a.Logos.StopRefresh()
	a.Overlays.Range(func(id string, timer *overlay.InactivityTimer) bool {
		timer.Stop()
		return true
	})
	if err := a.Progress.Close(); err != nil {
		logger.Warn("[APP] progress store close failed: %v", err)
	}
	a.Pool.Release()
	logger.Info("[APP] shutdown complete")
}
