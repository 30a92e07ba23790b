package session

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/engine"
	"iptv-session/work/logger"
	"iptv-session/work/surface"
)

// surfaceSinkSize is the ring buffer capacity backing each video surface.
const surfaceSinkSize = 4 << 20

// Manager owns one controller per video surface. Surfaces are created on
// first use and each one is exclusively attached for its lifetime.
type Manager struct {
	cfg         *config.Config
	httpClient  *client.HeaderSettingClient
	factory     engine.Factory
	support     engine.Support
	controllers *xsync.MapOf[string, *Controller]
}

// NewManager builds a manager with the production engine factory.
func NewManager(cfg *config.Config, httpClient *client.HeaderSettingClient) *Manager {
	return &Manager{
		cfg:         cfg,
		httpClient:  httpClient,
		factory:     engine.DefaultFactory(),
		support:     engine.FullSupport(),
		controllers: xsync.NewMapOf[string, *Controller](),
	}
}

// GetOrCreate returns the controller for a surface, creating and attaching
// the surface on first use. The notify callback is bound at creation and
// ignored on later calls for the same surface.
func (m *Manager) GetOrCreate(surfaceID string, notify UpdateFunc) (*Controller, error) {
	if surfaceID == "" {
		return nil, fmt.Errorf("empty surface id")
	}

	var attachErr error
	ctrl, _ := m.controllers.LoadOrCompute(surfaceID, func() *Controller {
		surf := surface.New(surfaceID, surfaceSinkSize)
		if err := surf.Attach(); err != nil {
			attachErr = err
			return nil
		}
		logger.Debug("[SESSION] created surface %s", surfaceID)
		deps := engine.Deps{Client: m.httpClient}
		return NewController(m.cfg, surf, deps, m.factory, m.support, notify)
	})
	if attachErr != nil {
		m.controllers.Delete(surfaceID)
		return nil, attachErr
	}
	if ctrl == nil {
		m.controllers.Delete(surfaceID)
		return nil, fmt.Errorf("surface %s unavailable", surfaceID)
	}
	return ctrl, nil
}

// Get returns the controller for a surface if one exists.
func (m *Manager) Get(surfaceID string) (*Controller, bool) {
	return m.controllers.Load(surfaceID)
}

// Close tears down the surface's session and releases the surface.
func (m *Manager) Close(surfaceID string) {
	ctrl, ok := m.controllers.LoadAndDelete(surfaceID)
	if !ok {
		return
	}
	ctrl.Close()
	ctrl.Surface().Detach()
	logger.Debug("[SESSION] released surface %s", surfaceID)
}

// CloseAll releases every surface. Used at shutdown.
func (m *Manager) CloseAll() {
	m.controllers.Range(func(id string, ctrl *Controller) bool {
		ctrl.Close()
		ctrl.Surface().Detach()
		m.controllers.Delete(id)
		return true
	})
}

// Range visits every live controller.
func (m *Manager) Range(fn func(surfaceID string, ctrl *Controller) bool) {
	m.controllers.Range(fn)
}
