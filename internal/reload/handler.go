package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/core"
)

// Status summarises the reloads attempted since start.
type Status struct {
	Reloads   int       `json:"reloads"`
	Failures  int       `json:"failures"`
	LastAt    time.Time `json:"last_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Handler re-reads the config file and hands the new module nodes to the
// running modules. SIGHUP, the file watcher and the admin API may all
// trigger it; reloads run one at a time.
type Handler struct {
	app    *core.App
	base   *core.AppContext
	logger *slog.Logger
	onLoad func(*config.Config)

	mu     sync.Mutex
	status Status
	now    func() time.Time
}

// NewHandler creates a Handler. Module nodes are swapped on base so the
// services registered at startup stay visible to reloading modules.
func NewHandler(app *core.App, base *core.AppContext, logger *slog.Logger) *Handler {
	return &Handler{app: app, base: base, logger: logger, now: time.Now}
}

// OnLoad sets a callback run with every accepted config before the modules
// reload. It carries process-wide settings such as auto_redeem.
func (h *Handler) OnLoad(fn func(*config.Config)) {
	h.onLoad = fn
}

// HandleReload loads and validates configPath. A config that fails either
// step leaves the running modules untouched.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.reload(ctx, configPath)
	h.status.LastAt = h.now()
	if err != nil {
		h.status.Failures++
		h.status.LastError = err.Error()
		return err
	}
	h.status.Reloads++
	h.status.LastError = ""
	return nil
}

// Status returns a copy of the reload counters.
func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handler) reload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg, config.RequiredNamespaces...); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload cancelled: %w", err)
	}

	if h.onLoad != nil {
		h.onLoad(cfg)
	}
	if err := h.app.ReloadModules(h.base.WithModuleConfigs(cfg.Modules)); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}
	h.logger.Info("configuration reloaded", "path", configPath, "modules", len(cfg.Modules))
	return nil
}
