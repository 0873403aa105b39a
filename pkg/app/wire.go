package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/reload"
	"github.com/flemzord/nutsub/internal/security"
)

// Node is a configured nutsub instance whose modules are loaded and
// provisioned but not necessarily started. The CLI uses it directly for
// one-shot commands; Run starts it and blocks.
type Node struct {
	App        *core.App
	Context    *core.AppContext
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Signals    *bus.Bus
	AutoRedeem *atomic.Bool
	Reloader   *reload.Handler

	closers []io.Closer
	closed  bool
}

// Load resolves the configuration, builds the shared services and loads
// every configured module. Callers must Close the returned Node.
func Load(params RunParams) (*Node, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, config.RequiredNamespaces...); err != nil {
		return nil, err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	redactor := security.NewRedactor()
	var out io.Writer = os.Stderr
	if params.LogOutput != nil {
		out = params.LogOutput
	}
	inner := slog.NewTextHandler(out, &slog.HandlerOptions{Level: params.LogLevel})
	logger := slog.New(security.NewRedactingHandler(inner, redactor))

	n := &Node{
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     logger,
		Signals:    bus.New(),
		AutoRedeem: &atomic.Bool{},
	}
	n.AutoRedeem.Store(cfg.AutoRedeemEnabled())

	var limits security.RateLimitConfig
	auditCfg := security.AuditLoggerConfig{Redactor: redactor}
	if cfg.Security != nil {
		limits = cfg.Security.RateLimits
		if path := cfg.Security.AuditLog; path != "" {
			if !filepath.IsAbs(path) {
				path = filepath.Join(dataDir, path)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				n.Signals.Close()
				return nil, fmt.Errorf("opening audit log: %w", err)
			}
			n.closers = append(n.closers, f)
			auditCfg.Writer = f
		}
	}
	auditLogger := security.NewAuditLogger(auditCfg)
	rateLimiter := security.NewRateLimiter(limits)

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(core.ServiceRedactor, redactor)
	appCtx.RegisterService(core.ServiceAudit, auditLogger)
	appCtx.RegisterService(core.ServiceLimiter, rateLimiter)
	appCtx.RegisterService(core.ServiceSignals, n.Signals)
	appCtx.RegisterService(core.ServiceAutoRedeem, n.AutoRedeem)
	appCtx.RegisterService(core.ServiceConfigPath, cfgPath)
	appCtx.RegisterService("app.version", params.Version)
	n.Context = appCtx

	n.App = core.NewApp(appCtx)
	if err := n.App.LoadModules(config.Resolve(cfg)); err != nil {
		n.closeResources()
		return nil, err
	}

	// Registered before Start so the gateway can resolve it.
	n.Reloader = reload.NewHandler(n.App, appCtx, logger)
	n.Reloader.OnLoad(func(c *config.Config) {
		n.AutoRedeem.Store(c.AutoRedeemEnabled())
	})
	appCtx.RegisterService(core.ServiceReload, n.Reloader)

	return n, nil
}

// Start starts every loaded module.
func (n *Node) Start() error {
	return n.App.Start()
}

// RunOnce runs a single pass of every loaded module that implements
// core.Runner. Modules are not started.
func (n *Node) RunOnce(ctx context.Context) (int, error) {
	return n.App.RunOnce(ctx)
}

// Close stops started modules, releases the ones that were only loaded and
// closes the shared resources. It is safe to call more than once.
func (n *Node) Close() {
	if n.closed {
		return
	}
	n.closed = true
	n.App.Stop()
	n.App.Release()
	n.closeResources()
}

func (n *Node) closeResources() {
	n.Signals.Close()
	for _, c := range n.closers {
		_ = c.Close()
	}
	n.closers = nil
}
