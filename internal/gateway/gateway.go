package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/metrics"
	"github.com/flemzord/nutsub/internal/reload"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/subscription"
	"github.com/flemzord/nutsub/internal/timelock"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It exposes health, metrics, the
// subscription admin API and webhook endpoints. It is a leaf module:
// nothing imports it.
type Gateway struct {
	config     Config
	configPath string
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	metrics    *Metrics
	dispatcher *WebhookDispatcher
	registry   *prometheus.Registry
	startedAt  time.Time

	// Resolved at Start() via the service registry.
	ledger      *subscription.Ledger
	projection  *subscription.Projection
	minters     timelock.MinterProvider
	signals     *bus.Bus
	audit       *security.AuditLogger
	limiter     *security.RateLimiter
	reloader    *reload.Handler
	stopProject context.CancelFunc
	projectDone chan struct{}
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = &Metrics{}
	g.dispatcher = NewWebhookDispatcher(g.logger, g.config.MaxBodyBytes)

	if !g.config.DisableMetrics {
		reg, err := metrics.NewRegistry()
		if err != nil {
			return fmt.Errorf("gateway: metrics registry: %w", err)
		}
		g.registry = reg
	}

	// Other modules may register their own webhook sources.
	ctx.RegisterService(core.ServiceWebhooks, g.dispatcher)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.validate()
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	store, err := core.Service[ledger.Store](g.appCtx, core.ServiceStore)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	var identities []string
	if svc, ok := g.appCtx.GetService(core.ServiceMessenger); ok {
		if id, ok := svc.(identityProvider); ok {
			identities = append(identities, id.Identity())
		}
	}
	g.ledger = subscription.NewLedger(store,
		subscription.WithLogger(g.logger),
		subscription.WithIdentity(identities...),
	)

	// Optional services degrade the matching endpoints to 503.
	if p, err := core.Service[timelock.MinterProvider](g.appCtx, core.ServiceMinter); err == nil {
		g.minters = p
	}
	if b, err := core.Service[*bus.Bus](g.appCtx, core.ServiceSignals); err == nil {
		g.signals = b
	}
	if a, err := core.Service[*security.AuditLogger](g.appCtx, core.ServiceAudit); err == nil {
		g.audit = a
	}
	if l, err := core.Service[*security.RateLimiter](g.appCtx, core.ServiceLimiter); err == nil {
		g.limiter = l
	}
	if h, err := core.Service[*reload.Handler](g.appCtx, core.ServiceReload); err == nil {
		g.reloader = h
	}
	if p, err := core.Service[string](g.appCtx, core.ServiceConfigPath); err == nil {
		g.configPath = p
	}

	if src, ok := g.config.Webhooks[webhookSourceDM]; ok {
		if err := g.dispatcher.Register(webhookSourceDM, &dmWebhook{ledger: g.ledger, metrics: g.metrics}, src.Secret); err != nil {
			return err
		}
	}

	g.startProjection(store)
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		g.stopProjection()
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	err := g.server.Shutdown(shutdownCtx)
	g.stopProjection()
	return err
}

// startProjection keeps a live view of the subscriptions table for the
// health and status endpoints.
func (g *Gateway) startProjection(store ledger.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	g.projection = subscription.NewProjection(store, nil)
	g.stopProject = cancel
	g.projectDone = make(chan struct{})
	go func() {
		defer close(g.projectDone)
		if err := g.projection.Run(ctx); err != nil {
			g.logger.Warn("subscription projection stopped", "error", err)
		}
	}()
}

func (g *Gateway) stopProjection() {
	if g.stopProject == nil {
		return
	}
	g.stopProject()
	<-g.projectDone
	g.stopProject = nil
}
