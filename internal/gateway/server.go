package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/metrics"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	// Webhooks, own HMAC auth per source.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)

	// Messenger bridge, authenticated by its own hello token.
	if svc, ok := g.appCtx.GetService(core.ServiceDMHandler); ok {
		if handler, ok := svc.(http.Handler); ok {
			r.Handle("/ws/messenger", handler)
		}
	}

	// Admin endpoints, auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.audit, g.limiter))
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Route("/subscriptions", func(r chi.Router) {
					r.Get("/", g.handleListSubscriptions())
					r.Post("/", g.handleSubscribe())
					r.Post("/cancel", g.handleCancel())
					r.Get("/{id}", g.handleGetSubscription())
					r.Delete("/{id}", g.handleDeleteSubscription())
					r.Post("/{id}/intervals/{month}/redeemed", g.handleMarkRedeemed())
				})
				r.Get("/locked-tokens", g.handleListLockedTokens())
				r.Post("/redeem/trigger", g.handleTrigger())
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())
			})
		})
	}

	return r
}
