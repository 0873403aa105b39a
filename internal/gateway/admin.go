// Package gateway provides the HTTP server for subscription administration,
// monitoring and webhooks. It binds to loopback by default and follows the
// module system pattern.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/security"
	"gopkg.in/yaml.v3"
)

type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Loaded    bool   `json:"loaded"`
}

// handleGetAllModules lists the compiled-in modules and marks those the
// running configuration enables.
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var out []moduleJSON
		for _, m := range core.GetModules() {
			_, loaded := g.appCtx.ModuleConfig(m.ID)
			out = append(out, moduleJSON{ID: string(m.ID), Namespace: m.ID.Namespace(), Loaded: loaded})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetConfig serves the config file as currently on disk, variables
// expanded and secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config path not set"})
			return
		}
		cfg, err := config.Load(g.configPath)
		if err != nil {
			g.writeError(w, err)
			return
		}
		tree, err := configTree(cfg)
		if err != nil {
			g.writeError(w, err)
			return
		}

		redactor, err := core.Service[*security.Redactor](g.appCtx, core.ServiceRedactor)
		if err != nil {
			redactor = security.NewRedactor()
		}
		redactor.RedactMap(tree)
		writeJSON(w, http.StatusOK, tree)
	}
}

// configTree renders cfg as plain maps. auto_redeem is always present with
// its effective value.
func configTree(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	tree["auto_redeem"] = cfg.AutoRedeemEnabled()
	return stringKeys(tree).(map[string]any), nil
}

// stringKeys rewrites the map[any]any values yaml produces for non-string
// keys so the tree encodes as JSON.
func stringKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = stringKeys(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = stringKeys(item)
		}
	}
	return v
}

// handleReloadConfig applies the config file to the running modules. A
// rejected file answers 400 and changes nothing.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.configPath == "" || g.reloader == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reload not available"})
			return
		}
		if err := g.reloader.HandleReload(r.Context(), g.configPath); err != nil {
			g.logger.Warn("config reload rejected", "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		g.auditLog(r, security.AuditEvent{Type: security.EventConfigReload, Detail: "admin api"})
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "reloaded",
			"reload": g.reloader.Status(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
