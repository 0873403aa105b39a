package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/reload"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime        int64                         `json:"uptime_seconds"`
	Metrics       MetricsSnapshot               `json:"metrics"`
	Subscriptions int                           `json:"subscriptions"`
	Intervals     map[ledger.IntervalStatus]int `json:"intervals"`
	Tokens        map[ledger.TokenStatus]int    `json:"tokens"`
	Bridges       *int                          `json:"bridges,omitempty"`
	Reload        *reload.Status                `json:"reload,omitempty"`
}

// connectionCounter is implemented by the messenger hub.
type connectionCounter interface {
	Connections() int
}

// identityProvider is implemented by the messenger hub. Relayed payment
// notices must be addressed to this npub.
type identityProvider interface {
	Identity() string
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(time.Since(g.startedAt) / time.Second),
			Metrics:   g.metrics.Snapshot(),
			Tokens:    make(map[ledger.TokenStatus]int),
			Intervals: make(map[ledger.IntervalStatus]int),
		}

		for _, sub := range g.projection.Snapshot() {
			resp.Subscriptions++
			for _, iv := range sub.Intervals {
				resp.Intervals[iv.Status]++
			}
		}

		toks, err := g.ledger.LockedTokens(r.Context())
		if err != nil {
			g.writeError(w, err)
			return
		}
		for _, tok := range toks {
			resp.Tokens[tok.Status]++
		}

		if svc, ok := g.appCtx.GetService(core.ServiceMessenger); ok {
			if c, ok := svc.(connectionCounter); ok {
				n := c.Connections()
				resp.Bridges = &n
			}
		}

		if g.reloader != nil {
			st := g.reloader.Status()
			resp.Reload = &st
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
