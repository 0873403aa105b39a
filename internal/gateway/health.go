package gateway

import (
	"net/http"

	"github.com/flemzord/nutsub/internal/ledger"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"` // "ok" or "starting"
	Subscriptions int    `json:"subscriptions"`
	Active        int    `json:"active"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 once the subscription projection is loaded, 503 before.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		select {
		case <-g.projection.Ready():
			for _, sub := range g.projection.Snapshot() {
				resp.Subscriptions++
				if sub.Status == ledger.SubscriptionActive {
					resp.Active++
				}
			}
		default:
			resp.Status = "starting"
		}

		code := http.StatusOK
		if resp.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
