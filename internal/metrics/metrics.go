// Package metrics holds the Prometheus collectors of the redemption
// workers and the admin gateway.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nutsub"

// Redemption outcomes used as the "outcome" label.
const (
	OutcomeClaimed      = "claimed"
	OutcomeAlreadySpent = "already_spent"
	OutcomeDecodeError  = "decode_error"
	OutcomeMissingKey   = "missing_key"
	OutcomeMintError    = "mint_error"
	OutcomeStuck        = "stuck"
	OutcomeClaimLost    = "claim_lost"
	OutcomeLedgerError  = "ledger_error"
)

var (
	// RedeemPasses counts completed redemption passes per worker.
	RedeemPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_passes_total",
			Help:      "Total number of redemption passes",
		},
		[]string{"worker"},
	)
	// RedeemPassDuration observes how long one pass takes.
	RedeemPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redeem_pass_duration_seconds",
			Help:      "Duration of redemption passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
	// RedeemTokens counts per-token outcomes.
	RedeemTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_tokens_total",
			Help:      "Locked tokens processed, by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)
	// RedeemedAmount sums the value of claimed tokens.
	RedeemedAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeemed_amount_total",
			Help:      "Total value of claimed tokens, by unit",
		},
		[]string{"unit"},
	)
	// LedgerWriteFailures counts ledger writes that failed after the mint
	// already swapped the proofs. Any increase needs operator attention.
	LedgerWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Ledger writes that failed after a successful mint receive",
		},
	)
	// NotifyFailures counts claim notifications that could not be sent.
	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Claim notifications that could not be delivered",
		},
	)
	// MaturedIntervals counts intervals flipped to unlockable.
	MaturedIntervals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matured_intervals_total",
			Help:      "Subscription intervals marked unlockable",
		},
	)
	// WalletRequests counts calls to the wallet daemon by operation and
	// result ("ok" or "error").
	WalletRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_requests_total",
			Help:      "Wallet daemon requests, by operation and result",
		},
		[]string{"op", "result"},
	)
	// DirectMessages counts DM frames by direction and result.
	DirectMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_messages_total",
			Help:      "Direct messages relayed through the messenger bridge",
		},
		[]string{"direction", "result"},
	)

	// HTTPRequestsTotal counts admin API requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// HTTPRequestDuration observes admin API latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RedeemPasses,
		RedeemPassDuration,
		RedeemTokens,
		RedeemedAmount,
		LedgerWriteFailures,
		NotifyFailures,
		MaturedIntervals,
		WalletRequests,
		DirectMessages,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}
}

// Register adds the collectors to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the package collectors plus the Go
// runtime and process collectors.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg, nil
}

// ObservePass records one completed pass of worker.
func ObservePass(worker string, started time.Time) {
	RedeemPasses.WithLabelValues(worker).Inc()
	RedeemPassDuration.WithLabelValues(worker).Observe(time.Since(started).Seconds())
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}
