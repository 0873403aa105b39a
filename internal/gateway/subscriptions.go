package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/subscription"
	"github.com/flemzord/nutsub/internal/timelock"
)

// subscribeRequest is the body of POST /api/subscriptions.
type subscribeRequest struct {
	CreatorNpub       string    `json:"creator_npub" validate:"required"`
	SubscriberNpub    string    `json:"subscriber_npub"`
	TierID            string    `json:"tier_id" validate:"required"`
	TierName          string    `json:"tier_name"`
	CreatorName       string    `json:"creator_name"`
	CreatorAvatar     string    `json:"creator_avatar"`
	Benefits          []string  `json:"benefits"`
	CreatorP2PK       string    `json:"creator_p2pk" validate:"required,hexadecimal"`
	MintURL           string    `json:"mint_url" validate:"required,url"`
	Unit              string    `json:"unit"`
	AmountPerInterval uint64    `json:"amount_per_interval" validate:"gt=0"`
	Frequency         string    `json:"frequency"`
	IntervalDays      int       `json:"interval_days" validate:"gte=0"`
	StartDate         time.Time `json:"start_date"`
	Periods           int       `json:"periods" validate:"gt=0,lte=120"`
	LockFirstPeriod   bool      `json:"lock_first_period"`
	ManualRedeem      bool      `json:"manual_redeem"`
}

// cancelRequest is the body of POST /api/subscriptions/cancel.
type cancelRequest struct {
	CreatorNpub string `json:"creator_npub" validate:"required"`
}

// cancelResponse reports what a cancellation changed.
type cancelResponse struct {
	Cancelled       []string `json:"cancelled"`
	DeletedTokenIDs []string `json:"deleted_token_ids"`
}

// handleListSubscriptions lists subscriptions, optionally those of one
// creator (?creator=npub).
func (g *Gateway) handleListSubscriptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			subs []ledger.Subscription
			err  error
		)
		if creator := r.URL.Query().Get("creator"); creator != "" {
			subs, err = g.ledger.ListByCreator(r.Context(), creator)
		} else {
			subs, err = g.ledger.List(r.Context())
		}
		if err != nil {
			g.writeError(w, err)
			return
		}
		if subs == nil {
			subs = []ledger.Subscription{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

// handleSubscribe funds a new subscription through the wallet bridge.
func (g *Gateway) handleSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.minters == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no wallet configured"})
			return
		}
		var req subscribeRequest
		if !g.decodeBody(w, r, &req) {
			return
		}
		if req.StartDate.IsZero() {
			req.StartDate = time.Now().UTC()
		}

		minter, err := g.minters.OutputMinter(req.MintURL, req.Unit)
		if err != nil {
			g.writeError(w, err)
			return
		}
		sub, err := g.ledger.Subscribe(r.Context(), minter, subscription.SubscribeInput{
			CreatorNpub:       req.CreatorNpub,
			SubscriberNpub:    req.SubscriberNpub,
			TierID:            req.TierID,
			TierName:          req.TierName,
			CreatorName:       req.CreatorName,
			CreatorAvatar:     req.CreatorAvatar,
			Benefits:          req.Benefits,
			CreatorP2PK:       req.CreatorP2PK,
			MintURL:           req.MintURL,
			Unit:              req.Unit,
			AmountPerInterval: req.AmountPerInterval,
			Frequency:         req.Frequency,
			IntervalDays:      req.IntervalDays,
			StartDate:         req.StartDate,
			Periods:           req.Periods,
			LockFirstPeriod:   req.LockFirstPeriod,
			ManualRedeem:      req.ManualRedeem,
		})
		if err != nil {
			g.writeError(w, err)
			return
		}

		g.metrics.RecordSubscribe()
		g.logger.Info("subscription created",
			"subscription_id", sub.ID,
			"creator_npub", sub.CreatorNpub,
			"periods", sub.CommitmentLength,
		)
		writeJSON(w, http.StatusCreated, sub)
	}
}

// handleCancel cancels every subscription paying a creator.
func (g *Gateway) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if !g.decodeBody(w, r, &req) {
			return
		}
		res, err := g.ledger.Cancel(r.Context(), req.CreatorNpub)
		if err != nil {
			g.writeError(w, err)
			return
		}

		g.metrics.RecordCancel(len(res.Cancelled))
		g.auditLog(r, security.AuditEvent{
			Type:        security.EventSubscriptionCancel,
			CreatorNpub: req.CreatorNpub,
			Detail:      strconv.Itoa(len(res.DeletedTokenIDs)) + " future tokens deleted",
		})
		resp := cancelResponse{Cancelled: res.Cancelled, DeletedTokenIDs: res.DeletedTokenIDs}
		if resp.Cancelled == nil {
			resp.Cancelled = []string{}
		}
		if resp.DeletedTokenIDs == nil {
			resp.DeletedTokenIDs = []string{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (g *Gateway) handleGetSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := g.ledger.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func (g *Gateway) handleDeleteSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.ledger.Delete(r.Context(), id); err != nil {
			g.writeError(w, err)
			return
		}
		g.metrics.RecordDelete()
		g.auditLog(r, security.AuditEvent{
			Type:           security.EventSubscriptionDelete,
			SubscriptionID: id,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleMarkRedeemed marks one interval claimed, for tokens redeemed
// outside the workers.
func (g *Gateway) handleMarkRedeemed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month, err := strconv.Atoi(chi.URLParam(r, "month"))
		if err != nil || month < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid month index"})
			return
		}
		if err := g.ledger.MarkIntervalRedeemed(r.Context(), chi.URLParam(r, "id"), month); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListLockedTokens lists locked-token rows, optionally filtered by
// status (?status=pending).
func (g *Gateway) handleListLockedTokens() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toks, err := g.ledger.LockedTokens(r.Context())
		if err != nil {
			g.writeError(w, err)
			return
		}
		out := make([]ledger.LockedToken, 0, len(toks))
		status := ledger.TokenStatus(r.URL.Query().Get("status"))
		for _, tok := range toks {
			if status == "" || tok.Status == status {
				out = append(out, tok)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleTrigger asks every redemption worker for an immediate pass.
func (g *Gateway) handleTrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.signals == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "signal bus not available"})
			return
		}
		n := g.signals.Publish(bus.TopicRedeemTrigger, nil)
		g.metrics.RecordTrigger()
		g.auditLog(r, security.AuditEvent{
			Type:   security.EventRedeemTrigger,
			Detail: strconv.Itoa(n) + " workers notified",
		})
		writeJSON(w, http.StatusAccepted, map[string]int{"workers": n})
	}
}

// decodeBody reads a bounded JSON body into v and validates it. It writes
// the error response itself and reports whether decoding succeeded.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return false
	}
	if err := security.DecodeJSON(body, v); err != nil {
		msg := err.Error()
		if errors.Is(err, security.ErrInvalidJSON) {
			msg = "invalid JSON body"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, subscription.ErrIntervalNotFound):
		code = http.StatusNotFound
	case errors.Is(err, subscription.ErrInvalidInput),
		errors.Is(err, timelock.ErrUnevenSplit),
		errors.Is(err, timelock.ErrInvalidParams):
		code = http.StatusBadRequest
	case errors.Is(err, security.ErrMintNotAllowed):
		code = http.StatusForbidden
	}
	if code == http.StatusInternalServerError {
		g.metrics.RecordError()
		g.logger.Error("admin request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// auditLog records ev with the request's remote address when an audit
// logger is configured.
func (g *Gateway) auditLog(r *http.Request, ev security.AuditEvent) {
	if g.audit == nil {
		return
	}
	ev.RemoteAddr = r.RemoteAddr
	g.audit.Log(ev)
}
