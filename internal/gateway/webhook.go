package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/subscription"
)

// webhookSourceDM receives direct messages relayed over HTTP.
const webhookSourceDM = "dm"

// SignatureHeader carries "sha256=<hex HMAC-SHA256 of the body>".
const SignatureHeader = "X-Signature-256"

// WebhookHandler processes a payload whose signature was verified.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error
}

type webhookEntry struct {
	handler WebhookHandler
	secret  []byte
}

// WebhookDispatcher serves POST /webhooks/{source}: it bounds the body,
// verifies the source's HMAC signature and hands the payload to the
// source's handler.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	maxBody  int64
	logger   *slog.Logger
}

// NewWebhookDispatcher creates a dispatcher accepting bodies up to
// maxBody bytes.
func NewWebhookDispatcher(logger *slog.Logger, maxBody int64) *WebhookDispatcher {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		maxBody:  maxBody,
		logger:   logger,
	}
}

// Register binds a source to its handler. Every source must be signed.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) error {
	if secret == "" {
		return fmt.Errorf("gateway: webhook source %q has no secret", source)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: []byte(secret)}
	return nil
}

func (d *WebhookDispatcher) lookup(source string) (webhookEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.handlers[source]
	return e, ok
}

// ServeHTTP implements http.Handler.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	entry, ok := d.lookup(source)
	if !ok {
		d.logger.Warn("webhook for unknown source", "source", source)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}
	if !verifySignature(body, r.Header.Get(SignatureHeader), entry.secret) {
		d.logger.Warn("webhook signature mismatch", "source", source, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	switch err := entry.handler.HandleWebhook(r.Context(), source, body, r.Header); {
	case errors.Is(err, errBadPayload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		d.logger.Error("webhook handler failed", "source", source, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// verifySignature checks a "sha256=<hex>" HMAC of body.
func verifySignature(body []byte, header string, secret []byte) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

var errBadPayload = errors.New("gateway: bad webhook payload")

// dmPayload is one direct message relayed to the dm webhook.
type dmPayload struct {
	From    string `json:"from" validate:"required"`
	To      string `json:"to" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// dmWebhook feeds relayed direct messages to the subscription ledger, so
// payment and claimed notices update it.
type dmWebhook struct {
	ledger  messageHandler
	metrics *Metrics
}

// messageHandler is implemented by subscription.Ledger.
type messageHandler interface {
	HandleMessage(ctx context.Context, senderNpub, recipientNpub, payload string) (bool, error)
}

// HandleWebhook implements WebhookHandler.
func (h *dmWebhook) HandleWebhook(ctx context.Context, _ string, body []byte, _ http.Header) error {
	var msg dmPayload
	if err := security.DecodeJSON(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}
	h.metrics.RecordMessage()
	if _, err := h.ledger.HandleMessage(ctx, msg.From, msg.To, msg.Content); err != nil {
		if errors.Is(err, subscription.ErrInvalidInput) {
			return fmt.Errorf("%w: %w", errBadPayload, err)
		}
		return fmt.Errorf("gateway: handle dm: %w", err)
	}
	return nil
}
