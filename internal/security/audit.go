package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names what an audit entry records.
type EventType string

const (
	EventAuthSuccess        EventType = "auth_success"
	EventAuthFailure        EventType = "auth_failure"
	EventConfigReload       EventType = "config_reload"
	EventRateLimit          EventType = "rate_limit"
	EventRedeemTrigger      EventType = "redeem_trigger"
	EventTokenClaimed       EventType = "token_claimed"
	EventSubscriptionCancel EventType = "subscription_cancel"
	EventSubscriptionDelete EventType = "subscription_delete"
	EventMessageRejected    EventType = "message_rejected"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp      time.Time         `json:"timestamp"`
	Type           EventType         `json:"type"`
	Actor          string            `json:"actor,omitempty"`
	RemoteAddr     string            `json:"remote_addr,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	TokenID        string            `json:"token_id,omitempty"`
	CreatorNpub    string            `json:"creator_npub,omitempty"`
	Detail         string            `json:"detail,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures an AuditLogger.
type AuditLoggerConfig struct {
	// Writer receives one JSON object per line. Nil disables output.
	Writer io.Writer

	// Redactor scrubs Detail and Metadata values.
	Redactor *Redactor

	// OnEvent observes every event after redaction.
	OnEvent func(AuditEvent)

	Now func() time.Time
}

// AuditLogger appends operator-visible state changes to a JSONL trail.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	cfg      AuditLoggerConfig
	mu       sync.Mutex
	enc      *json.Encoder
	failures atomic.Int64
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &AuditLogger{cfg: cfg}
	if cfg.Writer != nil {
		l.enc = json.NewEncoder(cfg.Writer)
	}
	return l
}

// Log stamps, redacts and records event. The caller's Metadata map is not
// modified.
func (l *AuditLogger) Log(event AuditEvent) {
	if l == nil {
		return
	}
	event.Timestamp = l.cfg.Now()
	event.Metadata = maps.Clone(event.Metadata)
	if r := l.cfg.Redactor; r != nil {
		event.Detail = r.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = r.Redact(v)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.OnEvent != nil {
		l.cfg.OnEvent(event)
	}
	if l.enc != nil && l.enc.Encode(event) != nil {
		l.failures.Add(1)
	}
}

// WriteErrors returns how many events could not be written.
func (l *AuditLogger) WriteErrors() int64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}
