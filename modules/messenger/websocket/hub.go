package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/flemzord/nutsub/internal/metrics"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/google/uuid"
)

var (
	// ErrNoBridge is returned by SendDM when no bridge is connected.
	ErrNoBridge = errors.New("messenger: no DM bridge connected")

	// ErrDelivery is returned when the bridge reports a failed send.
	ErrDelivery = errors.New("messenger: delivery failed")

	// ErrInvalidToken is returned when a bridge presents an unknown token.
	ErrInvalidToken = errors.New("messenger: invalid bridge token")

	// ErrMaxConnections is returned when the connection cap is reached.
	ErrMaxConnections = errors.New("messenger: maximum bridge connections reached")
)

var _ redeem.Messenger = (*Hub)(nil)

// MessageHandler applies an incoming DM. It reports whether the payload
// was understood.
type MessageHandler func(ctx context.Context, senderNpub, recipientNpub, payload string) (bool, error)

// Hub relays direct messages through the connected DM bridges.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	tokens  map[string]struct{}
	limiter *security.RateLimiter
	audit   *security.AuditLogger

	mu      sync.Mutex
	conns   []*bridgeConn
	handler MessageHandler
}

// NewHub creates a hub for cfg. limiter and audit may be nil.
func NewHub(cfg Config, logger *slog.Logger, limiter *security.RateLimiter, audit *security.AuditLogger) *Hub {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	tokens := make(map[string]struct{}, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t] = struct{}{}
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		tokens:  tokens,
		limiter: limiter,
		audit:   audit,
	}
}

// SetHandler installs the handler of incoming messages.
func (h *Hub) SetHandler(fn MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Identity returns the node npub configured for the relay, possibly empty.
func (h *Hub) Identity() string { return h.cfg.Npub }

// Connections returns the number of connected bridges.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// SendDM implements redeem.Messenger. The message goes to the most
// recently connected bridge and SendDM waits for its ack.
func (h *Hub) SendDM(ctx context.Context, npub, payload string) error {
	h.mu.Lock()
	var c *bridgeConn
	if n := len(h.conns); n > 0 {
		c = h.conns[n-1]
	}
	h.mu.Unlock()
	if c == nil {
		metrics.DirectMessages.WithLabelValues("out", "error").Inc()
		return ErrNoBridge
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.AckTimeout)
	defer cancel()

	err := c.send(ctx, DirectMessage{To: npub, Content: payload})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DirectMessages.WithLabelValues("out", result).Inc()
	return err
}

// ServeHTTP accepts a bridge connection and runs it until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Server timeouts bound the upgrade request, not the bridge connection.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(ws.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	c := &bridgeConn{
		id:      uuid.NewString(),
		ws:      conn,
		pending: make(map[string]chan Ack),
	}

	ctx := r.Context()
	if err := h.handshake(ctx, c, r.RemoteAddr); err != nil {
		h.logger.Warn("bridge handshake failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer h.remove(c)

	h.logger.Info("DM bridge connected", "bridge_id", c.id, "name", c.name)
	h.readLoop(ctx, c)
	h.logger.Info("DM bridge disconnected", "bridge_id", c.id)
}

// Close disconnects every bridge.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(ws.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) handshake(ctx context.Context, c *bridgeConn, remote string) error {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	_, data, err := c.ws.Read(helloCtx)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != FrameHello {
		c.writeError(ctx, f.ID, "expected hello")
		return errors.New("expected hello frame")
	}
	var hello Hello
	if err := json.Unmarshal(f.Payload, &hello); err != nil {
		c.writeError(ctx, f.ID, "invalid hello payload")
		return fmt.Errorf("decode hello: %w", err)
	}
	if _, ok := h.tokens[hello.Token]; !ok {
		h.auditEvent(security.AuditEvent{Type: security.EventAuthFailure, RemoteAddr: remote, Detail: "messenger bridge"})
		c.writeError(ctx, f.ID, "invalid token")
		return ErrInvalidToken
	}
	c.name = hello.Name

	h.mu.Lock()
	if len(h.conns) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		c.writeError(ctx, f.ID, "maximum connections reached")
		return ErrMaxConnections
	}
	h.conns = append(h.conns, c)
	h.mu.Unlock()

	h.auditEvent(security.AuditEvent{Type: security.EventAuthSuccess, Actor: c.name, RemoteAddr: remote, Detail: "messenger bridge"})
	return c.write(ctx, Frame{Type: FrameWelcome, ID: f.ID})
}

func (h *Hub) remove(c *bridgeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.conns {
		if x == c {
			h.conns = append(h.conns[:i], h.conns[i+1:]...)
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *bridgeConn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := security.DecodeJSON(data, &f); err != nil {
			h.logger.Warn("invalid frame from bridge", "bridge_id", c.id, "error", err)
			continue
		}

		switch f.Type {
		case FrameAck:
			var ack Ack
			if err := json.Unmarshal(f.Payload, &ack); err != nil {
				h.logger.Warn("invalid dm_ack", "bridge_id", c.id, "error", err)
				continue
			}
			c.resolve(f.ID, ack)

		case FrameReceived:
			var dm DirectMessage
			if err := json.Unmarshal(f.Payload, &dm); err != nil {
				c.ack(ctx, f.ID, "invalid payload")
				continue
			}
			ack := ""
			if err := h.receive(ctx, dm); err != nil {
				ack = err.Error()
			}
			c.ack(ctx, f.ID, ack)

		default:
			h.logger.Warn("unexpected frame type", "bridge_id", c.id, "type", f.Type)
		}
	}
}

// receive applies one incoming message.
func (h *Hub) receive(ctx context.Context, dm DirectMessage) error {
	if dm.From == "" {
		metrics.DirectMessages.WithLabelValues("in", "rejected").Inc()
		return errors.New("missing sender")
	}
	if h.limiter != nil {
		if err := h.limiter.Allow(security.KindMessage, dm.From); err != nil {
			metrics.DirectMessages.WithLabelValues("in", "rejected").Inc()
			h.auditEvent(security.AuditEvent{Type: security.EventRateLimit, Actor: dm.From, Detail: "direct message"})
			return err
		}
	}
	if err := security.ValidateMessageSize([]byte(dm.Content), int(h.cfg.MaxMessageSize)); err != nil {
		metrics.DirectMessages.WithLabelValues("in", "rejected").Inc()
		h.auditEvent(security.AuditEvent{Type: security.EventMessageRejected, Actor: dm.From, Detail: err.Error()})
		return err
	}

	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	if handler == nil {
		metrics.DirectMessages.WithLabelValues("in", "ignored").Inc()
		return nil
	}

	to := dm.To
	if to == "" {
		to = h.cfg.Npub
	}
	handled, err := handler(ctx, dm.From, to, dm.Content)
	switch {
	case err != nil:
		metrics.DirectMessages.WithLabelValues("in", "error").Inc()
		h.logger.Warn("incoming message failed", "from", dm.From, "error", err)
		return err
	case handled:
		metrics.DirectMessages.WithLabelValues("in", "ok").Inc()
	default:
		metrics.DirectMessages.WithLabelValues("in", "ignored").Inc()
	}
	return nil
}

func (h *Hub) auditEvent(ev security.AuditEvent) {
	if h.audit != nil {
		h.audit.Log(ev)
	}
}

// bridgeConn is one connected DM bridge.
type bridgeConn struct {
	id   string
	name string
	ws   *ws.Conn

	mu      sync.Mutex
	pending map[string]chan Ack
}

// send writes a dm_send frame and waits for the matching ack.
func (c *bridgeConn) send(ctx context.Context, dm DirectMessage) error {
	id := uuid.NewString()
	ch := make(chan Ack, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(dm)
	if err != nil {
		return fmt.Errorf("messenger: marshal message: %w", err)
	}
	if err := c.write(ctx, Frame{Type: FrameSend, ID: id, Payload: payload}); err != nil {
		return fmt.Errorf("messenger: write to bridge %s: %w", c.id, err)
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return fmt.Errorf("%w: %s", ErrDelivery, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("messenger: waiting for ack: %w", ctx.Err())
	}
}

func (c *bridgeConn) resolve(id string, ack Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[id]; ok {
		// Late or duplicate acks are dropped.
		select {
		case ch <- ack:
		default:
		}
	}
}

func (c *bridgeConn) ack(ctx context.Context, id, errMsg string) {
	payload, _ := json.Marshal(Ack{Error: errMsg})
	_ = c.write(ctx, Frame{Type: FrameAck, ID: id, Payload: payload})
}

func (c *bridgeConn) writeError(ctx context.Context, id, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	_ = c.write(ctx, Frame{Type: FrameError, ID: id, Payload: payload})
}

func (c *bridgeConn) write(ctx context.Context, f Frame) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, ws.MessageText, data)
}
