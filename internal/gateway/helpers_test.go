package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/timelock"
)

const (
	testToken  = "test-token"
	creatorKey = "02a1633cafcc01ebfb6d78e39f687a1f0995c62fc95f51ead10a02ee0be551b5dc"
	mintURL    = "https://mint.example"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// fakeMinter mints one proof per requested amount.
type fakeMinter struct {
	err error
}

func (m fakeMinter) Split(_ context.Context, amounts []uint64, opts timelock.SplitOptions) ([]cashu.Proof, error) {
	if m.err != nil {
		return nil, m.err
	}
	proofs := make([]cashu.Proof, len(amounts))
	for i, amt := range amounts {
		secret, err := opts.BuildSecret(i)
		if err != nil {
			return nil, err
		}
		proofs[i] = cashu.Proof{ID: "009a1f293253e41e", Amount: amt, Secret: secret, C: fmt.Sprintf("c%d", i)}
	}
	return proofs, nil
}

// fakeMinters hands out fakeMinter for every allowed mint.
type fakeMinters struct {
	minter fakeMinter
	filter *security.MintFilter
}

func (p fakeMinters) OutputMinter(mint, _ string) (timelock.OutputMinter, error) {
	if p.filter != nil {
		if err := p.filter.Check(mint); err != nil {
			return nil, err
		}
	}
	return p.minter, nil
}

// testEnv is a started gateway over an in-memory ledger.
type testEnv struct {
	g       *Gateway
	base    string
	store   *ledger.InMemoryStore
	signals *bus.Bus
	auditCh chan security.AuditEvent
}

type envOption func(ctx *core.AppContext, cfg *Config)

func withMinters(p timelock.MinterProvider) envOption {
	return func(ctx *core.AppContext, _ *Config) { ctx.RegisterService(core.ServiceMinter, p) }
}

func withConfigPath(path string) envOption {
	return func(ctx *core.AppContext, _ *Config) { ctx.RegisterService(core.ServiceConfigPath, path) }
}

func withoutAuth() envOption {
	return func(_ *core.AppContext, cfg *Config) { cfg.Auth = AuthConfig{} }
}

func withWebhook(secret string) envOption {
	return func(_ *core.AppContext, cfg *Config) {
		cfg.Webhooks = map[string]WebhookSourceCfg{webhookSourceDM: {Secret: secret}}
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	e := &testEnv{
		store:   ledger.NewInMemoryStore(),
		signals: bus.New(),
		auditCh: make(chan security.AuditEvent, 256),
	}
	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	appCtx.RegisterService(core.ServiceStore, e.store)
	appCtx.RegisterService(core.ServiceSignals, e.signals)
	appCtx.RegisterService(core.ServiceAudit, security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(ev security.AuditEvent) {
			select {
			case e.auditCh <- ev:
			default:
			}
		},
	}))

	cfg := Config{
		Bind:            freeAddr(t),
		Auth:            AuthConfig{BearerToken: testToken},
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(appCtx, &cfg)
	}

	e.g = &Gateway{config: cfg}
	if err := e.g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := e.g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := e.g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = e.g.Stop(context.Background())
		e.signals.Close()
		_ = e.store.Close()
	})

	select {
	case <-e.g.projection.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("projection never became ready")
	}
	e.base = "http://" + cfg.Bind
	return e
}

// nextAudit returns the next audit event of type typ.
func (e *testEnv) nextAudit(t *testing.T, typ security.EventType) security.AuditEvent {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-e.auditCh:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s audit event", typ)
			return security.AuditEvent{}
		}
	}
}

// do sends an authenticated request with an optional JSON body.
func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.base+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decode reads a JSON response body into v.
func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doGet makes an unauthenticated GET request.
func doGet(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
