package reload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/core"
	"gopkg.in/yaml.v3"
)

// reloadCount is shared by every fakeReloader instance.
var reloadCount atomic.Int32

type fakeReloader struct {
	id       core.ModuleID
	interval string
}

func (m *fakeReloader) ModuleInfo() core.ModuleInfo {
	id := m.id
	return core.ModuleInfo{ID: id, New: func() core.Module { return &fakeReloader{id: id} }}
}

func (m *fakeReloader) Configure(node *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	m.interval = raw.Interval
	return nil
}

func (m *fakeReloader) Reload(ctx *core.AppContext) error {
	if _, err := core.Service[string](ctx, "test.marker"); err != nil {
		return err
	}
	reloadCount.Add(1)
	return nil
}

func init() {
	for _, id := range []core.ModuleID{"ledger.reloadfake", "wallet.reloadfake", "keys.reloadfake"} {
		core.RegisterModule(&fakeReloader{id: id})
	}
}

const validConfig = `version: "1"
modules:
  ledger.reloadfake: {}
  wallet.reloadfake: {}
  keys.reloadfake:
    interval: 10s
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(t *testing.T) (*Handler, *core.AppContext) {
	t.Helper()
	logger := testLogger()
	appCtx := core.NewAppContext(logger, t.TempDir())
	return NewHandler(core.NewApp(appCtx), appCtx, logger), appCtx
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nutsub.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return path
}

func TestHandler_HandleReload_FileNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	if err := h.HandleReload(context.Background(), "/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestHandler_HandleReload_InvalidConfig(t *testing.T) {
	h, _ := newTestHandler(t)

	if err := h.HandleReload(context.Background(), writeConfig(t, "modules: {}")); err == nil {
		t.Error("expected validation error")
	}
}

func TestHandler_HandleReload_UnknownModule(t *testing.T) {
	h, _ := newTestHandler(t)

	err := h.HandleReload(context.Background(), writeConfig(t, validConfig+"  fake.mod: {}\n"))
	if err == nil {
		t.Error("expected validation error for unknown module")
	}
}

func TestHandler_HandleReload_MissingRequiredNamespace(t *testing.T) {
	h, _ := newTestHandler(t)

	content := "version: \"1\"\nmodules:\n  ledger.reloadfake: {}\n"
	if err := h.HandleReload(context.Background(), writeConfig(t, content)); err == nil {
		t.Error("expected error when wallet and keys modules are missing")
	}
}

func TestHandler_HandleReload_ReloadsModulesWithServices(t *testing.T) {
	logger := testLogger()
	appCtx := core.NewAppContext(logger, t.TempDir())
	appCtx.RegisterService("test.marker", "present")

	path := writeConfig(t, validConfig)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	app := core.NewApp(appCtx.WithModuleConfigs(cfg.Modules))
	if err := app.LoadModules(config.Resolve(cfg)); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}

	h := NewHandler(app, appCtx, logger)
	var seen *config.Config
	h.OnLoad(func(c *config.Config) { seen = c })

	before := reloadCount.Load()
	if err := h.HandleReload(context.Background(), path); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	if got := reloadCount.Load() - before; got != 3 {
		t.Errorf("reloaded %d modules, want 3", got)
	}
	if seen == nil || len(seen.Modules) != 3 {
		t.Errorf("OnLoad not called with the new config: %+v", seen)
	}
}

func TestHandler_HandleReload_CancelledContext(t *testing.T) {
	h, _ := newTestHandler(t)
	called := false
	h.OnLoad(func(*config.Config) { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.HandleReload(ctx, writeConfig(t, validConfig)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("OnLoad ran for a cancelled reload")
	}
}

func TestHandler_Status(t *testing.T) {
	h, _ := newTestHandler(t)
	at := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return at }

	if st := h.Status(); st != (Status{}) {
		t.Fatalf("initial status = %+v", st)
	}

	_ = h.HandleReload(context.Background(), "/nonexistent/config.yaml")
	st := h.Status()
	if st.Failures != 1 || st.Reloads != 0 || st.LastError == "" || !st.LastAt.Equal(at) {
		t.Fatalf("after failure: %+v", st)
	}

	if err := h.HandleReload(context.Background(), writeConfig(t, validConfig)); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	st = h.Status()
	if st.Reloads != 1 || st.Failures != 1 || st.LastError != "" {
		t.Errorf("after success: %+v", st)
	}
}

func TestHandler_ConcurrentReloads(t *testing.T) {
	h, _ := newTestHandler(t)
	path := writeConfig(t, validConfig)

	var inFlight, peak atomic.Int32
	h.OnLoad(func(*config.Config) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() { _ = h.HandleReload(context.Background(), path) })
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("%d reloads overlapped", peak.Load())
	}
	if got := h.Status().Reloads; got != 8 {
		t.Errorf("Reloads = %d, want 8", got)
	}
}
