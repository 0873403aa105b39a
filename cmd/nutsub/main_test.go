package main

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/ledger"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"start"},
		{"version"},
		{"config", "check"},
		{"subscriptions", "list"},
		{"subscriptions", "cancel"},
		{"subscriptions", "delete"},
		{"redeem", "once"},
		{"service", "install"},
		{"service", "uninstall"},
		{"service", "run"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestVersionCmd_ListsModules(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"nutsub dev", "ledger.sqlite", "redeem.locked_tokens", "gateway.http"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"config", "check", "/nonexistent/nutsub.yaml"})
	if err := root.Execute(); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestServiceConfig_AbsolutePaths(t *testing.T) {
	flags := &globalFlags{configPath: "nutsub.yaml", dataDir: "data"}
	cfg, err := serviceConfig(flags)
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	if cfg.Name != "nutsub" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Arguments) != 6 || cfg.Arguments[0] != "service" || cfg.Arguments[1] != "run" {
		t.Fatalf("Arguments = %v", cfg.Arguments)
	}
	i := slices.Index(cfg.Arguments, "--config")
	if i < 0 || !filepath.IsAbs(cfg.Arguments[i+1]) {
		t.Errorf("config path not absolute: %v", cfg.Arguments)
	}
}

func TestPrintSubscriptions(t *testing.T) {
	var out bytes.Buffer
	subs := []ledger.Subscription{{
		ID:                "sub-1",
		CreatorNpub:       "npub1creator",
		TierID:            "gold",
		AmountPerInterval: 100,
		Unit:              "sat",
		Frequency:         "monthly",
		Status:            ledger.SubscriptionActive,
		StartDate:         time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Intervals:         []ledger.Interval{{Redeemed: true}, {}},
	}}
	if err := printSubscriptions(&out, subs); err != nil {
		t.Fatalf("print: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	for _, want := range []string{"sub-1", "100 sat", "1/2", "2026-01-02"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row missing %q: %s", want, lines[1])
		}
	}
}
