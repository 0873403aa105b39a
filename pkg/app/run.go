// Package app provides the shared entry point of the nutsub binary.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/reload"
)

// ConfigEnv names the variable that points at the config file when no
// explicit path is given.
const ConfigEnv = "NUTSUB_CONFIG"

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is the YAML config file. Empty means ResolveConfigPath.
	ConfigPath string

	// Build metadata, set through ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides data_dir from the config and DefaultDataDir.
	DataDir string

	LogLevel  slog.Level
	LogOutput io.Writer // os.Stderr when nil
}

// Run starts a node and serves until ctx ends or SIGINT/SIGTERM arrives.
// SIGHUP, and edits to the config file or its .env, reload the node.
func Run(ctx context.Context, params RunParams) error {
	node, err := Load(params)
	if err != nil {
		return err
	}
	defer node.Close()

	log := node.Logger
	log.Info("starting nutsub",
		"version", params.Version,
		"commit", params.Commit,
		"config", node.ConfigPath,
		"auto_redeem", node.AutoRedeem.Load(),
	)
	if err := node.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	watcher := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath: node.ConfigPath,
		Companions: []string{filepath.Join(filepath.Dir(node.ConfigPath), config.DotEnvFile)},
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	for {
		var trigger []any
		select {
		case <-ctx.Done():
			log.Info("shutting down", "cause", context.Cause(ctx))
			return nil
		case <-hup:
			trigger = []any{"trigger", "sighup"}
		case evt := <-watcher.Events():
			trigger = []any{"trigger", "file", "path", evt.Path, "change", string(evt.Type)}
		}
		if err := node.Reload(ctx); err != nil {
			log.Error("reload failed", append(trigger, "error", err)...)
		}
	}
}

// Reload re-reads the node's config file. An invalid file keeps the
// running configuration.
func (n *Node) Reload(ctx context.Context) error {
	return n.Reloader.HandleReload(ctx, n.ConfigPath)
}

// ResolveConfigPath returns the first existing config file among
// $NUTSUB_CONFIG, $XDG_CONFIG_HOME/nutsub/nutsub.yaml (or
// ~/.config/nutsub/nutsub.yaml) and ./nutsub.yaml.
func ResolveConfigPath() (string, error) {
	candidates := configCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func configCandidates() []string {
	var out []string
	if p := os.Getenv(ConfigEnv); p != "" {
		out = append(out, p)
	}
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		out = append(out, filepath.Join(xdg, "nutsub", "nutsub.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "nutsub", "nutsub.yaml"))
	}
	return append(out, "nutsub.yaml")
}

// DefaultDataDir is $XDG_DATA_HOME/nutsub, or ~/.local/share/nutsub.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "nutsub")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "nutsub")
}
