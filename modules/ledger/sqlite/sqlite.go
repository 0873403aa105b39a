// Package sqlite implements the persistent ledger module: subscriptions,
// locked tokens and the wallet-side proofs, payment history and keyset
// counters, all in one SQLite database. It uses modernc.org/sqlite (pure
// Go, no CGO) with WAL mode.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/nutsub/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// Module is the ledger.sqlite module.
type Module struct {
	config Config
	db     *DB
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "ledger.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = DefaultPath(ctx.DataDir)
	}

	db, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.db = db

	ctx.RegisterService(core.ServiceStore, db)
	ctx.RegisterService(core.ServiceProofs, db.Proofs())
	ctx.RegisterService(core.ServiceHistory, db.History())
	ctx.RegisterService(core.ServiceCounters, db.Counters())

	m.logger.Info("sqlite ledger provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.Ping(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	if m.logger != nil {
		m.logger.Info("sqlite ledger stopping")
	}
	return m.db.Close()
}

// Reload implements core.Reloader. The database stays open: a changed
// path or pragma only takes effect after a restart, which is logged.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig("ledger.sqlite")
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	next.defaults()
	if next.Path == "" {
		next.Path = DefaultPath(ctx.DataDir)
	}
	if next.dsn() != m.config.dsn() {
		ctx.Logger.Warn("sqlite settings changed; restart to apply",
			"path", next.Path,
			"running_path", m.config.Path,
		)
	}
	return nil
}

// DB returns the opened database.
func (m *Module) DB() *DB {
	return m.db
}

// DefaultPath returns the database path used when none is configured.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, defaultDBFile)
}
