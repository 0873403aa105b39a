package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// moduleState tracks where a loaded module is in its lifecycle.
type moduleState int

const (
	stateLoaded moduleState = iota
	stateStarted
	stateStopped
)

type moduleInstance struct {
	id     ModuleID
	module Module
	state  moduleState
}

// App owns the loaded modules and drives them through start, single runs,
// reload and stop.
type App struct {
	ctx     *AppContext
	modules []moduleInstance
	logger  *slog.Logger
}

// NewApp creates an App that loads modules through ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules configures, provisions and validates the modules in the given
// order. On failure every module loaded so far is stopped and forgotten.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.stopWhere(len(a.modules)-1, "unload", func(*moduleInstance) bool { return true })
			a.modules = nil
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		mi := moduleInstance{id: mod.ModuleInfo().ID, module: mod}
		a.modules = append(a.modules, mi)
		a.logger.Info("module loaded", "module", string(mi.id))
	}
	return nil
}

// Module returns the loaded module with the given ID.
func (a *App) Module(id string) (Module, bool) {
	for _, mi := range a.modules {
		if string(mi.id) == id {
			return mi.module, true
		}
	}
	return nil, false
}

// Start starts every Starter in load order. When one fails, the modules
// started before it are stopped again in reverse order.
func (a *App) Start() error {
	for i := range a.modules {
		mi := &a.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			continue
		}
		a.logger.Info("starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(mi.id), "error", err)
			a.stopWhere(i-1, "stop", started)
			return fmt.Errorf("starting module %s: %w", mi.id, err)
		}
		mi.state = stateStarted
	}
	a.logger.Info("all modules started", "count", len(a.modules))
	return nil
}

// Stop stops the started modules in reverse order.
func (a *App) Stop() {
	a.stopWhere(len(a.modules)-1, "stop", started)
}

// Release stops, in reverse order, the modules that were loaded but never
// started, freeing what Provision opened.
func (a *App) Release() {
	a.stopWhere(len(a.modules)-1, "release", func(mi *moduleInstance) bool {
		return mi.state == stateLoaded
	})
}

func started(mi *moduleInstance) bool { return mi.state == stateStarted }

// stopWhere calls Stop on modules [0, from] that match, last first, and
// marks them stopped. Stop errors are logged.
func (a *App) stopWhere(from int, action string, match func(*moduleInstance) bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := from; i >= 0; i-- {
		mi := &a.modules[i]
		if !match(mi) {
			continue
		}
		mi.state = stateStopped
		s, ok := mi.module.(Stopper)
		if !ok {
			continue
		}
		a.logger.Debug("module "+action, "module", string(mi.id))
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module "+action+" failed", "module", string(mi.id), "error", err)
		}
	}
}

// ReloadModules hands ctx to every Reloader. All modules are attempted;
// the failures are joined.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for _, mi := range a.modules {
		r, ok := mi.module.(Reloader)
		if !ok {
			continue
		}
		a.logger.Info("reloading module", "module", string(mi.id))
		if err := r.Reload(ctx.ForModule(mi.id)); err != nil {
			a.logger.Error("module reload failed", "module", string(mi.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", mi.id, err))
		}
	}
	return errors.Join(errs...)
}

// RunOnce runs every Runner once in load order without starting it and
// reports how many ran. Failures are joined.
func (a *App) RunOnce(ctx context.Context) (int, error) {
	var (
		ran  int
		errs []error
	)
	for _, mi := range a.modules {
		r, ok := mi.module.(Runner)
		if !ok {
			continue
		}
		ran++
		a.logger.Info("running module once", "module", string(mi.id))
		if err := r.RunOnce(ctx); err != nil {
			errs = append(errs, fmt.Errorf("running module %s: %w", mi.id, err))
		}
	}
	return ran, errors.Join(errs...)
}
