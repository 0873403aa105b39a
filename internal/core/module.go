package core

// ModuleID names a module as "<namespace>.<name>", e.g. "ledger.sqlite".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is implemented by every module. The remaining lifecycle
// interfaces (Configurable, Provisioner, Validator, Starter, Stopper,
// Reloader) are optional.
type Module interface {
	ModuleInfo() ModuleInfo
}
