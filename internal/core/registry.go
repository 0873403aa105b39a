package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var registry = struct {
	sync.RWMutex
	modules map[string]ModuleInfo
}{modules: make(map[string]ModuleInfo)}

// RegisterModule records a module's ModuleInfo. It is meant for init
// functions and panics on an empty or malformed ID, a nil constructor or a
// duplicate registration.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if err := info.ID.validate(); err != nil {
		panic(err.Error())
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()

	id := string(info.ID)
	if _, exists := registry.modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	registry.modules[id] = info
}

// validate requires the "<namespace>.<name>" form with both parts present.
func (id ModuleID) validate() error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("module ID must not be empty")
	}
	ns, name, ok := strings.Cut(s, ".")
	if !ok || ns == "" || name == "" || strings.ContainsAny(s, " \t\n") {
		return fmt.Errorf("module ID %q must have the form <namespace>.<name>", s)
	}
	return nil
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.modules[id]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	return filterModules(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace returns the modules of one namespace sorted by ID;
// "redeem" matches "redeem.locked_tokens" and "redeem.intervals".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return filterModules(func(info ModuleInfo) bool {
		return info.ID.Namespace() == namespace
	})
}

// Namespaces returns the sorted, distinct namespaces of every registered
// module.
func Namespaces() []string {
	var out []string
	for _, info := range GetModules() {
		out = append(out, info.ID.Namespace())
	}
	return slices.Compact(out)
}

func filterModules(keep func(ModuleInfo) bool) []ModuleInfo {
	registry.RLock()
	defer registry.RUnlock()

	var result []ModuleInfo
	for _, info := range registry.modules {
		if keep(info) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.modules = make(map[string]ModuleInfo)
}
