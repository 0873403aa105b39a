package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable modules decode their node from the modules: map before
// Provision runs. Modules without a node are not configured at all.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules open their resources and publish services on the
// AppContext. Services another module needs in Start must be registered
// here.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their provisioned state. Validate must not
// mutate the module.
type Validator interface {
	Validate() error
}

// Starter modules launch workers, listeners or connections. Start runs in
// module ID order once every module is provisioned.
type Starter interface {
	Start() error
}

// Stopper modules release what Start or Provision acquired. Stop runs in
// reverse start order and may be called on a module that never started.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules re-read their node after a config reload.
type Reloader interface {
	Reload(ctx *AppContext) error
}

// Runner modules can run their background work as a single pass on
// demand, without starting it.
type Runner interface {
	RunOnce(ctx context.Context) error
}
