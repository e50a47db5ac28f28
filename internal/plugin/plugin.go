package plugin

import (
	"context"
	"encoding/json"

	"otterbot/internal/broadcast"
	"otterbot/internal/eventbus"
	"otterbot/internal/router"
	"otterbot/internal/storage"
	"otterbot/internal/task/scheduler"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin receives its plugins.<name>.config blob before Start
// and again whenever it changes.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is checked before a reload is committed.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

type ComponentProvider interface {
	Components() []ComponentRoute
}

type EventProvider interface {
	Events() []EventHandler
}

// HealthChecker is probed on demand by Status.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// StatusProvider exposes plugin runtime state to operator commands.
type StatusProvider interface {
	Status(ctx context.Context) []PluginStatus
}

// Services are the shared runtime services plugins may use. Any field may be
// nil when the service is disabled.
type Services struct {
	Scheduler *scheduler.Service
	Broadcast *broadcast.Service
	Waiters   *router.Waiters
	Plugins   StatusProvider
}

type Deps struct {
	Logger    logx.Logger
	Messenger transport.Messenger
	Config    *ConfigManager
	Services  *Services
	Bus       eventbus.Bus
	Store     storage.Store
}

// Registry receives the merged routing table of running plugins.
type Registry interface {
	SetRegistry(cmds []router.Command, comps []router.ComponentRoute, events []router.EventHandler)
}
