package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"otterbot/internal/broadcast"
	"otterbot/internal/config"
	"otterbot/internal/eventbus"
	"otterbot/internal/plugin/kit"
	rtsup "otterbot/internal/runtime/supervisor"
	"otterbot/internal/storage"
	logx "otterbot/pkg/logx"
)

// PluginBase carries the plumbing every plugin needs.
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return p.Schedules.Cron(...).Do(...) }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log       logx.Logger
	Deps      Deps
	Runner    *Supervisor
	Schedules *kit.ScheduleHelper

	pluginName string
	ctx        context.Context
}

func (b *PluginBase) Supervisor() *Supervisor { return b.Runner }

// Health reports whether the plugin context is alive. Plugins with richer
// state override it.
func (b *PluginBase) Health(ctx context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	lg := deps.Logger
	if lg.IsZero() {
		lg = logx.Nop()
	}
	b.Log = lg.With(logx.String("plugin", pluginName))
	var sched kit.Scheduler
	if deps.Services != nil && deps.Services.Scheduler != nil {
		sched = deps.Services.Scheduler
	}
	b.Schedules = kit.NewScheduleHelper(pluginName, sched, deps.Bus, b.Log)
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.NewSupervisor(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
	if b.Schedules != nil {
		b.Schedules.BindContext(ctx)
	}
}

// StopBase removes the plugin's schedules, cancels its goroutines and waits
// for them within ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Schedules != nil {
		b.Schedules.Cleanup()
	}
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context, cancelled on stop or disable.
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// RootConfig returns the current global config snapshot.
func (b *PluginBase) RootConfig() *config.Config {
	if b.Deps.Config == nil {
		return nil
	}
	return b.Deps.Config.Get()
}

// Roles returns the configured role names with defaults applied.
func (b *PluginBase) Roles() config.RolesConfig {
	if cfg := b.RootConfig(); cfg != nil {
		return cfg.Roles
	}
	return config.RolesConfig{
		Member:        config.DefaultMemberRole,
		Collaborators: config.DefaultCollaboratorRoles,
		Admins:        config.DefaultAdminRoles,
	}
}

// Location is the scheduler timezone.
func (b *PluginBase) Location() *time.Location {
	if b.Deps.Services != nil && b.Deps.Services.Scheduler != nil {
		return b.Deps.Services.Scheduler.Location()
	}
	return time.Local
}

// Audit records an operator action. Failures are logged, never returned.
func (b *PluginBase) Audit(ctx context.Context, req *Request, action, target string, took time.Duration, err error) {
	st := b.Deps.Store
	if st == nil || req == nil {
		return
	}
	e := storage.AuditEntry{
		At:        time.Now(),
		ActorID:   req.UserID,
		ActorName: req.UserName,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		Plugin:    b.pluginName,
		Action:    action,
		Target:    target,
		OK:        err == nil,
		TookMS:    took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := st.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
		b.Log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// Announce hands m to the broadcast pipeline, or sends it directly when
// broadcasting is disabled. A repeat inside the dedup window returns
// broadcast.ErrDuplicate.
func (b *PluginBase) Announce(ctx context.Context, m broadcast.Message) error {
	if b.Deps.Services != nil && b.Deps.Services.Broadcast != nil && b.Deps.Services.Broadcast.Enabled() {
		return b.Deps.Services.Broadcast.Post(ctx, m)
	}
	if b.Deps.Messenger == nil {
		return errors.New("no messenger")
	}
	_, err := b.Deps.Messenger.Send(ctx, m.ChannelID, m.Out)
	return err
}

// PublishEvent publishes to the in-process bus. It never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Timeouts is the standard "timeouts" block plugin configs may carry.
type Timeouts struct {
	Command   string `json:"command,omitempty"`
	Task      string `json:"task,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// TaskTimeout parses Task, falling back to def.
func (t Timeouts) TaskTimeout(def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("timeouts.task", t.Task, def)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// OperationTimeout parses Operation, falling back to def.
func (t Timeouts) OperationTimeout(def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("timeouts.operation", t.Operation, def)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DecodePluginConfig strictly decodes a plugin config blob. An empty blob
// yields the zero value.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("plugin config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return out, errors.New("plugin config: trailing data")
	}
	return out, nil
}
