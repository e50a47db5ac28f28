package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"otterbot/internal/config"
	"otterbot/internal/eventbus"
	logx "otterbot/pkg/logx"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

// Manager starts, stops and reconfigures plugins from plugins.<name>.enabled
// and feeds the router with the routes of running plugins.
type Manager struct {
	mu sync.Mutex

	log      logx.Logger
	cfgm     *ConfigManager
	deps     Deps
	registry Registry

	reg    map[string]Plugin
	run    map[string]bool
	inited map[string]bool
	// last config blob hash per running plugin; unchanged blobs skip OnConfigChange
	lastRawHash    map[string]uint64
	lastGlobalHash uint64

	// baseCtx outlives the call-scoped contexts handed to StartAll and
	// OnConfigUpdate. BindContext ties it to the app context.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	quarantine map[string]quarantineState
}

func NewManager(log logx.Logger, cfgm *ConfigManager, deps Deps, registry Registry) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:         log.With(logx.String("comp", "plugins")),
		cfgm:        cfgm,
		deps:        deps,
		registry:    registry,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
	}
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// BindContext ties the plugin base context to appCtx. First bind wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *Manager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := pm.namesLocked()
	pm.mu.Unlock()

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
}

func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	_ = pm.reconcile(cfg)
}

func (pm *Manager) Running(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}

func (pm *Manager) namesLocked() []string {
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	if cancel != nil {
		cancel()
	}

	// A misbehaving Stop must not block shutdown forever.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(eventbus.TypePluginStopped, pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

func (pm *Manager) reconcile(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("plugins: no config")
	}
	newGlobal := globalDepsHash(cfg)
	pm.mu.Lock()
	globalChanged := newGlobal != pm.lastGlobalHash
	pm.mu.Unlock()

	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for _, name := range pm.namesLocked() {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       pm.reg[name],
			raw:     raw,
			rawHash: config.CanonicalHashJSON(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()

	const callTimeout = 10 * time.Second

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.clearQuarantineOnChange(o.name, o.rawHash)
			if pm.isQuarantined(o.name, o.rawHash) {
				pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", o.name))
				continue
			}
			if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
				pm.setQuarantine(o.name, o.rawHash, err, "timeouts")
				continue
			}
			pm.startOne(o.name, o.p, o.raw, o.rawHash, callTimeout)

		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()

		case o.enabled && o.run:
			cp, ok := o.p.(ConfigurablePlugin)
			if !ok {
				break
			}
			pm.mu.Lock()
			oldHash := pm.lastRawHash[o.name]
			pctx := pm.pctx[o.name]
			pm.mu.Unlock()
			// Unrelated reloads must not thrash schedules.
			if o.rawHash == oldHash && !globalChanged {
				break
			}
			if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
				pm.quarantineAndStop(o.name, o.rawHash, err, "timeouts", callTimeout)
				break
			}
			if pctx == nil {
				pctx = pm.baseCtx
			}
			cctx, ccancel := context.WithTimeout(pctx, callTimeout)
			err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
			ccancel()
			if err != nil {
				pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
				pm.quarantineAndStop(o.name, o.rawHash, fmt.Errorf("config apply: %w", err), "config", callTimeout)
				break
			}
			pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
			pm.mu.Lock()
			pm.lastRawHash[o.name] = o.rawHash
			delete(pm.quarantine, o.name)
			pm.mu.Unlock()
		}
	}

	pm.mu.Lock()
	pm.lastGlobalHash = newGlobal
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

func (pm *Manager) startOne(name string, p Plugin, raw PluginConfigRaw, rawHash uint64, callTimeout time.Duration) {
	pm.log.Debug("plugin enable requested", logx.String("plugin", name))
	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()
	// Init runs once per process; re-enabling reuses the instance.
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit("plugin.init_failed", pluginEvent{Plugin: name, Err: err.Error()})
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := v.ValidateConfig(cctx, raw.Config)
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config validate: %w", err), "validate")
			cancel()
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config apply: %w", err), "config")
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		pm.emit("plugin.start_failed", pluginEvent{Plugin: name, Err: err.Error()})
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(eventbus.TypePluginStarted, pluginEvent{Plugin: name})
}

func (pm *Manager) quarantineAndStop(name string, rawHash uint64, err error, stage string, callTimeout time.Duration) {
	pm.setQuarantine(name, rawHash, err, stage)
	stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
	pm.stopOne(stopCtx, name, StopPluginQuarantine)
	cancel()
}

// startWithTimeout calls Start(pctx) and cancels pctx if it overruns.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call", logx.String("call", label), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *Manager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *Manager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if !ok || st.rawHash == rawHash {
		pm.mu.Unlock()
		return
	}
	delete(pm.quarantine, name)
	pm.mu.Unlock()
	pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
	pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
}

func (pm *Manager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	// Same broken config again: count it, stay quiet.
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit("plugin.quarantined", pluginEvent{Plugin: name, Stage: stage, Err: errStr, Count: count})
}

// globalDepsHash covers the global settings plugins read implicitly.
func globalDepsHash(cfg *Config) uint64 {
	type deps struct {
		Prefix   string             `json:"prefix"`
		Admins   []string           `json:"admins"`
		Roles    config.RolesConfig `json:"roles"`
		Timezone string             `json:"timezone"`
	}
	b, _ := json.Marshal(deps{
		Prefix:   cfg.Discord.Prefix,
		Admins:   cfg.Discord.AdminUserIDs,
		Roles:    cfg.Roles,
		Timezone: cfg.Scheduler.Timezone,
	})
	return config.CanonicalHashJSON(b)
}

func (pm *Manager) refreshRegistryLocked(cfg *Config) {
	if pm.registry == nil {
		return
	}
	var (
		cmds   []Command
		comps  []ComponentRoute
		events []EventHandler
	)
	for _, name := range pm.namesLocked() {
		if !pm.run[name] {
			continue
		}
		p := pm.reg[name]
		var raw PluginConfigRaw
		if cfg != nil {
			raw = cfg.Plugins[name]
		}
		pto, has := pluginCommandTimeout(raw)

		for _, c := range safeList(pm, name, "Commands", p.Commands) {
			c.PluginName = name
			if has && c.Timeout <= 0 {
				c.Timeout = pto
			}
			cmds = append(cmds, c)
		}
		if cp, ok := p.(ComponentProvider); ok {
			for _, r := range safeList(pm, name, "Components", cp.Components) {
				if r.Plugin == "" {
					r.Plugin = name
				}
				if has && r.Timeout <= 0 {
					r.Timeout = pto
				}
				comps = append(comps, r)
			}
		}
		if ep, ok := p.(EventProvider); ok {
			for _, h := range safeList(pm, name, "Events", ep.Events) {
				if h.Name == "" {
					h.Name = name
				} else {
					h.Name = name + "." + h.Name
				}
				events = append(events, h)
			}
		}
	}
	pm.registry.SetRegistry(cmds, comps, events)
}

func safeList[T any](pm *Manager, plugin, what string, fn func() []T) (out []T) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin "+what+"()", logx.String("plugin", plugin), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()
	return fn()
}

func pluginCommandTimeout(raw PluginConfigRaw) (time.Duration, bool) {
	if len(raw.Config) == 0 {
		return 0, false
	}
	var w struct {
		Timeouts Timeouts `json:"timeouts"`
	}
	if err := json.Unmarshal(raw.Config, &w); err != nil || w.Timeouts.Command == "" {
		return 0, false
	}
	d, err := time.ParseDuration(w.Timeouts.Command)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func validateStandardTimeouts(plugin string, raw json.RawMessage) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	b, ok := top["timeouts"]
	if !ok || len(b) == 0 || string(b) == "null" {
		return nil
	}
	var tm map[string]json.RawMessage
	if err := json.Unmarshal(b, &tm); err != nil {
		return fmt.Errorf("plugin %s: timeouts must be an object", plugin)
	}
	for k, v := range tm {
		switch k {
		case "command", "task", "operation":
		default:
			return fmt.Errorf("plugin %s: unknown timeouts field %q (supported: command, task, operation)", plugin, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
	}
	return nil
}

// ValidateConfig runs plugin validators against cfg before it is committed.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *Config) error {
	pm.mu.Lock()
	type item struct {
		name string
		p    Plugin
		raw  PluginConfigRaw
	}
	var items []item
	for _, name := range pm.namesLocked() {
		raw, ok := cfg.Plugins[name]
		if ok && raw.Enabled {
			items = append(items, item{name, pm.reg[name], raw})
		}
	}
	pm.mu.Unlock()

	for _, it := range items {
		if err := validateStandardTimeouts(it.name, it.raw.Config); err != nil {
			return err
		}
		if v, ok := it.p.(ConfigValidator); ok {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := v.ValidateConfig(cctx, it.raw.Config)
			cancel()
			if err != nil {
				return fmt.Errorf("plugin %s: config validate: %w", it.name, err)
			}
		}
	}
	return nil
}

// Status reports every registered plugin, probing health of running ones.
func (pm *Manager) Status(ctx context.Context) []PluginStatus {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	names := pm.namesLocked()
	out := make([]PluginStatus, 0, len(names))
	probes := map[int]HealthChecker{}
	for i, name := range names {
		st := PluginStatus{Name: name, Running: pm.run[name]}
		if cfg != nil {
			raw, ok := cfg.Plugins[name]
			st.Enabled = ok && raw.Enabled
			st.HasConfig = len(raw.Config) > 0
		}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.QuarantineErr = q.err
			st.QuarantineSince = q.since
		}
		if hc, ok := pm.reg[name].(HealthChecker); ok && st.Running {
			probes[i] = hc
		}
		out = append(out, st)
	}
	pm.mu.Unlock()

	for i, hc := range probes {
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status, err := hc.Health(hctx)
		cancel()
		out[i].Health = status
		if err != nil {
			out[i].HealthErr = err.Error()
		}
	}
	return out
}
