package interviewmatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"otterbot/internal/plugin"
	"otterbot/internal/storage"
	logx "otterbot/pkg/logx"
)

const (
	jobAnnounce = "announce"
	jobCheck    = "check"
)

type Plugin struct {
	plugin.PluginBase

	mu      sync.RWMutex
	cfg     settings
	started bool

	orch        *Orchestrator
	now         func() time.Time
	confirmWait time.Duration
}

func New() *Plugin {
	s, _ := Config{}.normalize()
	return &Plugin{cfg: s, now: time.Now, confirmWait: emojiConfirmTimeout}
}

func (p *Plugin) Name() string { return "interview_match" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("interview_match: storage is required")
	}
	if deps.Messenger == nil {
		return errors.New("interview_match: messenger is required")
	}
	p.orch = NewOrchestrator(deps.Store, deps.Messenger, deps.Bus, p.Log, p.Roles)
	p.applyCycleSettings(p.settings())
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	_, err = c.normalize()
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	s, err := c.normalize()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = s
	started := p.started
	p.mu.Unlock()

	if p.orch != nil {
		p.applyCycleSettings(s)
	}
	if started {
		return p.schedule()
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	s := p.cfg
	p.mu.Unlock()
	p.applyCycleSettings(s)
	return p.schedule()
}

func (p *Plugin) applyCycleSettings(s settings) {
	p.orch.SetResetPolicy(s.resetPolicy)
	p.orch.SetOpTimeout(s.opTimeout)
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return p.StopBase(ctx)
}

func (p *Plugin) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// schedule registers both daily jobs at the configured hour. Re-registering
// replaces the previous jobs.
func (p *Plugin) schedule() error {
	if p.Deps.Services == nil || p.Deps.Services.Scheduler == nil {
		p.Log.Warn("scheduler unavailable; weekly jobs not registered")
		return nil
	}
	s := p.settings()
	spec := fmt.Sprintf("0 %d * * *", s.hour)
	if err := p.Schedules.Cron(jobAnnounce, spec).Timeout(s.taskTimeout).Do(p.runAnnounce); err != nil {
		return fmt.Errorf("schedule announce: %w", err)
	}
	if err := p.Schedules.Cron(jobCheck, spec).Timeout(s.taskTimeout).Do(p.runCheck); err != nil {
		return fmt.Errorf("schedule check: %w", err)
	}
	p.Log.Info("weekly jobs scheduled", logx.String("spec", spec), logx.Int("check_offset_days", s.checkOffset), logx.String("reset_policy", string(s.resetPolicy)))
	return nil
}

// today is the current weekday in the scheduler timezone, 0 = Monday.
func (p *Plugin) today() int {
	return storage.DayFromWeekday(p.now().In(p.Location()).Weekday())
}

func (p *Plugin) runAnnounce(ctx context.Context) error {
	return p.orch.Announce(ctx, p.today())
}

func (p *Plugin) runCheck(ctx context.Context) error {
	return p.orch.Check(ctx, CheckDay(p.today(), p.settings().checkOffset))
}
