// Package hiring posts the monthly internship hiring timeline.
package hiring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"otterbot/internal/broadcast"
	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

const (
	defaultSchedule = "0 0 1 * *"
	jobMonthly      = "monthly"

	subscribedReply = "**Hiring timelines** will be posted here every month!"
	removedReply    = "**Hiring timelines** stopped!"
	noConfigReply   = "No config set! 😱"
	quietMonthReply = "No internship applications open this month."
)

type Config struct {
	Schedule string          `json:"schedule,omitempty"`
	Timeouts plugin.Timeouts `json:"timeouts,omitempty"`
}

type Plugin struct {
	plugin.PluginBase

	mu          sync.RWMutex
	spec        string
	taskTimeout time.Duration
	started     bool

	now func() time.Time
}

func New() *Plugin {
	return &Plugin{spec: defaultSchedule, taskTimeout: time.Minute, now: time.Now}
}

func (p *Plugin) Name() string { return "hiring" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("hiring: storage is required")
	}
	return nil
}

func decode(raw json.RawMessage) (Config, error) {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return c, err
	}
	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return c, fmt.Errorf("hiring: schedule %q: %w", c.Schedule, err)
	}
	return c, nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decode(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := decode(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.spec = c.Schedule
	p.taskTimeout = c.Timeouts.TaskTimeout(time.Minute)
	started := p.started
	p.mu.Unlock()
	if started {
		return p.schedule()
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return p.schedule()
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return p.StopBase(ctx)
}

func (p *Plugin) schedule() error {
	if p.Deps.Services == nil || p.Deps.Services.Scheduler == nil {
		p.Log.Warn("scheduler unavailable; hiring timeline not registered")
		return nil
	}
	p.mu.RLock()
	spec, timeout := p.spec, p.taskTimeout
	p.mu.RUnlock()
	if err := p.Schedules.Cron(jobMonthly, spec).Timeout(timeout).Do(p.postMonthly); err != nil {
		return fmt.Errorf("schedule hiring timeline: %w", err)
	}
	return nil
}

func (p *Plugin) postMonthly(ctx context.Context) error {
	_, err := p.post(ctx, "")
	return err
}

// post sends this month's timeline to every subscription, or only to
// onlyGuild when set. Months without openings post nothing.
func (p *Plugin) post(ctx context.Context, onlyGuild string) (int, error) {
	now := p.now().In(p.Location())
	text, ok := EventsFor(now.Month())
	if !ok {
		p.Log.Debug("no hiring events this month", logx.String("month", now.Month().String()))
		return 0, nil
	}
	subs, err := storage.LoadSettings[storage.HiringConfig](ctx, p.Deps.Store, storage.KindHiring)
	if err != nil && len(subs) == 0 {
		return 0, fmt.Errorf("load hiring configs: %w", err)
	}
	posted := 0
	for _, sub := range subs {
		if onlyGuild != "" && sub.GuildID != onlyGuild {
			continue
		}
		err := p.Announce(ctx, broadcast.Message{
			Name:      "hiring.timeline",
			GuildID:   sub.GuildID,
			ChannelID: sub.ChannelID,
			Key:       "hiring:" + sub.GuildID + ":" + now.Format("2006-01"),
			Out:       transport.OutMessage{Content: text},
		})
		if err != nil {
			if !errors.Is(err, broadcast.ErrDuplicate) {
				p.Log.Warn("hiring timeline post failed", logx.String("guild_id", sub.GuildID), logx.Err(err))
			}
			continue
		}
		posted++
	}
	return posted, nil
}

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "hiring start",
			Description: "post the monthly hiring timeline to a channel",
			Usage:       "hiring start <#channel>",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStart,
		},
		{
			Route:       "hiring stop",
			Description: "stop the monthly hiring timeline",
			Usage:       "hiring stop",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStop,
		},
		{
			Route:       "hiring run",
			Description: "post this month's timeline now",
			Usage:       "hiring run",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdRun,
		},
	}
}

func (p *Plugin) cmdStart(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	channelID, ok := kit.ChannelID(req.Arg(0))
	if !ok {
		return req.Reply(ctx, "Usage: hiring start <#channel>")
	}
	err := storage.SaveSetting(ctx, p.Deps.Store, storage.KindHiring, req.GuildID, storage.HiringConfig{GuildID: req.GuildID, ChannelID: channelID})
	p.Audit(ctx, req, "start", channelID, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save hiring config: %w", err)
	}
	return req.Reply(ctx, subscribedReply)
}

func (p *Plugin) cmdStop(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	deleted, err := p.Deps.Store.DeleteSetting(ctx, storage.KindHiring, req.GuildID)
	p.Audit(ctx, req, "stop", "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete hiring config: %w", err)
	}
	if !deleted {
		return req.Reply(ctx, noConfigReply)
	}
	return req.Reply(ctx, removedReply)
}

func (p *Plugin) cmdRun(ctx context.Context, req *plugin.Request) error {
	if _, err := storage.LoadSetting[storage.HiringConfig](ctx, p.Deps.Store, storage.KindHiring, req.GuildID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return req.Reply(ctx, noConfigReply)
		}
		return fmt.Errorf("load hiring config: %w", err)
	}
	n, err := p.post(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, quietMonthReply)
	}
	return nil
}
