// Package englishclub posts weekly English club reminders and session
// announcements. Each guild keeps its own reminder schedule.
package englishclub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
	logx "otterbot/pkg/logx"
)

const defaultSpec = "0 18 * * 1"

type Config struct {
	// DefaultSchedule applies to guilds started without --cron.
	DefaultSchedule string          `json:"default_schedule,omitempty"`
	SessionImageURL string          `json:"session_image_url,omitempty"`
	Timeouts        plugin.Timeouts `json:"timeouts,omitempty"`
}

type settings struct {
	defaultSpec string
	imageURL    string
	taskTimeout time.Duration
}

func (c Config) normalize() (settings, error) {
	spec := strings.TrimSpace(c.DefaultSchedule)
	if spec == "" {
		spec = defaultSpec
	}
	if err := checkSpec(spec); err != nil {
		return settings{}, err
	}
	return settings{
		defaultSpec: spec,
		imageURL:    strings.TrimSpace(c.SessionImageURL),
		taskTimeout: c.Timeouts.TaskTimeout(30 * time.Second),
	}, nil
}

func checkSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("english_club: schedule %q: %w", spec, err)
	}
	return nil
}

type Plugin struct {
	plugin.PluginBase

	mu      sync.RWMutex
	cfg     settings
	started bool
}

func New() *Plugin {
	s, _ := Config{}.normalize()
	return &Plugin{cfg: s}
}

func (p *Plugin) Name() string { return "english_club" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("english_club: storage is required")
	}
	if deps.Messenger == nil {
		return errors.New("english_club: messenger is required")
	}
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
	if started {
		return p.scheduleAll(ctx)
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return p.scheduleAll(ctx)
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

func jobName(guildID string) string { return "reminder:" + guildID }

// scheduleAll rebuilds one reminder job per stored guild config.
func (p *Plugin) scheduleAll(ctx context.Context) error {
	if p.Deps.Services == nil || p.Deps.Services.Scheduler == nil {
		p.Log.Warn("scheduler unavailable; english club reminders not registered")
		return nil
	}
	cfgs, err := storage.LoadSettings[storage.EnglishClubConfig](ctx, p.Deps.Store, storage.KindEnglishClub)
	if err != nil {
		p.Log.Warn("some english club configs unreadable", logx.Err(err))
	}
	var errs []error
	for _, c := range cfgs {
		if err := p.scheduleGuild(c); err != nil {
			errs = append(errs, err)
		}
	}
	p.Log.Info("english club reminders scheduled", logx.Int("guilds", len(cfgs)-len(errs)))
	return errors.Join(errs...)
}

func (p *Plugin) scheduleGuild(c storage.EnglishClubConfig) error {
	spec := c.Spec
	if spec == "" {
		spec = p.settings().defaultSpec
	}
	guildID := c.GuildID
	err := p.Schedules.Cron(jobName(guildID), spec).
		Timeout(p.settings().taskTimeout).
		Do(func(ctx context.Context) error { return p.remind(ctx, guildID) })
	if err != nil {
		return fmt.Errorf("schedule english club for %s: %w", guildID, err)
	}
	return nil
}

// remind posts the weekly reminder using the guild's current config.
func (p *Plugin) remind(ctx context.Context, guildID string) error {
	c, err := storage.LoadSetting[storage.EnglishClubConfig](ctx, p.Deps.Store, storage.KindEnglishClub, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := p.Deps.Messenger.Send(ctx, c.ChannelID, reminderMessage(c.RoleID)); err != nil {
		return fmt.Errorf("english club reminder for %s: %w", guildID, err)
	}
	return nil
}

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "english start",
			Description: "post weekly English club reminders to a channel",
			Usage:       `english start <#channel> [@role] [--cron "0 18 * * 1"]`,
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStart,
		},
		{
			Route:       "english stop",
			Description: "stop the English club reminders",
			Usage:       "english stop",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStop,
		},
		{
			Route:       "english schedule",
			Description: "announce an English club session",
			Usage:       "english schedule <HH:MM AM|PM>",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdSchedule,
		},
		{
			Route:       "english run",
			Description: "post the reminder now",
			Usage:       "english run",
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
		return req.Reply(ctx, "Usage: english start <#channel> [@role] [--cron \"0 18 * * 1\"]")
	}
	c := storage.EnglishClubConfig{GuildID: req.GuildID, ChannelID: channelID}
	if a := req.Arg(1); a != "" {
		roleID, ok := kit.RoleID(a)
		if !ok {
			return req.Reply(ctx, "The role must be a role mention or id.")
		}
		c.RoleID = roleID
	}
	if spec := strings.TrimSpace(req.Flags["cron"]); spec != "" {
		if err := checkSpec(spec); err != nil {
			return req.Reply(ctx, "Invalid cron schedule: "+spec)
		}
		c.Spec = spec
	}

	err := storage.SaveSetting(ctx, p.Deps.Store, storage.KindEnglishClub, req.GuildID, c)
	p.Audit(ctx, req, "start", channelID, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save english club config: %w", err)
	}
	if p.Deps.Services != nil && p.Deps.Services.Scheduler != nil {
		if err := p.scheduleGuild(c); err != nil {
			return err
		}
	}
	return req.Reply(ctx, startedReply)
}

func (p *Plugin) cmdStop(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	deleted, err := p.Deps.Store.DeleteSetting(ctx, storage.KindEnglishClub, req.GuildID)
	p.Audit(ctx, req, "stop", "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete english club config: %w", err)
	}
	p.Schedules.Remove(jobName(req.GuildID))
	if !deleted {
		return req.Reply(ctx, noConfigReply)
	}
	return req.Reply(ctx, stoppedReply)
}

func (p *Plugin) cmdSchedule(ctx context.Context, req *plugin.Request) error {
	hour := strings.Join(req.Args, " ")
	if !validSessionTime(hour) {
		return req.Reply(ctx, invalidTimeReply)
	}
	channelID := req.ChannelID
	c, err := storage.LoadSetting[storage.EnglishClubConfig](ctx, p.Deps.Store, storage.KindEnglishClub, req.GuildID)
	switch {
	case err == nil:
		channelID = c.ChannelID
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("load english club config: %w", err)
	}
	_, err = p.Deps.Messenger.Send(ctx, channelID, sessionMessage(hour, p.settings().imageURL))
	p.Audit(ctx, req, "schedule", hour, 0, err)
	return err
}

func (p *Plugin) cmdRun(ctx context.Context, req *plugin.Request) error {
	if _, err := storage.LoadSetting[storage.EnglishClubConfig](ctx, p.Deps.Store, storage.KindEnglishClub, req.GuildID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return req.Reply(ctx, noConfigReply)
		}
		return err
	}
	return p.remind(ctx, req.GuildID)
}
