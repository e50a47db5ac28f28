package leetcode

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
	"otterbot/internal/storage"
	logx "otterbot/pkg/logx"
)

const (
	defaultSchedule = "2 0 * * *"
	defaultTimezone = "UTC"
	jobDaily        = "daily"
)

type Config struct {
	// Schedule is a five-field cron spec evaluated in Timezone.
	Schedule string          `json:"schedule,omitempty"`
	Timezone string          `json:"timezone,omitempty"`
	Endpoint string          `json:"endpoint,omitempty"`
	Timeouts plugin.Timeouts `json:"timeouts,omitempty"`
}

type settings struct {
	spec        string // with CRON_TZ prefix
	endpoint    string
	taskTimeout time.Duration
	opTimeout   time.Duration
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (c Config) normalize() (settings, error) {
	sched := strings.TrimSpace(c.Schedule)
	if sched == "" {
		sched = defaultSchedule
	}
	if strings.Contains(sched, "TZ=") {
		return settings{}, errors.New("leetcode: set timezone instead of a TZ= prefix in schedule")
	}
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return settings{}, fmt.Errorf("leetcode: timezone %q: %w", tz, err)
	}
	spec := "CRON_TZ=" + tz + " " + sched
	if _, err := specParser.Parse(spec); err != nil {
		return settings{}, fmt.Errorf("leetcode: schedule %q: %w", sched, err)
	}
	return settings{
		spec:        spec,
		endpoint:    strings.TrimSpace(c.Endpoint),
		taskTimeout: c.Timeouts.TaskTimeout(2 * time.Minute),
		opTimeout:   c.Timeouts.OperationTimeout(15 * time.Second),
	}, nil
}

type Plugin struct {
	plugin.PluginBase

	mu      sync.RWMutex
	cfg     settings
	client  Client
	started bool

	// newClient is swapped in tests.
	newClient func(endpoint string, timeout time.Duration) Client
}

func New() *Plugin {
	s, _ := Config{}.normalize()
	return &Plugin{cfg: s, newClient: NewClient}
}

func (p *Plugin) Name() string { return "leetcode" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("leetcode: storage is required")
	}
	p.mu.Lock()
	if p.client == nil {
		p.client = p.newClient(p.cfg.endpoint, p.cfg.opTimeout)
	}
	p.mu.Unlock()
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
	old := p.cfg
	p.cfg = s
	if p.client == nil || old.endpoint != s.endpoint || old.opTimeout != s.opTimeout {
		p.client = p.newClient(s.endpoint, s.opTimeout)
	}
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

func (p *Plugin) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) apiClient() Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Plugin) schedule() error {
	if p.Deps.Services == nil || p.Deps.Services.Scheduler == nil {
		p.Log.Warn("scheduler unavailable; daily challenge not registered")
		return nil
	}
	s := p.settings()
	if err := p.Schedules.Cron(jobDaily, s.spec).Timeout(s.taskTimeout).Do(p.postDaily); err != nil {
		return fmt.Errorf("schedule daily challenge: %w", err)
	}
	p.Log.Info("daily challenge scheduled", logx.String("spec", s.spec))
	return nil
}

// postDaily fetches today's challenge once and posts it to every
// subscribed channel.
func (p *Plugin) postDaily(ctx context.Context) error {
	_, err := p.broadcastDaily(ctx, "")
	return err
}

// broadcastDaily posts to every subscription, or only to onlyGuild when set.
// It returns how many posts were handed off.
func (p *Plugin) broadcastDaily(ctx context.Context, onlyGuild string) (int, error) {
	daily, err := p.apiClient().DailyChallenge(ctx)
	if err != nil {
		return 0, err
	}
	out, err := challengeMessage(daily)
	if err != nil {
		p.Log.Warn("daily challenge unusable", logx.Err(err))
		return 0, nil
	}

	subs, err := storage.LoadSettings[storage.LeetcodeConfig](ctx, p.Deps.Store, storage.KindLeetcode)
	if err != nil {
		if len(subs) == 0 {
			return 0, fmt.Errorf("load leetcode configs: %w", err)
		}
		p.Log.Warn("some leetcode configs unreadable", logx.Err(err))
	}

	posted := 0
	for _, sub := range subs {
		if onlyGuild != "" && sub.GuildID != onlyGuild {
			continue
		}
		err := p.Announce(ctx, broadcast.Message{
			Name:      "leetcode.daily",
			GuildID:   sub.GuildID,
			ChannelID: sub.ChannelID,
			Key:       "leetcode:" + sub.GuildID + ":" + daily.Date,
			Out:       out,
		})
		switch {
		case err == nil:
			posted++
		case errors.Is(err, broadcast.ErrDuplicate):
			p.Log.Debug("daily challenge already posted", logx.String("guild_id", sub.GuildID), logx.String("date", daily.Date))
		default:
			p.Log.Warn("daily challenge post failed", logx.String("guild_id", sub.GuildID), logx.String("channel_id", sub.ChannelID), logx.Err(err))
		}
	}
	p.Log.Info("daily challenge posted", logx.String("date", daily.Date), logx.Int("channels", posted))
	return posted, nil
}
