package leetcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
)

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "leetcode daily start",
			Description: "subscribe a channel to the daily challenge",
			Usage:       "leetcode daily start <#channel>",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdDailyStart,
		},
		{
			Route:       "leetcode daily stop",
			Description: "stop the daily challenge announcements",
			Usage:       "leetcode daily stop",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdDailyStop,
		},
		{
			Route:       "leetcode profile",
			Description: "show a public leetcode profile",
			Usage:       "leetcode profile <username>",
			Handle:      p.cmdProfile,
		},
		{
			Route:       "leetcode run check",
			Description: "post today's challenge to this server now",
			Usage:       "leetcode run check",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdRunCheck,
		},
		{
			Route:       "leetcode run start_task",
			Description: "register the daily challenge job",
			Usage:       "leetcode run start_task",
			Access:      plugin.AccessAdmin,
			Handle:      p.cmdStartTask,
		},
		{
			Route:       "leetcode run stop_task",
			Description: "remove the daily challenge job until the next restart or reload",
			Usage:       "leetcode run stop_task",
			Access:      plugin.AccessAdmin,
			Handle:      p.cmdStopTask,
		},
	}
}

func (p *Plugin) cmdDailyStart(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	channelID, ok := kit.ChannelID(req.Arg(0))
	if !ok {
		return req.Reply(ctx, "Usage: leetcode daily start <#channel>")
	}
	err := storage.SaveSetting(ctx, p.Deps.Store, storage.KindLeetcode, req.GuildID, storage.LeetcodeConfig{
		GuildID:   req.GuildID,
		ChannelID: channelID,
	})
	p.Audit(ctx, req, "daily start", channelID, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save leetcode config: %w", err)
	}
	return req.Reply(ctx, subscribedReply)
}

func (p *Plugin) cmdDailyStop(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	deleted, err := p.Deps.Store.DeleteSetting(ctx, storage.KindLeetcode, req.GuildID)
	p.Audit(ctx, req, "daily stop", "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete leetcode config: %w", err)
	}
	if !deleted {
		return req.Reply(ctx, noConfigReply)
	}
	return req.Reply(ctx, removedReply)
}

func (p *Plugin) cmdProfile(ctx context.Context, req *plugin.Request) error {
	name := strings.TrimSpace(req.Arg(0))
	if name == "" {
		return req.Reply(ctx, "Usage: leetcode profile <username>")
	}
	u, err := p.apiClient().UserProfile(ctx, name)
	if err != nil {
		return err
	}
	return req.Reply(ctx, profileText(u))
}

func (p *Plugin) cmdRunCheck(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	if _, err := storage.LoadSetting[storage.LeetcodeConfig](ctx, p.Deps.Store, storage.KindLeetcode, req.GuildID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return req.Reply(ctx, noConfigReply)
		}
		return fmt.Errorf("load leetcode config: %w", err)
	}
	n, err := p.broadcastDaily(ctx, req.GuildID)
	p.Audit(ctx, req, "run check", "", time.Since(start), err)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, "Nothing posted; today's challenge was already sent or is unavailable.")
	}
	return nil
}

func (p *Plugin) cmdStartTask(ctx context.Context, req *plugin.Request) error {
	sched := p.scheduler()
	if sched == nil {
		return req.Reply(ctx, "Scheduler is disabled.")
	}
	if sched.Has(p.Schedules.FullName(jobDaily)) {
		return req.Reply(ctx, "Daily challenge check is already running.")
	}
	if err := p.schedule(); err != nil {
		return err
	}
	return req.Reply(ctx, "Daily challenge check started.")
}

func (p *Plugin) cmdStopTask(ctx context.Context, req *plugin.Request) error {
	if p.scheduler() == nil || !p.Schedules.Remove(jobDaily) {
		return req.Reply(ctx, "Daily challenge check is not running.")
	}
	p.Audit(ctx, req, "stop task", jobDaily, 0, nil)
	return req.Reply(ctx, "Daily challenge check stopped.")
}

func (p *Plugin) scheduler() interface{ Has(string) bool } {
	if p.Deps.Services == nil || p.Deps.Services.Scheduler == nil {
		return nil
	}
	return p.Deps.Services.Scheduler
}
