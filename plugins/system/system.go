// Package system answers operator commands about the running bot.
package system

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"otterbot/internal/plugin"
)

type Plugin struct {
	plugin.PluginBase
	startedAt time.Time
	now       func() time.Time
}

func New() *Plugin             { return &Plugin{now: time.Now} }
func (p *Plugin) Name() string { return "system" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if p.startedAt.IsZero() {
		p.startedAt = p.now()
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "ping",
			Description: "health check",
			Usage:       "ping",
			Handle: func(ctx context.Context, req *plugin.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Route:       "uptime",
			Description: "show process uptime",
			Usage:       "uptime",
			Handle: func(ctx context.Context, req *plugin.Request) error {
				return req.Reply(ctx, "Up since "+humanize.RelTime(p.startedAt, p.now(), "ago", "from now")+".")
			},
		},
		{
			Route:       "sysinfo",
			Description: "runtime info",
			Usage:       "sysinfo",
			Access:      plugin.AccessAdmin,
			Handle:      p.cmdSysinfo,
		},
		{
			Route:       "sched list",
			Aliases:     []string{"tasks"},
			Description: "list scheduled jobs",
			Usage:       "sched list",
			Access:      plugin.AccessAdmin,
			Handle:      p.cmdSchedList,
		},
		{
			Route:       "plugins status",
			Description: "show plugin state and health",
			Usage:       "plugins status",
			Access:      plugin.AccessAdmin,
			Handle:      p.cmdStatus,
		},
	}
}

func (p *Plugin) cmdSysinfo(ctx context.Context, req *plugin.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mod := "-"
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		mod = bi.Main.Path + " " + bi.Main.Version
	}
	msg := strings.Join([]string{
		"🧠 **sysinfo**",
		"- go: " + runtime.Version(),
		"- module: " + mod,
		fmt.Sprintf("- goroutines: %d", runtime.NumGoroutine()),
		"- mem_alloc: " + humanize.IBytes(m.Alloc),
		"- mem_sys: " + humanize.IBytes(m.Sys),
		fmt.Sprintf("- gc_runs: %d", m.NumGC),
	}, "\n")
	return req.Reply(ctx, msg)
}

func (p *Plugin) cmdSchedList(ctx context.Context, req *plugin.Request) error {
	s := p.scheduler()
	if s == nil || !s.Enabled() {
		return req.Reply(ctx, "Scheduler is disabled.")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) == 0 && len(snap.Once) == 0 {
		return req.Reply(ctx, "No scheduled jobs.")
	}

	now := p.now()
	lines := make([]string, 0, len(snap.Schedules)+len(snap.Once)+2)
	lines = append(lines, "⏱ **Scheduled jobs** ("+snap.Timezone+")")
	lines = append(lines, fmt.Sprintf("- workers: %d, queue: %d/%d, dropped: %d",
		snap.Engine.Workers, snap.Engine.QueueLen, snap.Engine.QueueCap, snap.Engine.DroppedQueueFull))
	for _, t := range append(snap.Schedules, snap.Once...) {
		next := "-"
		if !t.Next.IsZero() {
			next = t.Next.In(p.Location()).Format("2006-01-02 15:04") + " (" + humanize.RelTime(t.Next, now, "ago", "from now") + ")"
		}
		lines = append(lines, fmt.Sprintf("- %s: `%s` next %s", t.Name, t.Spec, next))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}
