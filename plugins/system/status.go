package system

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"otterbot/internal/plugin"
	"otterbot/internal/task/scheduler"
)

const statusProbeTimeout = 12 * time.Second

func (p *Plugin) scheduler() *scheduler.Service {
	if p.Deps.Services == nil {
		return nil
	}
	return p.Deps.Services.Scheduler
}

func (p *Plugin) cmdStatus(ctx context.Context, req *plugin.Request) error {
	var sp plugin.StatusProvider
	if p.Deps.Services != nil {
		sp = p.Deps.Services.Plugins
	}
	if sp == nil {
		return req.Reply(ctx, "Plugin status is unavailable.")
	}

	// Health probes are bounded even if a plugin blocks.
	sctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	list := sp.Status(sctx)
	cancel()

	return req.Reply(ctx, renderStatus(list, p.startedAt, p.now()))
}

func renderStatus(list []plugin.PluginStatus, started, now time.Time) string {
	running, quarantined, unhealthy := 0, 0, 0
	for _, st := range list {
		if st.Running {
			running++
		}
		if st.Quarantined {
			quarantined++
		}
		if st.Running && st.HealthErr != "" {
			unhealthy++
		}
	}
	state := "Running"
	if quarantined > 0 || unhealthy > 0 {
		state = "Degraded"
	}

	var b strings.Builder
	b.WriteString("🏥 **Bot status**: " + state + "\n")
	b.WriteString("Up since " + humanize.RelTime(started, now, "ago", "from now") + "\n")
	fmt.Fprintf(&b, "Plugins: %d loaded, %d running", len(list), running)
	if quarantined > 0 {
		fmt.Fprintf(&b, ", %d quarantined", quarantined)
	}
	b.WriteString("\n")
	for _, st := range list {
		icon := "✅"
		switch {
		case st.Quarantined:
			icon = "🧯"
		case !st.Enabled:
			icon = "⛔"
		case !st.Running:
			icon = "🟨"
		case st.HealthErr != "":
			icon = "⚠️"
		}
		health := st.Health
		if health == "" {
			health = "-"
		}
		if st.HealthErr != "" {
			health += ": " + st.HealthErr
		}
		line := fmt.Sprintf("%s %s (%s)", icon, st.Name, health)
		if st.Quarantined && st.QuarantineErr != "" {
			line += " quarantined since " + humanize.Time(st.QuarantineSince) + ": " + st.QuarantineErr
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
