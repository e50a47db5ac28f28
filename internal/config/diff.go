package config

import (
	"reflect"
	"sort"
	"strings"

	logx "otterbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, log-safe attrs (the
// token is never included) and the names of plugins whose block changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.Prefix != newCfg.Discord.Prefix ||
		!reflect.DeepEqual(oldCfg.Discord.AdminUserIDs, newCfg.Discord.AdminUserIDs) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.String("discord.prefix", newCfg.Discord.Prefix),
			logx.Int("discord.admin_count", len(newCfg.Discord.AdminUserIDs)),
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Roles, newCfg.Roles) {
		changed = append(changed, "roles")
		attrs = append(attrs,
			logx.String("roles.member", newCfg.Roles.Member),
			logx.Strings("roles.collaborators", newCfg.Roles.Collaborators),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord", newCfg.Logging.Discord.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	names := map[string]struct{}{}
	for k := range oldCfg.Plugins {
		names[k] = struct{}{}
	}
	for k := range newCfg.Plugins {
		names[k] = struct{}{}
	}
	var plugins []string
	for name := range names {
		o, okOld := oldCfg.Plugins[name]
		n, okNew := newCfg.Plugins[name]
		if okOld != okNew || o.Enabled != n.Enabled || CanonicalHashJSON(o.Config) != CanonicalHashJSON(n.Config) {
			plugins = append(plugins, name)
		}
	}
	sort.Strings(plugins)
	if len(plugins) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs, logx.Strings("plugins.changed", plugins))
	}

	return changed, attrs, plugins
}
