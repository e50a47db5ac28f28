package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPrefix     = "!"
	DefaultTimezone   = "America/Mexico_City"
	DefaultMemberRole = "Otter"
)

// DefaultCollaboratorRoles are the role names that place a member in the
// collaborator tier and grant moderator commands.
var DefaultCollaboratorRoles = []string{"Otter Moderator", "Otter Admin"}

// DefaultAdminRoles grant admin-only commands.
var DefaultAdminRoles = []string{"Otter Admin"}

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Roles   RolesConfig   `json:"roles"`
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls triggers (cron expressions, timezone).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of scheduled jobs.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Broadcast *BroadcastConfig           `json:"broadcast,omitempty"`
	Storage   *StorageConfig             `json:"storage,omitempty"`
	Plugins   map[string]PluginConfigRaw `json:"plugins"`
}

type DiscordConfig struct {
	// Token accepts ${ENV} placeholders; it is never logged.
	Token  string `json:"token"`
	Prefix string `json:"prefix,omitempty"`
	// AdminUserIDs bypass role checks (bot owners).
	AdminUserIDs []string `json:"admin_user_ids,omitempty"`
}

// RolesConfig names the guild roles the bot reasons about.
type RolesConfig struct {
	// Member is the role mentioned in announcements and granted on the welcome reaction.
	Member string `json:"member,omitempty"`
	// Collaborators place members in the mentor tier and grant moderator commands.
	Collaborators []string `json:"collaborators,omitempty"`
	// Admins grant admin-only commands.
	Admins []string `json:"admins,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the job executor.
//
// Defaults: workers 2, queue_size 256, default_timeout disabled,
// history_size 200, retry_max 0.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// BroadcastConfig controls the outbound announcement pipeline.
// Durations are Go duration strings.
type BroadcastConfig struct {
	Enabled     bool   `json:"enabled"`
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	RatePerSec  int    `json:"rate_per_sec"`
	RetryMax    int    `json:"retry_max"`
	RetryBase   string `json:"retry_base"`
	DedupWindow string `json:"dedup_window"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./data/otterbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON rejects unknown keys inside a plugin block.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Discord.Prefix) == "" {
		c.Discord.Prefix = DefaultPrefix
	}
	if strings.TrimSpace(c.Roles.Member) == "" {
		c.Roles.Member = DefaultMemberRole
	}
	if len(c.Roles.Collaborators) == 0 {
		c.Roles.Collaborators = append([]string(nil), DefaultCollaboratorRoles...)
	}
	if len(c.Roles.Admins) == 0 {
		c.Roles.Admins = append([]string(nil), DefaultAdminRoles...)
	}
	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if c.Plugins == nil {
		c.Plugins = map[string]PluginConfigRaw{}
	}
}

// Validate checks the fields startup cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord.token is required (set it or DISCORD_TOKEN)"))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if c.TaskEngine != nil {
		if _, err := ParseDurationField("task_engine.default_timeout", c.TaskEngine.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Broadcast != nil {
		if _, err := ParseDurationField("broadcast.retry_base", c.Broadcast.RetryBase); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("broadcast.dedup_window", c.Broadcast.DedupWindow); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseDurationField parses an optional Go duration such as "90s" found at
// path. Empty is zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
