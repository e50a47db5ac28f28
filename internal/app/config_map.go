package app

import (
	"fmt"
	"strings"
	"time"

	"otterbot/internal/broadcast"
	"otterbot/internal/config"
	"otterbot/internal/storage"
	"otterbot/internal/task/engine"
	"otterbot/internal/task/scheduler"
	logx "otterbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

// mapStorageConfig returns the store config. Without a storage section the
// bot runs on the in-memory store.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

// mapTaskEngineConfig fills the engine defaults: 2 workers, a 256 slot
// queue, 200 history entries and no retries.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		return out, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return out, err
	}
	out.DefaultTimeout = d
	return out, nil
}

// mapBroadcastConfig converts the broadcast section. An absent section
// leaves broadcasting off and plugins send directly.
func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	if bc == nil {
		return broadcast.Config{}, nil
	}
	if bc.Workers < 0 || bc.QueueSize < 0 || bc.RatePerSec < 0 || bc.RetryMax < 0 {
		return broadcast.Config{}, fmt.Errorf("broadcast: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	retryBase, err := config.ParseDurationField("broadcast.retry_base", bc.RetryBase)
	if err != nil {
		return broadcast.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("broadcast.dedup_window", bc.DedupWindow, 20*time.Hour)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Enabled:     bc.Enabled,
		Workers:     bc.Workers,
		QueueSize:   bc.QueueSize,
		RatePerSec:  bc.RatePerSec,
		RetryMax:    bc.RetryMax,
		RetryBase:   retryBase,
		DedupWindow: window,
	}, nil
}

// validate checks what the service mappers would reject on reload.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
