package app

import (
	"testing"
	"time"

	"otterbot/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sc      *config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "absent", driver: "memory"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}, driver: "memory"},
		{name: "file", sc: &config.StorageConfig{Driver: "file", Path: "./data"}, driver: "file"},
		{name: "sqlite default busy", sc: &config.StorageConfig{Driver: "SQLite", Path: "./bot.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", sc: &config.StorageConfig{Driver: "sqlite3", Path: "./bot.db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite without path", sc: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", sc: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&config.Config{Storage: tt.sc})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapTaskEngineConfig(t *testing.T) {
	t.Parallel()

	got, err := mapTaskEngineConfig(&config.Config{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !got.Enabled || got.Workers != 2 || got.QueueSize != 256 || got.HistorySize != 200 || got.RetryMax != 0 {
		t.Fatalf("defaults = %+v", got)
	}

	got, err = mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{Workers: 4, RetryMax: 2, DefaultTimeout: "90s"}})
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	if got.Workers != 4 || got.RetryMax != 2 || got.DefaultTimeout != 90*time.Second {
		t.Fatalf("custom = %+v", got)
	}

	if _, err := mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{Workers: -1}}); err == nil {
		t.Fatalf("negative workers accepted")
	}
	if _, err := mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{DefaultTimeout: "soon"}}); err == nil {
		t.Fatalf("bad timeout accepted")
	}
}

func TestMapBroadcastConfig(t *testing.T) {
	t.Parallel()

	got, err := mapBroadcastConfig(&config.Config{})
	if err != nil || got.Enabled {
		t.Fatalf("absent = %+v, %v", got, err)
	}

	got, err = mapBroadcastConfig(&config.Config{Broadcast: &config.BroadcastConfig{Enabled: true, RatePerSec: 5, RetryBase: "2s"}})
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	if !got.Enabled || got.RatePerSec != 5 || got.RetryBase != 2*time.Second || got.DedupWindow != 20*time.Hour {
		t.Fatalf("custom = %+v", got)
	}

	if _, err := mapBroadcastConfig(&config.Config{Broadcast: &config.BroadcastConfig{DedupWindow: "forever"}}); err == nil {
		t.Fatalf("bad dedup window accepted")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "Mars/Olympus"}}
	if err := validate(cfg); err == nil {
		t.Fatalf("bad timezone accepted")
	}
	cfg.Scheduler.Timezone = "America/Mexico_City"
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{
		Level:   "debug",
		Console: true,
		Discord: config.LoggingDiscord{Enabled: true, ChannelID: "123", MinLevel: "warn", RatePerSec: 2},
	}}
	got := mapLogConfig(cfg)
	if got.Level != "debug" || !got.Console || !got.Discord.Enabled || got.Discord.ChannelID != "123" || got.Discord.RatePerSec != 2 {
		t.Fatalf("got %+v", got)
	}
}
