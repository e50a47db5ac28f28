package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func newTestManager(path string, env map[string]string) *ConfigManager {
	m := NewConfigManager(path)
	m.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	m.debounce = 20 * time.Millisecond
	return m
}

func TestLoadYAMLExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
discord:
  token: ${BOT_TOKEN}
logging:
  level: debug
  console: true
scheduler:
  enabled: true
plugins:
  interview_match:
    enabled: true
    config:
      hour: 12
`)
	m := newTestManager(p, map[string]string{"BOT_TOKEN": "abc"})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "abc" {
		t.Fatalf("token not expanded: %q", cfg.Discord.Token)
	}
	if cfg.Discord.Prefix != "!" || cfg.Roles.Member != "Otter" || cfg.Scheduler.Timezone != DefaultTimezone {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Roles.Collaborators) != 2 {
		t.Fatalf("collaborator defaults missing: %v", cfg.Roles.Collaborators)
	}
	var pc struct {
		Hour int `json:"hour"`
	}
	if err := json.Unmarshal(cfg.Plugins["interview_match"].Config, &pc); err != nil || pc.Hour != 12 {
		t.Fatalf("plugin config: %v %+v", err, pc)
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit")
	}
}

func TestTokenFallsBackToEnv(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.json", `{"discord":{},"plugins":{}}`)
	m := newTestManager(p, map[string]string{TokenEnv: " xyz "})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "xyz" {
		t.Fatalf("token=%q", cfg.Discord.Token)
	}
}

func TestStrictDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown top-level", `{"discord":{"token":"x"},"bogus":1}`, "unknown field"},
		{"unknown plugin key", `{"discord":{"token":"x"},"plugins":{"a":{"enabled":true,"timeout":"1s"}}}`, "unknown field"},
		{"trailing data", `{"discord":{"token":"x"}}{}`, "trailing"},
		{"missing token", `{"discord":{}}`, "discord.token"},
		{"bad timezone", `{"discord":{"token":"x"},"scheduler":{"timezone":"Mars/Base"}}`, "scheduler.timezone"},
		{"bad driver", `{"discord":{"token":"x"},"storage":{"driver":"mongo"}}`, "storage.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), "config.json", tt.body)
			_, err := newTestManager(p, nil).Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err=%v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvDefaultsAndLiterals(t *testing.T) {
	t.Parallel()

	lookup := func(k string) (string, bool) {
		if k == "SET" {
			return "v", true
		}
		return "", false
	}
	got := string(expandEnv([]byte(`a=${SET} b=${UNSET:-dflt} c=${UNSET} d=$HOME`), lookup))
	if got != "a=v b=dflt c= d=$HOME" {
		t.Fatalf("expandEnv=%q", got)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"discord":{"token":"x"},"logging":{"level":"info"}}`)
	m := newTestManager(p, nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid content is rejected and never published
	writeFile(t, dir, "config.json", `{"discord":{"token":"x"},"nope":true}`)
	time.Sleep(150 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("unexpected publish: %+v", c)
	default:
	}

	writeFile(t, dir, "config.json", `{"discord":{"token":"x"},"logging":{"level":"debug"}}`)
	select {
	case c := <-sub:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level=%q", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reload not published")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Discord: DiscordConfig{Token: "a"}, Plugins: map[string]PluginConfigRaw{
		"leetcode": {Enabled: true, Config: json.RawMessage(`{"a":1,"b":2}`)},
		"hiring":   {Enabled: true},
	}}
	newCfg := &Config{Discord: DiscordConfig{Token: "a"}, Plugins: map[string]PluginConfigRaw{
		"leetcode": {Enabled: true, Config: json.RawMessage(`{ "b":2, "a":1 }`)},
		"hiring":   {Enabled: false},
		"welcome":  {Enabled: true},
	}}
	changed, _, plugins := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "plugins" {
		t.Fatalf("changed=%v", changed)
	}
	if strings.Join(plugins, ",") != "hiring,welcome" {
		t.Fatalf("plugins=%v", plugins)
	}
}
