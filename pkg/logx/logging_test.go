package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"otterbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	ch   chan struct{}
}

func (c *captureSender) SendText(_ context.Context, channelID, text string) (transport.MessageRef, error) {
	c.mu.Lock()
	c.msgs = append(c.msgs, channelID+"|"+text)
	c.mu.Unlock()
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return transport.MessageRef{ChannelID: channelID}, nil
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" || m["n"] != float64(3) {
		t.Fatalf("unexpected line: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field: %v", m)
	}
}

func TestNopAndZeroLoggerAreSafe(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("ignored")
	Nop().Error("ignored", Err(nil))
}

func TestFormatChatJSON(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"error","message":"boom","comp":"engine","time":"x","b":"2"}`)
	got := formatChatJSON(line)
	if !strings.HasPrefix(got, "**[ERROR]** boom") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be dropped: %q", got)
	}
	// keys are sorted for stable output
	if strings.Index(got, "- b=2") > strings.Index(got, "- comp=engine") {
		t.Fatalf("fields not sorted: %q", got)
	}

	long := strings.Repeat("x", 5000)
	if n := len(formatChatJSON([]byte(long))); n > discordMaxLen {
		t.Fatalf("raw line not truncated: %d", n)
	}
}

func TestDiscordSinkRespectsMinLevel(t *testing.T) {
	t.Parallel()

	snd := &captureSender{ch: make(chan struct{}, 4)}
	svc, l := New(Config{
		Level:   "debug",
		Console: false,
		Discord: DiscordConfig{Enabled: true, ChannelID: "c1", MinLevel: "warn", RatePerSec: 10},
	}, snd)
	defer svc.Close()

	l.Info("quiet")
	l.Warn("loud")

	select {
	case <-snd.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("warn line was not delivered")
	}

	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.msgs) != 1 || !strings.HasPrefix(snd.msgs[0], "c1|") || !strings.Contains(snd.msgs[0], "loud") {
		t.Fatalf("unexpected deliveries: %v", snd.msgs)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}
