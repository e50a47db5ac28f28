package englishclub

import (
	"context"
	"testing"

	"otterbot/internal/plugin"
	"otterbot/internal/storage"
	"otterbot/internal/task/engine"
	"otterbot/internal/task/scheduler"
	"otterbot/internal/transport/transporttest"
	logx "otterbot/pkg/logx"
)

func TestValidSessionTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"10:00 PM", true},
		{"10:00PM", true},
		{"9:30 AM", true},
		{"09:30 AM", true},
		{"12:59 PM", true},
		{"13:00 PM", false},
		{"0:30 AM", false},
		{"10:60 PM", false},
		{"10:00 pm", false},
		{"10:00  PM", false},
		{"10 PM", false},
		{"", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := validSessionTime(tt.in); got != tt.want {
				t.Fatalf("validSessionTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

type harness struct {
	p     *Plugin
	f     *transporttest.Fake
	st    storage.Store
	sched *scheduler.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	f := transporttest.New()
	p := New()
	deps := plugin.Deps{Logger: logx.Nop(), Messenger: f, Store: st, Services: &plugin.Services{Scheduler: sched}}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return &harness{p: p, f: f, st: st, sched: sched}
}

func (h *harness) request(args ...string) *plugin.Request {
	return &plugin.Request{GuildID: "g1", ChannelID: "cmd", UserID: "u1", Args: args, Flags: map[string]string{}, Messenger: h.f, Logger: logx.Nop()}
}

func TestStartSchedulesGuildAndStopRemovesIt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if err := h.p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := h.request("<#300>", "<@&42>")
	req.Flags["cron"] = "0 20 * * 3"
	if err := h.p.cmdStart(ctx, req); err != nil {
		t.Fatalf("cmdStart: %v", err)
	}
	c, err := storage.LoadSetting[storage.EnglishClubConfig](ctx, h.st, storage.KindEnglishClub, "g1")
	if err != nil || c.ChannelID != "300" || c.RoleID != "42" || c.Spec != "0 20 * * 3" {
		t.Fatalf("stored %+v, %v", c, err)
	}
	if !h.sched.Has("english_club:reminder:g1") {
		t.Fatalf("reminder not scheduled")
	}

	if err := h.p.cmdStop(ctx, h.request()); err != nil {
		t.Fatalf("cmdStop: %v", err)
	}
	if h.sched.Has("english_club:reminder:g1") {
		t.Fatalf("reminder still scheduled")
	}
	texts := h.f.Texts()
	if len(texts) != 2 || texts[0] != startedReply || texts[1] != stoppedReply {
		t.Fatalf("replies = %v", texts)
	}
}

func TestStartRestoresStoredGuilds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for _, g := range []string{"g1", "g2"} {
		if err := storage.SaveSetting(ctx, h.st, storage.KindEnglishClub, g, storage.EnglishClubConfig{GuildID: g, ChannelID: "c-" + g}); err != nil {
			t.Fatalf("SaveSetting: %v", err)
		}
	}
	if err := h.p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.sched.Has("english_club:reminder:g1") || !h.sched.Has("english_club:reminder:g2") {
		t.Fatalf("stored guilds not scheduled: %+v", h.sched.Snapshot().Schedules)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_ = h.p.cmdStart(ctx, h.request("general"))
	_ = h.p.cmdStart(ctx, h.request("300", "everyone"))
	req := h.request("300")
	req.Flags["cron"] = "sometimes"
	_ = h.p.cmdStart(ctx, req)
	if texts := h.f.Texts(); len(texts) != 3 || texts[2] != "Invalid cron schedule: sometimes" {
		t.Fatalf("replies = %v", texts)
	}
	if _, err := storage.LoadSetting[storage.EnglishClubConfig](ctx, h.st, storage.KindEnglishClub, "g1"); err == nil {
		t.Fatalf("config stored for bad input")
	}
}

func TestRemindMentionsRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if err := storage.SaveSetting(ctx, h.st, storage.KindEnglishClub, "g1", storage.EnglishClubConfig{GuildID: "g1", ChannelID: "300", RoleID: "42"}); err != nil {
		t.Fatalf("SaveSetting: %v", err)
	}
	if err := h.p.cmdRun(ctx, h.request()); err != nil {
		t.Fatalf("cmdRun: %v", err)
	}
	sent := h.f.Sent()
	if len(sent) != 1 || sent[0].ChannelID != "300" {
		t.Fatalf("sent = %+v", sent)
	}
	msg := sent[0].Msg
	if len(msg.Embeds) != 1 || msg.Embeds[0].Description != "Hey yo, English club this week? <@&42> 👀" || len(msg.MentionRoles) != 1 {
		t.Fatalf("reminder = %+v", msg)
	}

	if err := h.p.remind(ctx, "gone"); err != nil {
		t.Fatalf("remind for a stopped guild: %v", err)
	}
}

func TestScheduleSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_ = h.p.cmdSchedule(ctx, h.request("10:00", "PM"))
	_ = h.p.cmdSchedule(ctx, h.request("25:00PM"))

	sent := h.f.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	session := sent[0]
	if session.ChannelID != "cmd" || !session.Msg.MentionEveryone || session.Msg.Embeds[0].Title != "English Club Session" || session.Msg.Embeds[0].Color != colorGreen {
		t.Fatalf("session = %+v", session)
	}
	if sent[1].Msg.Content != invalidTimeReply {
		t.Fatalf("invalid reply = %q", sent[1].Msg.Content)
	}
}
