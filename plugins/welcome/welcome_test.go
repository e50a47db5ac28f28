package welcome

import (
	"context"
	"testing"
	"time"

	"otterbot/internal/eventbus"
	"otterbot/internal/plugin"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	"otterbot/internal/transport/transporttest"
	logx "otterbot/pkg/logx"
)

type harness struct {
	p   *Plugin
	f   *transporttest.Fake
	st  storage.Store
	bus eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	f := transporttest.New()
	f.Roles["g1"] = []transport.Role{{ID: "r-otter", Name: "Otter"}, {ID: "r-mod", Name: "Otter Moderator"}}
	bus := eventbus.New()
	p := New()
	if err := p.Init(context.Background(), plugin.Deps{Logger: logx.Nop(), Messenger: f, Store: st, Bus: bus}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return &harness{p: p, f: f, st: st, bus: bus}
}

func guildIDs(t *testing.T, st storage.Store) map[string]bool {
	t.Helper()
	gs, err := st.ListGuilds(context.Background())
	if err != nil {
		t.Fatalf("ListGuilds: %v", err)
	}
	out := map[string]bool{}
	for _, g := range gs {
		out[g.GuildID] = true
	}
	return out
}

func TestGuildRegistry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	events, unsub := h.bus.Subscribe(8)
	defer unsub()

	if err := h.p.onReady(ctx, transport.Update{Kind: transport.UpdateReady, Ready: &transport.Ready{GuildIDs: []string{"g1", "g2"}}}); err != nil {
		t.Fatalf("onReady: %v", err)
	}
	_ = h.p.onGuildJoined(ctx, transport.Update{Guild: &transport.Guild{ID: "g3", Name: "Otters"}})
	_ = h.p.onGuildJoined(ctx, transport.Update{Guild: &transport.Guild{ID: "g1"}})
	_ = h.p.onGuildRemoved(ctx, transport.Update{Guild: &transport.Guild{ID: "g2", Unavailable: true}})
	_ = h.p.onGuildRemoved(ctx, transport.Update{Guild: &transport.Guild{ID: "g1"}})

	got := guildIDs(t, h.st)
	if len(got) != 2 || !got["g2"] || !got["g3"] {
		t.Fatalf("registry = %v, want g2 and g3", got)
	}

	var types []string
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != eventbus.TypeGuildJoined || types[1] != eventbus.TypeGuildRemoved {
		t.Fatalf("events = %v", types)
	}
}

func TestMemberJoinedGetsGreeting(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.f.DMErr["closed"] = transport.ErrPermissionDenied

	for _, u := range []transport.User{{ID: "u1"}, {ID: "bot", Bot: true}, {ID: "closed"}} {
		if err := h.p.onMemberJoined(ctx, transport.Update{Member: &transport.Member{GuildID: "g1", User: u}}); err != nil {
			t.Fatalf("onMemberJoined(%s): %v", u.ID, err)
		}
	}
	dms := h.f.DMs()
	if len(dms) != 1 || dms[0].UserID != "u1" || dms[0].Msg.Content != "Welcome to Proyecto Nutria" {
		t.Fatalf("dms = %+v", dms)
	}
}

func TestReactionGrantsMemberRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	req := &plugin.Request{GuildID: "g1", ChannelID: "cmd", UserID: "admin", Args: []string{"900"}, Messenger: h.f, Logger: logx.Nop()}
	if err := h.p.cmdSet(ctx, req); err != nil {
		t.Fatalf("cmdSet: %v", err)
	}

	react := func(msgID, userID string, roles ...string) {
		t.Helper()
		r := &transport.Reaction{GuildID: "g1", ChannelID: "c1", MessageID: msgID, UserID: userID, EmojiName: "🦦",
			Member: &transport.Member{GuildID: "g1", User: transport.User{ID: userID}, RoleIDs: roles}}
		if err := h.p.onReactionAdded(ctx, transport.Update{Kind: transport.UpdateReactionAdded, Reaction: r}); err != nil {
			t.Fatalf("onReactionAdded: %v", err)
		}
	}
	react("900", "u1")
	react("901", "u2")
	react("900", "u3", "r-otter")

	if got := h.f.Granted(); len(got) != 1 || got[0] != "g1 u1 r-otter" {
		t.Fatalf("granted = %v", got)
	}
}

func TestReactionWithoutConfigIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := &transport.Reaction{GuildID: "g1", MessageID: "900", UserID: "u1"}
	if err := h.p.onReactionAdded(context.Background(), transport.Update{Reaction: r}); err != nil {
		t.Fatalf("onReactionAdded: %v", err)
	}
	if len(h.f.Granted()) != 0 {
		t.Fatalf("role granted without a welcome message")
	}
}

func TestSetRejectsBadMessageID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	req := &plugin.Request{GuildID: "g1", ChannelID: "cmd", Args: []string{"hello"}, Messenger: h.f, Logger: logx.Nop()}
	if err := h.p.cmdSet(context.Background(), req); err != nil {
		t.Fatalf("cmdSet: %v", err)
	}
	if texts := h.f.Texts(); len(texts) != 1 || texts[0] != "Usage: welcome set <message_id> [@role]" {
		t.Fatalf("texts = %v", texts)
	}
}
