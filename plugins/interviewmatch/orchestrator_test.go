package interviewmatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"otterbot/internal/config"
	"otterbot/internal/eventbus"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	"otterbot/internal/transport/transporttest"
	logx "otterbot/pkg/logx"
)

func defaultRoles() config.RolesConfig {
	return config.RolesConfig{
		Member:        config.DefaultMemberRole,
		Collaborators: config.DefaultCollaboratorRoles,
		Admins:        config.DefaultAdminRoles,
	}
}

func newTestOrchestrator(t *testing.T, f *transporttest.Fake) (*Orchestrator, storage.Store, eventbus.Bus) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	bus := eventbus.New()
	o := NewOrchestrator(st, f, bus, logx.Nop(), defaultRoles)
	o.SetRand(rand.New(rand.NewSource(1)))
	return o, st, bus
}

func putActivity(t *testing.T, st storage.Store, c storage.ActivityConfig) {
	t.Helper()
	if c.Emoji == "" {
		c.Emoji = "👍"
	}
	if err := st.PutActivity(context.Background(), c); err != nil {
		t.Fatalf("PutActivity: %v", err)
	}
}

func getActivity(t *testing.T, st storage.Store, guildID string) storage.ActivityConfig {
	t.Helper()
	c, err := st.GetActivity(context.Background(), guildID)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	return c
}

func TestAnnouncePostsAndStoresMessageID(t *testing.T) {
	t.Parallel()

	f := newFakeGuild()
	o, st, _ := newTestOrchestrator(t, f)
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1", DayOfWeek: 2})
	putActivity(t, st, storage.ActivityConfig{GuildID: "other", ChannelID: "c9", AuthorID: "a1", DayOfWeek: 3})

	if err := o.Announce(context.Background(), 2); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	sent := f.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg := sent[0]
	if msg.ChannelID != testChannel || !strings.HasPrefix(msg.Msg.Content, "<@&r-otter>\nHello my beloved otters") {
		t.Fatalf("activity message = %+v", msg)
	}
	if len(msg.Msg.MentionRoles) != 1 || msg.Msg.MentionRoles[0] != "r-otter" {
		t.Fatalf("mention roles = %v", msg.Msg.MentionRoles)
	}
	if r := f.Reacted(); len(r) != 1 || r[0] != msg.Ref.MessageID+" 👍" {
		t.Fatalf("seed reaction = %v", r)
	}
	if got := getActivity(t, st, testGuild).MessageID; got != msg.Ref.MessageID {
		t.Fatalf("stored message id = %q, want %q", got, msg.Ref.MessageID)
	}
	if got := getActivity(t, st, "other").MessageID; got != "" {
		t.Fatalf("other guild announced: %q", got)
	}
}

func TestAnnounceWithoutMemberRole(t *testing.T) {
	t.Parallel()

	f := transporttest.New()
	o, st, _ := newTestOrchestrator(t, f)
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1"})

	if err := o.AnnounceGuild(context.Background(), storage.ActivityConfig{GuildID: testGuild}); err != nil {
		t.Fatalf("AnnounceGuild: %v", err)
	}
	sent := f.Sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].Msg.Content, "\nHello") || len(sent[0].Msg.MentionRoles) != 0 {
		t.Fatalf("sent = %+v", sent)
	}
}

func setupCheck(t *testing.T, reactors ...string) (*Orchestrator, storage.Store, *transporttest.Fake, eventbus.Bus) {
	t.Helper()
	f := newFakeGuild()
	f.AddMember(testGuild, user("a1"), "Author", "r-admin")
	var users []transport.User
	for _, id := range reactors {
		roles := []string{"r-otter"}
		if strings.HasPrefix(id, "mod") {
			roles = append(roles, "r-mod")
		}
		f.AddMember(testGuild, user(id), "", roles...)
		users = append(users, user(id))
	}
	f.AddReactionUsers(testChannel, testMessage, "👍", users...)
	if len(users) == 0 {
		f.Messages[testMessage] = &transport.FetchedMessage{ID: testMessage, ChannelID: testChannel}
	}
	o, st, bus := newTestOrchestrator(t, f)
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1", DayOfWeek: 2, MessageID: testMessage})
	return o, st, f, bus
}

func TestCheckPairsNotifiesAndPostsSummary(t *testing.T) {
	t.Parallel()

	o, st, f, bus := setupCheck(t, "mod1", "m2", "m3")
	events, unsub := bus.Subscribe(4)
	defer unsub()

	if err := o.Check(context.Background(), 2); err != nil {
		t.Fatalf("Check: %v", err)
	}

	dms := f.DMs()
	if len(dms) != 4 {
		t.Fatalf("sent %d DMs, want 4", len(dms))
	}
	got := map[string]bool{}
	for _, d := range dms {
		got[d.UserID] = true
		if !strings.HasPrefix(d.Msg.Content, "Hello user-"+d.UserID+"!\nYou have been paired with ") {
			t.Fatalf("DM to %s = %q", d.UserID, d.Msg.Content)
		}
	}
	for _, id := range []string{"a1", "mod1", "m2", "m3"} {
		if !got[id] {
			t.Fatalf("%s not notified", id)
		}
	}

	sent := f.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d channel messages, want 1", len(sent))
	}
	summary := sent[0].Msg
	want := notificationMessage + "\n<@a1>,<@m2>,<@m3>,<@mod1>"
	if summary.Content != want {
		t.Fatalf("summary = %q, want %q", summary.Content, want)
	}
	if len(summary.Files) != 1 || summary.Files[0].Name != imageName || len(summary.Files[0].Data) == 0 {
		t.Fatalf("summary files = %+v", summary.Files)
	}

	if id := getActivity(t, st, testGuild).MessageID; id != testMessage {
		t.Fatalf("keep policy changed message id to %q", id)
	}

	select {
	case ev := <-events:
		ce, ok := ev.Data.(CycleEvent)
		if ev.Type != eventbus.TypeCycleDone || !ok || ce.Pairs != 2 || ce.Candidates != 3 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no cycle event")
	}
}

func TestCheckEmptyPool(t *testing.T) {
	t.Parallel()

	o, st, f, _ := setupCheck(t)
	o.SetResetPolicy(ResetClear)

	if err := o.CheckGuild(context.Background(), storage.ActivityConfig{GuildID: testGuild}); err != nil {
		t.Fatalf("CheckGuild: %v", err)
	}
	if texts := f.Texts(); len(texts) != 1 || texts[0] != emptyPoolMessage {
		t.Fatalf("texts = %v", texts)
	}
	if len(f.DMs()) != 0 {
		t.Fatalf("DMs sent for empty pool")
	}
	if id := getActivity(t, st, testGuild).MessageID; id != "" {
		t.Fatalf("clear policy left message id %q", id)
	}
}

func TestCheckClearPolicyAfterPairing(t *testing.T) {
	t.Parallel()

	o, st, _, _ := setupCheck(t, "m1", "m2")
	o.SetResetPolicy(ResetClear)
	if err := o.Check(context.Background(), 2); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if id := getActivity(t, st, testGuild).MessageID; id != "" {
		t.Fatalf("message id = %q, want cleared", id)
	}
}

func TestCheckContinuesPastFailedDMs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "dms closed", err: transport.ErrPermissionDenied},
		{name: "delivery failed", err: transport.ErrDeliveryFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o, _, f, _ := setupCheck(t, "m1", "m2", "m3", "m4")
			f.DMErr["m2"] = tt.err

			if err := o.Check(context.Background(), 2); err != nil {
				t.Fatalf("Check: %v", err)
			}
			dms := f.DMs()
			if len(dms) != 3 {
				t.Fatalf("DMs = %d, want 3", len(dms))
			}
			for _, d := range dms {
				if d.UserID == "m2" {
					t.Fatalf("failed DM recorded as sent")
				}
			}
			if n := len(f.Sent()); n != 1 {
				t.Fatalf("summary not posted")
			}
		})
	}
}

func TestCheckOddPoolWithAuthorSitsOut(t *testing.T) {
	t.Parallel()

	o, _, f, _ := setupCheck(t, "a1", "m2", "m3")
	if err := o.Check(context.Background(), 2); err != nil {
		t.Fatalf("Check: %v", err)
	}

	dms := map[string]string{}
	for _, d := range f.DMs() {
		dms[d.UserID] = d.Msg.Content
	}
	if len(dms) != 3 {
		t.Fatalf("DMs = %v, want m2, m3 and the author", dms)
	}
	if !strings.HasPrefix(dms["a1"], "Hello user-a1!\nAn odd number of otters signed up") {
		t.Fatalf("author DM = %q", dms["a1"])
	}
	if !strings.Contains(dms["m2"], "paired with user-m3") {
		t.Fatalf("m2 DM = %q", dms["m2"])
	}
	sent := f.Sent()
	if len(sent) != 1 || sent[0].Msg.Content != notificationMessage+"\n<@m2>,<@m3>" {
		t.Fatalf("summary = %+v", sent)
	}
}

func TestCheckSkipsUnavailableMessage(t *testing.T) {
	t.Parallel()

	o, st, f, _ := setupCheck(t, "m1", "m2")
	putActivity(t, st, storage.ActivityConfig{GuildID: "g0", ChannelID: "c0", AuthorID: "a1", DayOfWeek: 2, MessageID: "deleted"})

	if err := o.Check(context.Background(), 2); err != nil {
		t.Fatalf("Check: %v", err)
	}
	sent := f.Sent()
	if len(sent) != 1 || sent[0].ChannelID != testChannel {
		t.Fatalf("sent = %+v, want only the healthy guild's summary", sent)
	}
	if id := getActivity(t, st, "g0").MessageID; id != "deleted" {
		t.Fatalf("unavailable guild changed: %q", id)
	}
}

func TestCheckWithoutMessageIDDoesNothing(t *testing.T) {
	t.Parallel()

	f := newFakeGuild()
	o, st, _ := newTestOrchestrator(t, f)
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1"})
	if err := o.CheckGuild(context.Background(), storage.ActivityConfig{GuildID: testGuild}); err != nil {
		t.Fatalf("CheckGuild: %v", err)
	}
	if len(f.Sent()) != 0 {
		t.Fatalf("sent messages without a weekly message")
	}
}

func TestCheckMissingConfigIsNoop(t *testing.T) {
	t.Parallel()

	o, _, _ := newTestOrchestrator(t, newFakeGuild())
	if err := o.CheckGuild(context.Background(), storage.ActivityConfig{GuildID: "stopped"}); err != nil {
		t.Fatalf("CheckGuild: %v", err)
	}
}

func TestCheckDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		today, offset, want int
	}{
		{today: 3, offset: 1, want: 2},
		{today: 0, offset: 1, want: 6},
		{today: 1, offset: 3, want: 5},
		{today: 4, offset: 0, want: 4},
	}
	for _, tt := range tests {
		if got := CheckDay(tt.today, tt.offset); got != tt.want {
			t.Fatalf("CheckDay(%d, %d) = %d, want %d", tt.today, tt.offset, got, tt.want)
		}
	}
}

func TestRenderPairsRejectsHugeImages(t *testing.T) {
	t.Parallel()

	pairs := make([]Pair, 400)
	for i := range pairs {
		pairs[i] = Pair{cand("a", false), cand("b", false)}
	}
	if _, err := RenderPairs(pairs); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	img, err := RenderPairs([]Pair{{cand("Zoë", true), cand("Bob", false)}})
	if err != nil || len(img) < 8 || string(img[1:4]) != "PNG" {
		t.Fatalf("RenderPairs: %d bytes, %v", len(img), err)
	}
}

func TestLabelFaceDrawsAccents(t *testing.T) {
	t.Parallel()

	face, err := newLabelFace()
	if err != nil {
		t.Fatalf("newLabelFace: %v", err)
	}
	defer face.Close()
	for _, r := range "José Zoë Núñez" {
		if _, ok := face.GlyphAdvance(r); !ok {
			t.Fatalf("no glyph for %q", r)
		}
	}

	img, err := RenderPairs([]Pair{{cand("José", true), cand("Núñez", false)}})
	if err != nil || len(img) == 0 {
		t.Fatalf("RenderPairs: %d bytes, %v", len(img), err)
	}
}

// heldSend parks every Send until release is closed or the call's context ends.
type heldSend struct {
	*transporttest.Fake
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHeldSend() *heldSend {
	return &heldSend{Fake: newFakeGuild(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldSend) Send(ctx context.Context, channelID string, msg transport.OutMessage) (transport.MessageRef, error) {
	h.once.Do(func() { close(h.entered) })
	select {
	case <-h.release:
	case <-ctx.Done():
		return transport.MessageRef{}, ctx.Err()
	}
	return h.Fake.Send(ctx, channelID, msg)
}

func waitEntered(t *testing.T, h *heldSend) {
	t.Helper()
	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("announce never reached Send")
	}
}

func TestSaveConfigWaitsForAnnounce(t *testing.T) {
	t.Parallel()

	msg := newHeldSend()
	o, st, _ := newTestOrchestrator(t, msg.Fake)
	o.msg = msg
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1", DayOfWeek: 2})

	ctx := context.Background()
	announced := make(chan error, 1)
	go func() { announced <- o.AnnounceGuild(ctx, storage.ActivityConfig{GuildID: testGuild}) }()
	waitEntered(t, msg)

	saved := make(chan error, 1)
	go func() {
		saved <- o.SaveConfig(ctx, storage.ActivityConfig{GuildID: testGuild, ChannelID: "c2", AuthorID: "a2", DayOfWeek: 4, Emoji: "🦦"})
	}()
	select {
	case err := <-saved:
		t.Fatalf("save finished during announce: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(msg.release)

	if err := <-announced; err != nil {
		t.Fatalf("AnnounceGuild: %v", err)
	}
	if err := <-saved; err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got := getActivity(t, st, testGuild)
	if got.ChannelID != "c2" || got.AuthorID != "a2" || got.DayOfWeek != 4 || got.Emoji != "🦦" || got.MessageID != "" {
		t.Fatalf("stored = %+v, want the newly saved config", got)
	}
}

func TestAnnounceBoundedByOpTimeout(t *testing.T) {
	t.Parallel()

	msg := newHeldSend()
	o, st, _ := newTestOrchestrator(t, msg.Fake)
	o.msg = msg
	o.SetOpTimeout(20 * time.Millisecond)
	putActivity(t, st, storage.ActivityConfig{GuildID: testGuild, ChannelID: testChannel, AuthorID: "a1"})

	err := o.AnnounceGuild(context.Background(), storage.ActivityConfig{GuildID: testGuild})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if id := getActivity(t, st, testGuild).MessageID; id != "" {
		t.Fatalf("message id stored after failed post: %q", id)
	}
}
