package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"otterbot/internal/plugin"
	"otterbot/internal/task/engine"
	"otterbot/internal/task/scheduler"
	"otterbot/internal/transport/transporttest"
	logx "otterbot/pkg/logx"
)

// memSheet is an in-memory Sheet. Rows are stored the way the API returns
// them: trailing empty cells trimmed.
type memSheet struct {
	mu        sync.Mutex
	rows      [][]string
	companies []string
	updates   []string
}

func newMemSheet(companies ...string) *memSheet {
	return &memSheet{
		rows:      [][]string{{"User", "Company", "Apply", "OA", "Phone", "Interview", "Final", "Offer", "Rejection"}},
		companies: companies,
	}
}

func (m *memSheet) Rows(ctx context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (m *memSheet) UpdateCell(ctx context.Context, cell, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := int(cell[0] - 'A')
	var row int
	if _, err := fmt.Sscanf(cell[1:], "%d", &row); err != nil || row < 1 || row > len(m.rows) {
		return fmt.Errorf("bad cell %q", cell)
	}
	r := m.rows[row-1]
	for len(r) <= col {
		r = append(r, "")
	}
	r[col] = value
	m.rows[row-1] = r
	m.updates = append(m.updates, cell)
	return nil
}

func (m *memSheet) AppendRow(ctx context.Context, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, append([]string(nil), row...))
	return nil
}

func (m *memSheet) Companies(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.companies...), nil
}

func (m *memSheet) AddCompany(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies = append(m.companies, name)
	return nil
}

func TestInsert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     []string // existing row for ana/Acme, nil for none
		stage   Stage
		want    Result
		updated string
	}{
		{name: "first apply appends", stage: StageApply, want: Appended},
		{name: "stage before apply", stage: StageOA, want: MustApplyFirst},
		{name: "apply twice", row: []string{"ana", "Acme", "✅"}, stage: StageApply, want: AlreadyApplied},
		{name: "next stage", row: []string{"ana", "Acme", "✅"}, stage: StageOA, want: Updated, updated: "D2"},
		{name: "skip ahead", row: []string{"ana", "Acme", "✅", "-", "-"}, stage: StageFinal, want: Updated, updated: "G2"},
		{name: "go back", row: []string{"ana", "Acme", "✅", "-", "✅"}, stage: StageOA, want: AdvancedProcess},
		{name: "same stage twice", row: []string{"ana", "Acme", "✅", "✅"}, stage: StageOA, want: AdvancedProcess},
		{name: "apply after progress", row: []string{"ana", "Acme", "✅", "✅"}, stage: StageApply, want: AlreadyApplied},
		{name: "after offer", row: []string{"ana", "Acme", "✅", "-", "-", "-", "-", "✅"}, stage: StageRejection, want: FinalDecision},
		{name: "after rejection", row: []string{"ana", "Acme", "✅", "-", "-", "-", "-", "-", "✅"}, stage: StageOffer, want: FinalDecision},
		{name: "offer", row: []string{"ana", "Acme", "✅", "✅", "✅", "✅", "✅"}, stage: StageOffer, want: Updated, updated: "H2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sh := newMemSheet("Acme")
			if tt.row != nil {
				sh.rows = append(sh.rows, tt.row)
			}
			got, err := Insert(context.Background(), sh, "ana", "Acme", tt.stage)
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Insert = %s, want %s", got, tt.want)
			}
			if tt.updated != "" && (len(sh.updates) != 1 || sh.updates[0] != tt.updated) {
				t.Fatalf("updates = %v, want %s", sh.updates, tt.updated)
			}
			if tt.want == Appended {
				last := sh.rows[len(sh.rows)-1]
				if strings.Join(last, ",") != "ana,Acme,✅,-,-,-,-,-,-" {
					t.Fatalf("appended row = %v", last)
				}
			}
		})
	}
}

func TestInsertMatchesUserAndCompany(t *testing.T) {
	t.Parallel()

	sh := newMemSheet("Acme", "Globex")
	sh.rows = append(sh.rows, []string{"bob", "Acme", "✅"}, []string{"ana", "Globex", "✅"})
	got, err := Insert(context.Background(), sh, "ana", "Acme", StageApply)
	if err != nil || got != Appended {
		t.Fatalf("Insert = %s, %v", got, err)
	}
}

func TestStageColumns(t *testing.T) {
	t.Parallel()

	want := map[Stage]string{StageApply: "C", StageOA: "D", StagePhone: "E", StageInterview: "F", StageFinal: "G", StageOffer: "H", StageRejection: "I"}
	for s, col := range want {
		if s.Column() != col {
			t.Fatalf("Stage(%d).Column() = %s, want %s", int(s), s.Column(), col)
		}
	}
}

type harness struct {
	p     *Plugin
	f     *transporttest.Fake
	sh    *memSheet
	sched *scheduler.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	f := transporttest.New()
	sh := newMemSheet("Acme")
	p := New()
	p.newSheet = func(ctx context.Context, id, creds string) (Sheet, error) { return sh, nil }
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := p.Init(ctx, plugin.Deps{Logger: logx.Nop(), Messenger: f, Services: &plugin.Services{Scheduler: sched}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	raw := json.RawMessage(`{"spreadsheet_id":"sheet-1","credentials_file":"creds.json","sudo_channel_id":"555"}`)
	if err := p.OnConfigChange(ctx, raw); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return &harness{p: p, f: f, sh: sh, sched: sched}
}

func (h *harness) request(args ...string) *plugin.Request {
	return &plugin.Request{GuildID: "g1", ChannelID: "cmd", UserID: "u1", UserName: "ana", Args: args, Messenger: h.f, Logger: logx.Nop()}
}

func TestStageCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_ = h.p.cmdStage(ctx, h.request("acme"), StageApply)
	_ = h.p.cmdStage(ctx, h.request("Acme"), StageOA)
	_ = h.p.cmdStage(ctx, h.request("Initech"), StageApply)
	_ = h.p.cmdStage(ctx, h.request(), StageApply)

	want := []string{
		"ana has applied to Acme successfully. ✅",
		"ana has received an Online Assessment from Acme. ✅",
		"**Initech** is not registered, try to request to add this company first. 📋",
		"Error: Missing parameter. ⚙️",
	}
	got := h.f.Texts()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("replies = %q", got)
	}
}

func (h *harness) submit(t *testing.T, company string) string {
	t.Helper()
	if err := h.p.cmdAdd(context.Background(), h.request(company)); err != nil {
		t.Fatalf("cmdAdd: %v", err)
	}
	for _, s := range h.f.Sent() {
		if s.ChannelID == "555" && len(s.Msg.Buttons) == 2 && strings.Contains(s.Msg.Content, company) {
			_, id, _ := strings.Cut(strings.TrimPrefix(s.Msg.Buttons[0].CustomID, "tracker:"), ":")
			return id
		}
	}
	t.Fatalf("no approval prompt for %s: %+v", company, h.f.Sent())
	return ""
}

func TestAddKnownCompany(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.p.cmdAdd(context.Background(), h.request("ACME")); err != nil {
		t.Fatalf("cmdAdd: %v", err)
	}
	if texts := h.f.Texts(); len(texts) != 1 || texts[0] != "**ACME** has been added before, please check our companies list. 📋" {
		t.Fatalf("replies = %q", texts)
	}
}

func TestApprovalAccept(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "Initech")
	if !h.sched.Has("tracker:expire:" + id) {
		t.Fatalf("expiry not scheduled")
	}
	if got := h.f.Texts(); got[len(got)-1] != "Request for approval has been submitted to include **Initech**. ⌛" {
		t.Fatalf("replies = %q", got)
	}

	mod := &plugin.Request{GuildID: "g1", ChannelID: "555", UserID: "mod", Messenger: h.f, Logger: logx.Nop()}
	if err := h.p.onAccept(ctx, mod, id); err != nil {
		t.Fatalf("onAccept: %v", err)
	}
	if companies, _ := h.sh.Companies(ctx); len(companies) != 2 || companies[1] != "Initech" {
		t.Fatalf("companies = %v", companies)
	}
	if h.sched.Has("tracker:expire:" + id) {
		t.Fatalf("expiry still scheduled")
	}
	edits := h.f.Edits()
	if len(edits) != 1 || !edits[0].Msg.Buttons[0].Disabled || !edits[0].Msg.Buttons[1].Disabled {
		t.Fatalf("edits = %+v", edits)
	}
	dms := h.f.DMs()
	if len(dms) != 1 || dms[0].UserID != "u1" || dms[0].Msg.Content != "ana, your request to include Initech has been approved ✅" {
		t.Fatalf("dms = %+v", dms)
	}
	texts := h.f.Texts()
	if !contains(texts, "Company accepted successfully! ✅") || !contains(texts, "New company!, Initech has been added to our companies portfolio. 🤩") {
		t.Fatalf("replies = %q", texts)
	}

	// A second click finds nothing pending.
	if err := h.p.onDecline(ctx, mod, id); err != nil {
		t.Fatalf("onDecline: %v", err)
	}
	if texts := h.f.Texts(); texts[len(texts)-1] != "This request is no longer pending. ⌛" {
		t.Fatalf("replies = %q", texts)
	}
}

func TestApprovalDecline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "Initech")
	mod := &plugin.Request{GuildID: "g1", ChannelID: "555", UserID: "mod", Messenger: h.f, Logger: logx.Nop()}
	if err := h.p.onDecline(ctx, mod, id); err != nil {
		t.Fatalf("onDecline: %v", err)
	}
	if companies, _ := h.sh.Companies(ctx); len(companies) != 1 {
		t.Fatalf("companies = %v", companies)
	}
	texts := h.f.Texts()
	if !contains(texts, "Company declined successfully! ❌") || !contains(texts, "Request to include Initech in our portfolio has been rejected. ❌") {
		t.Fatalf("replies = %q", texts)
	}
	if dms := h.f.DMs(); len(dms) != 1 || dms[0].Msg.Content != "Sorry, your request to include Initech has been rejected. ❌" {
		t.Fatalf("dms = %+v", dms)
	}
}

func TestApprovalExpires(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t, "Initech")
	again := h.submit(t, "Initech")
	if again != id {
		t.Fatalf("duplicate request created a second prompt")
	}
	if err := h.p.expire(ctx, id); err != nil {
		t.Fatalf("expire: %v", err)
	}
	texts := h.f.Texts()
	if !contains(texts, "This request has expired! ⌛") {
		t.Fatalf("replies = %q", texts)
	}
	if len(h.f.Edits()) != 1 {
		t.Fatalf("buttons not disabled")
	}
	mod := &plugin.Request{GuildID: "g1", ChannelID: "555", UserID: "mod", Messenger: h.f, Logger: logx.Nop()}
	_ = h.p.onAccept(ctx, mod, id)
	if companies, _ := h.sh.Companies(ctx); len(companies) != 1 {
		t.Fatalf("expired request was accepted: %v", companies)
	}
}

func TestConfigNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		ttl     time.Duration
	}{
		{name: "defaults", cfg: Config{SpreadsheetID: "s", CredentialsFile: "c", SudoChannelID: "555"}, ttl: defaultApprovalTTL},
		{name: "custom ttl", cfg: Config{SpreadsheetID: "s", CredentialsFile: "c", SudoChannelID: "555", ApprovalTTL: "30m"}, ttl: 30 * time.Minute},
		{name: "no sheet", cfg: Config{CredentialsFile: "c", SudoChannelID: "555"}, wantErr: true},
		{name: "no creds", cfg: Config{SpreadsheetID: "s", SudoChannelID: "555"}, wantErr: true},
		{name: "bad channel", cfg: Config{SpreadsheetID: "s", CredentialsFile: "c", SudoChannelID: "sudo"}, wantErr: true},
		{name: "bad ttl", cfg: Config{SpreadsheetID: "s", CredentialsFile: "c", SudoChannelID: "555", ApprovalTTL: "-1h"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := tt.cfg.normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalize err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.approvalTTL != tt.ttl {
				t.Fatalf("ttl = %s, want %s", s.approvalTTL, tt.ttl)
			}
		})
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
