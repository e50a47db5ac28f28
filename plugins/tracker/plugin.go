// Package tracker records job application progress in a shared
// spreadsheet and gates new companies behind moderator approval.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	logx "otterbot/pkg/logx"
)

const defaultApprovalTTL = 10 * time.Hour

type Config struct {
	SpreadsheetID   string          `json:"spreadsheet_id"`
	CredentialsFile string          `json:"credentials_file"`
	SudoChannelID   string          `json:"sudo_channel_id"`
	ApprovalTTL     string          `json:"approval_ttl,omitempty"`
	Timeouts        plugin.Timeouts `json:"timeouts,omitempty"`
}

type settings struct {
	spreadsheetID   string
	credentialsFile string
	sudoChannelID   string
	approvalTTL     time.Duration
	opTimeout       time.Duration
}

func (c Config) normalize() (settings, error) {
	s := settings{
		spreadsheetID:   strings.TrimSpace(c.SpreadsheetID),
		credentialsFile: strings.TrimSpace(c.CredentialsFile),
		sudoChannelID:   strings.TrimSpace(c.SudoChannelID),
		approvalTTL:     defaultApprovalTTL,
		opTimeout:       c.Timeouts.OperationTimeout(20 * time.Second),
	}
	if s.spreadsheetID == "" {
		return s, errors.New("tracker: spreadsheet_id is required")
	}
	if s.credentialsFile == "" {
		return s, errors.New("tracker: credentials_file is required")
	}
	if !kit.IsSnowflake(s.sudoChannelID) {
		return s, fmt.Errorf("tracker: sudo_channel_id %q is not a channel id", c.SudoChannelID)
	}
	if v := strings.TrimSpace(c.ApprovalTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("tracker: approval_ttl %q: must be a positive duration", v)
		}
		s.approvalTTL = d
	}
	return s, nil
}

type Plugin struct {
	plugin.PluginBase

	mu    sync.RWMutex
	cfg   settings
	sheet Sheet

	// writeMu serialises read-modify-write cycles on the sheet.
	writeMu sync.Mutex

	approvals *approvals

	newSheet func(ctx context.Context, spreadsheetID, credentialsFile string) (Sheet, error)
	now      func() time.Time
}

func New() *Plugin {
	return &Plugin{
		cfg:       settings{approvalTTL: defaultApprovalTTL, opTimeout: 20 * time.Second},
		approvals: newApprovals(),
		newSheet:  NewGoogleSheet,
		now:       time.Now,
	}
}

func (p *Plugin) Name() string { return "tracker" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Messenger == nil {
		return errors.New("tracker: messenger is required")
	}
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	_, err = c.normalize()
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	s, err := c.normalize()
	if err != nil {
		return err
	}
	p.mu.RLock()
	old, sheet := p.cfg, p.sheet
	p.mu.RUnlock()
	if sheet == nil || old.spreadsheetID != s.spreadsheetID || old.credentialsFile != s.credentialsFile {
		sheet, err = p.newSheet(ctx, s.spreadsheetID, s.credentialsFile)
		if err != nil {
			return fmt.Errorf("tracker: %w", err)
		}
	}
	p.mu.Lock()
	p.cfg = s
	p.sheet = sheet
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if p.currentSheet() == nil {
		return errors.New("tracker: not configured")
	}
	return nil
}

// Stop drops pending approvals; their buttons answer as expired afterwards.
func (p *Plugin) Stop(ctx context.Context) error {
	if n := p.approvals.clear(); n > 0 {
		p.Log.Info("pending approvals dropped", logx.Int("count", n))
	}
	return p.StopBase(ctx)
}

func (p *Plugin) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) currentSheet() Sheet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sheet
}

// Health reports whether the spreadsheet answers.
func (p *Plugin) Health(ctx context.Context) (string, error) {
	sh := p.currentSheet()
	if sh == nil {
		return "not_configured", nil
	}
	if _, err := sh.Companies(ctx); err != nil {
		return "sheet_unreachable", err
	}
	return "ok", nil
}

var stageRoutes = []struct {
	word  string
	alias string
	stage Stage
	desc  string
}{
	{"apply", "apply", StageApply, "record an application"},
	{"oa", "online_assessment", StageOA, "record an online assessment"},
	{"phone", "phone", StagePhone, "record a phone interview"},
	{"interview", "interview", StageInterview, "record an interview"},
	{"final", "final_round", StageFinal, "record a final round interview"},
	{"offer", "offer", StageOffer, "record an offer"},
	{"rejection", "rejection", StageRejection, "record a rejection"},
}

func (p *Plugin) Commands() []plugin.Command {
	cmds := make([]plugin.Command, 0, len(stageRoutes)+2)
	for _, r := range stageRoutes {
		stage := r.stage
		cmds = append(cmds, plugin.Command{
			Route:       "tracker " + r.word,
			Aliases:     []string{r.alias},
			Description: r.desc,
			Usage:       "tracker " + r.word + " <company>",
			GuildOnly:   true,
			Handle: func(ctx context.Context, req *plugin.Request) error {
				return p.cmdStage(ctx, req, stage)
			},
		})
	}
	cmds = append(cmds,
		plugin.Command{
			Route:       "tracker add",
			Description: "ask moderators to allow a new company",
			Usage:       "tracker add <company>",
			GuildOnly:   true,
			Handle:      p.cmdAdd,
		},
		plugin.Command{
			Route:       "tracker companies",
			Description: "list the allowed companies",
			Usage:       "tracker companies",
			Handle:      p.cmdCompanies,
		},
	)
	return cmds
}

func (p *Plugin) Components() []plugin.ComponentRoute {
	return []plugin.ComponentRoute{
		{Action: actionAccept, Description: "approve a company request", Access: plugin.AccessModerator, Handle: p.onAccept},
		{Action: actionDecline, Description: "decline a company request", Access: plugin.AccessModerator, Handle: p.onDecline},
	}
}

// findCompany returns the allowed spelling of name, matched case-insensitively.
func findCompany(companies []string, name string) (string, bool) {
	for _, c := range companies {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

func companyArg(req *plugin.Request) string {
	return strings.TrimSpace(strings.Join(req.Args, " "))
}

func (p *Plugin) cmdStage(ctx context.Context, req *plugin.Request, stage Stage) error {
	company := companyArg(req)
	if company == "" {
		return req.Reply(ctx, "Error: Missing parameter. ⚙️")
	}
	sh := p.currentSheet()
	if sh == nil {
		return errors.New("tracker: sheet not configured")
	}
	octx, cancel := context.WithTimeout(ctx, p.settings().opTimeout)
	defer cancel()

	companies, err := sh.Companies(octx)
	if err != nil {
		return err
	}
	name, ok := findCompany(companies, company)
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("**%s** is not registered, try to request to add this company first. 📋", company))
	}

	p.writeMu.Lock()
	res, err := Insert(octx, sh, req.UserName, name, stage)
	p.writeMu.Unlock()
	if err != nil {
		return err
	}
	req.Logger.Info("tracker insert", logx.String("company", name), logx.String("stage", stage.Column()), logx.String("result", res.String()))
	return req.Reply(ctx, resultMessage(req.UserName, name, stage, res))
}

func (p *Plugin) cmdCompanies(ctx context.Context, req *plugin.Request) error {
	sh := p.currentSheet()
	if sh == nil {
		return errors.New("tracker: sheet not configured")
	}
	companies, err := sh.Companies(ctx)
	if err != nil {
		return err
	}
	if len(companies) == 0 {
		return req.Reply(ctx, "No companies registered yet. 📋")
	}
	return req.Reply(ctx, "**Allowed companies** 📋\n"+strings.Join(companies, ", "))
}
