package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"otterbot/internal/plugin"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

const (
	actionAccept  = "accept"
	actionDecline = "decline"
)

type approval struct {
	ID            string
	Company       string
	RequesterID   string
	RequesterName string
	ChannelID     string // where the request was made
	Prompt        transport.MessageRef
	Expires       time.Time
}

// approvals holds requests awaiting a moderator decision. Each request is
// resolved at most once: by accept, decline or expiry.
type approvals struct {
	mu      sync.Mutex
	pending map[string]approval
}

func newApprovals() *approvals {
	return &approvals{pending: map[string]approval{}}
}

func (a *approvals) add(ap approval) {
	a.mu.Lock()
	a.pending[ap.ID] = ap
	a.mu.Unlock()
}

// take removes and returns the request so only one resolver wins.
func (a *approvals) take(id string) (approval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ap, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	return ap, ok
}

func (a *approvals) hasCompany(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ap := range a.pending {
		if ap.Company == name {
			return true
		}
	}
	return false
}

func (a *approvals) clear() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.pending)
	a.pending = map[string]approval{}
	return n
}

func promptButtons(pluginName, id string, disabled bool) []transport.Button {
	return []transport.Button{
		{Label: "Accept", CustomID: pluginName + ":" + actionAccept + ":" + id, Style: transport.ButtonSuccess, Disabled: disabled},
		{Label: "Decline", CustomID: pluginName + ":" + actionDecline + ":" + id, Style: transport.ButtonDanger, Disabled: disabled},
	}
}

func promptText(company string) string {
	return fmt.Sprintf("Incoming pending approval to include **%s** in our companies portfolio. ⌛", company)
}

func (p *Plugin) cmdAdd(ctx context.Context, req *plugin.Request) error {
	company := companyArg(req)
	if company == "" {
		return req.Reply(ctx, "Error: Missing parameter. ⚙️")
	}
	sh := p.currentSheet()
	if sh == nil {
		return errors.New("tracker: sheet not configured")
	}
	companies, err := sh.Companies(ctx)
	if err != nil {
		return err
	}
	if _, ok := findCompany(companies, company); ok {
		return req.Reply(ctx, fmt.Sprintf("**%s** has been added before, please check our companies list. 📋", company))
	}
	if p.approvals.hasCompany(company) {
		return req.Reply(ctx, fmt.Sprintf("A request to include **%s** is already waiting for approval. ⌛", company))
	}

	s := p.settings()
	id := uuid.NewString()
	ref, err := p.Deps.Messenger.Send(ctx, s.sudoChannelID, transport.OutMessage{
		Content: promptText(company),
		Buttons: promptButtons(p.Name(), id, false),
	})
	if err != nil {
		return fmt.Errorf("post approval prompt: %w", err)
	}
	ap := approval{
		ID:            id,
		Company:       company,
		RequesterID:   req.UserID,
		RequesterName: req.UserName,
		ChannelID:     req.ChannelID,
		Prompt:        ref,
		Expires:       p.now().Add(s.approvalTTL),
	}
	p.approvals.add(ap)
	if err := p.Schedules.At("expire:"+id, ap.Expires).Do(func(ctx context.Context) error {
		return p.expire(ctx, id)
	}); err != nil {
		p.Log.Warn("approval expiry not scheduled", logx.String("id", id), logx.Err(err))
	}
	p.Audit(ctx, req, "add request", company, 0, nil)
	return req.Reply(ctx, fmt.Sprintf("Request for approval has been submitted to include **%s**. ⌛", company))
}

// disablePrompt greys out the buttons once a request is resolved.
func (p *Plugin) disablePrompt(ctx context.Context, ap approval) {
	err := p.Deps.Messenger.Edit(ctx, ap.Prompt, transport.OutMessage{
		Content: promptText(ap.Company),
		Buttons: promptButtons(p.Name(), ap.ID, true),
	})
	if err != nil {
		p.Log.Warn("disable approval buttons failed", logx.String("id", ap.ID), logx.Err(err))
	}
}

func (p *Plugin) resolve(ctx context.Context, req *plugin.Request, id string) (approval, bool, error) {
	ap, ok := p.approvals.take(id)
	if !ok {
		return ap, false, req.Reply(ctx, "This request is no longer pending. ⌛")
	}
	p.Schedules.Remove("expire:" + id)
	p.disablePrompt(ctx, ap)
	return ap, true, nil
}

func (p *Plugin) onAccept(ctx context.Context, req *plugin.Request, id string) error {
	ap, ok, err := p.resolve(ctx, req, id)
	if !ok {
		return err
	}
	sh := p.currentSheet()
	if sh == nil {
		return errors.New("tracker: sheet not configured")
	}
	p.writeMu.Lock()
	err = sh.AddCompany(ctx, ap.Company)
	p.writeMu.Unlock()
	p.Audit(ctx, req, "accept", ap.Company, 0, err)
	if err != nil {
		return fmt.Errorf("add company %q: %w", ap.Company, err)
	}
	if err := req.Reply(ctx, "Company accepted successfully! ✅"); err != nil {
		p.Log.Warn("approval reply failed", logx.Err(err))
	}
	p.notify(ctx, ap,
		fmt.Sprintf("New company!, %s has been added to our companies portfolio. 🤩", ap.Company),
		fmt.Sprintf("%s, your request to include %s has been approved ✅", ap.RequesterName, ap.Company))
	return nil
}

func (p *Plugin) onDecline(ctx context.Context, req *plugin.Request, id string) error {
	ap, ok, err := p.resolve(ctx, req, id)
	if !ok {
		return err
	}
	p.Audit(ctx, req, "decline", ap.Company, 0, nil)
	if err := req.Reply(ctx, "Company declined successfully! ❌"); err != nil {
		p.Log.Warn("approval reply failed", logx.Err(err))
	}
	p.notify(ctx, ap,
		fmt.Sprintf("Request to include %s in our portfolio has been rejected. ❌", ap.Company),
		fmt.Sprintf("Sorry, your request to include %s has been rejected. ❌", ap.Company))
	return nil
}

func (p *Plugin) expire(ctx context.Context, id string) error {
	ap, ok := p.approvals.take(id)
	if !ok {
		return nil
	}
	if _, err := p.Deps.Messenger.SendText(ctx, ap.Prompt.ChannelID, "This request has expired! ⌛"); err != nil {
		p.Log.Warn("expiry notice failed", logx.String("id", id), logx.Err(err))
	}
	p.disablePrompt(ctx, ap)
	p.Log.Info("approval expired", logx.String("company", ap.Company))
	return nil
}

// notify tells the requesting channel and the requester. DMs may be closed.
func (p *Plugin) notify(ctx context.Context, ap approval, channelText, dmText string) {
	if _, err := p.Deps.Messenger.SendText(ctx, ap.ChannelID, channelText); err != nil {
		p.Log.Warn("approval notice failed", logx.String("channel_id", ap.ChannelID), logx.Err(err))
	}
	if err := p.Deps.Messenger.SendDM(ctx, ap.RequesterID, transport.OutMessage{Content: dmText}); err != nil {
		p.Log.Debug("approval DM failed", logx.String("user_id", ap.RequesterID), logx.Err(err))
	}
}
