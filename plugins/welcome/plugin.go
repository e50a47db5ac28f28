// Package welcome keeps the guild registry in step with gateway events,
// greets new members and hands out the member role from a reaction message.
package welcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"otterbot/internal/eventbus"
	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

const defaultGreeting = "Welcome to Proyecto Nutria"

type Config struct {
	Greeting string `json:"greeting,omitempty"`
	// DisableDM turns off the greeting DM; the registry and reaction roles
	// keep working.
	DisableDM bool `json:"disable_dm,omitempty"`
}

type Plugin struct {
	plugin.PluginBase

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

func New() *Plugin {
	return &Plugin{cfg: Config{Greeting: defaultGreeting}, now: time.Now}
}

func (p *Plugin) Name() string { return "welcome" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("welcome: storage is required")
	}
	if deps.Messenger == nil {
		return errors.New("welcome: messenger is required")
	}
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := plugin.DecodePluginConfig[Config](raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Greeting) == "" {
		c.Greeting = defaultGreeting
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) Events() []plugin.EventHandler {
	return []plugin.EventHandler{
		{Kind: transport.UpdateReady, Name: "register_guilds", Timeout: 30 * time.Second, Handle: p.onReady},
		{Kind: transport.UpdateGuildJoined, Name: "guild_joined", Handle: p.onGuildJoined},
		{Kind: transport.UpdateGuildRemoved, Name: "guild_removed", Handle: p.onGuildRemoved},
		{Kind: transport.UpdateMemberJoined, Name: "greet", Handle: p.onMemberJoined},
		{Kind: transport.UpdateReactionAdded, Name: "reaction_role", Handle: p.onReactionAdded},
	}
}

// onReady registers every guild the bot is in that the registry lacks.
func (p *Plugin) onReady(ctx context.Context, up transport.Update) error {
	if up.Ready == nil {
		return nil
	}
	known, err := p.Deps.Store.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}
	have := make(map[string]bool, len(known))
	for _, g := range known {
		have[g.GuildID] = true
	}
	added := 0
	for _, id := range up.Ready.GuildIDs {
		if have[id] {
			continue
		}
		if err := p.Deps.Store.PutGuild(ctx, storage.Guild{GuildID: id, JoinedAt: p.now()}); err != nil {
			p.Log.Warn("register guild failed", logx.String("guild_id", id), logx.Err(err))
			continue
		}
		added++
	}
	p.Log.Info("guild registry ready", logx.Int("guilds", len(up.Ready.GuildIDs)), logx.Int("added", added))
	return nil
}

func (p *Plugin) onGuildJoined(ctx context.Context, up transport.Update) error {
	g := up.Guild
	if g == nil || g.Unavailable {
		return nil
	}
	known, err := p.Deps.Store.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}
	for _, k := range known {
		if k.GuildID == g.ID {
			return nil
		}
	}
	if err := p.Deps.Store.PutGuild(ctx, storage.Guild{GuildID: g.ID, Name: g.Name, JoinedAt: p.now()}); err != nil {
		return fmt.Errorf("register guild %s: %w", g.ID, err)
	}
	p.PublishEvent(eventbus.TypeGuildJoined, *g)
	p.Log.Info("joined guild", logx.String("guild_id", g.ID), logx.String("name", g.Name))
	return nil
}

// onGuildRemoved forgets a guild the bot left. Outages also arrive as
// removals and are ignored.
func (p *Plugin) onGuildRemoved(ctx context.Context, up transport.Update) error {
	g := up.Guild
	if g == nil || g.Unavailable {
		return nil
	}
	deleted, err := p.Deps.Store.DeleteGuild(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("remove guild %s: %w", g.ID, err)
	}
	if deleted {
		p.PublishEvent(eventbus.TypeGuildRemoved, *g)
		p.Log.Info("left guild", logx.String("guild_id", g.ID))
	}
	return nil
}

func (p *Plugin) onMemberJoined(ctx context.Context, up transport.Update) error {
	m := up.Member
	if m == nil || m.User.Bot {
		return nil
	}
	cfg := p.config()
	if cfg.DisableDM {
		return nil
	}
	err := p.Deps.Messenger.SendDM(ctx, m.User.ID, transport.OutMessage{Content: cfg.Greeting})
	if errors.Is(err, transport.ErrPermissionDenied) {
		p.Log.Debug("member does not accept DMs", logx.String("user_id", m.User.ID))
		return nil
	}
	return err
}

// onReactionAdded grants the member role to whoever reacts to the guild's
// welcome message.
func (p *Plugin) onReactionAdded(ctx context.Context, up transport.Update) error {
	r := up.Reaction
	if r == nil || r.GuildID == "" {
		return nil
	}
	if r.Member != nil && r.Member.User.Bot {
		return nil
	}
	wc, err := storage.LoadSetting[storage.WelcomeConfig](ctx, p.Deps.Store, storage.KindWelcome, r.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if wc.MessageID != r.MessageID {
		return nil
	}
	roleID, err := p.memberRole(ctx, r.GuildID, wc.RoleID)
	if err != nil {
		return err
	}
	if roleID == "" {
		p.Log.Warn("member role not found", logx.String("guild_id", r.GuildID), logx.String("role", p.Roles().Member))
		return nil
	}
	if r.Member != nil {
		for _, have := range r.Member.RoleIDs {
			if have == roleID {
				return nil
			}
		}
	}
	if err := p.Deps.Messenger.AddMemberRole(ctx, r.GuildID, r.UserID, roleID); err != nil {
		return fmt.Errorf("grant member role: %w", err)
	}
	p.Log.Info("member role granted", logx.String("guild_id", r.GuildID), logx.String("user_id", r.UserID))
	return nil
}

// memberRole prefers an explicit role id, then the configured member role name.
func (p *Plugin) memberRole(ctx context.Context, guildID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	roles, err := p.Deps.Messenger.GuildRoles(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("guild roles: %w", err)
	}
	name := p.Roles().Member
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r.ID, nil
		}
	}
	return "", nil
}

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "welcome set",
			Description: "grant the member role to whoever reacts to a message",
			Usage:       "welcome set <message_id> [@role]",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdSet,
		},
		{
			Route:       "welcome clear",
			Description: "stop granting roles from reactions",
			Usage:       "welcome clear",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdClear,
		},
	}
}

func (p *Plugin) cmdSet(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	msgID := strings.TrimSpace(req.Arg(0))
	if !kit.IsSnowflake(msgID) {
		return req.Reply(ctx, "Usage: welcome set <message_id> [@role]")
	}
	wc := storage.WelcomeConfig{GuildID: req.GuildID, MessageID: msgID}
	if a := req.Arg(1); a != "" {
		roleID, ok := kit.RoleID(a)
		if !ok {
			return req.Reply(ctx, "The role must be a role mention or id.")
		}
		wc.RoleID = roleID
	}
	err := storage.SaveSetting(ctx, p.Deps.Store, storage.KindWelcome, req.GuildID, wc)
	p.Audit(ctx, req, "set", msgID, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save welcome config: %w", err)
	}
	return req.Reply(ctx, "**Welcome message** set! Reacting to it grants the member role.")
}

func (p *Plugin) cmdClear(ctx context.Context, req *plugin.Request) error {
	deleted, err := p.Deps.Store.DeleteSetting(ctx, storage.KindWelcome, req.GuildID)
	p.Audit(ctx, req, "clear", "", 0, err)
	if err != nil {
		return fmt.Errorf("delete welcome config: %w", err)
	}
	if !deleted {
		return req.Reply(ctx, "No config set! 😱")
	}
	return req.Reply(ctx, "**Welcome message** cleared!")
}
