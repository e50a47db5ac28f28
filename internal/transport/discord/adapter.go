package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "otterbot/internal/runtime/supervisor"
	kit "otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter bridges a discordgo session onto the transport interfaces.
type Adapter struct {
	cfg Config
	log logx.Logger

	s   *discordgo.Session
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	removes []func()

	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, s: s}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) registerHandlers() {
	add := func(h interface{}) { a.removes = append(a.removes, a.s.AddHandler(h)) }

	add(func(_ *discordgo.Session, r *discordgo.Ready) {
		ids := make([]string, 0, len(r.Guilds))
		for _, g := range r.Guilds {
			ids = append(ids, g.ID)
		}
		userID := ""
		if r.User != nil {
			userID = r.User.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateReady, Ready: &kit.Ready{UserID: userID, GuildIDs: ids}})
	})
	add(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			ID:         m.ID,
			ChannelID:  m.ChannelID,
			GuildID:    m.GuildID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			AuthorBot:  m.Author.Bot,
			Text:       m.Content,
		}})
	})
	add(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
			return
		}
		c := &kit.Component{
			InteractionID: i.ID,
			Token:         i.Token,
			AppID:         i.AppID,
			CustomID:      i.MessageComponentData().CustomID,
			GuildID:       i.GuildID,
			ChannelID:     i.ChannelID,
		}
		if i.Message != nil {
			c.MessageID = i.Message.ID
		}
		switch {
		case i.Member != nil && i.Member.User != nil:
			c.UserID = i.Member.User.ID
		case i.User != nil:
			c.UserID = i.User.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateComponent, Component: c})
	})
	add(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.MessageReaction == nil {
			return
		}
		re := &kit.Reaction{
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			EmojiName: r.Emoji.Name,
			EmojiID:   r.Emoji.ID,
		}
		if r.Member != nil {
			m := toMember(r.GuildID, r.Member)
			re.Member = &m
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateReactionAdded, Reaction: re})
	})
	add(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.Member == nil || m.User == nil {
			return
		}
		mm := toMember(m.GuildID, m.Member)
		a.sendUpdate(kit.Update{Kind: kit.UpdateMemberJoined, Member: &mm})
	})
	add(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Guild == nil {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateGuildJoined, Guild: &kit.Guild{ID: g.ID, Name: g.Name}})
	})
	add(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Guild == nil {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateGuildRemoved, Guild: &kit.Guild{ID: g.ID, Name: g.Name, Unavailable: g.Unavailable}})
	})
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	a.registerHandlers()
	if err := a.s.Open(); err != nil {
		for _, rm := range a.removes {
			rm()
		}
		a.removes = nil
		a.runMu.Unlock()
		return fmt.Errorf("discord gateway open: %w", err)
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	a.log.Info("gateway connected")

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.flushDropped(cap(out))
				return
			case <-ticker.C:
				a.flushDropped(cap(out))
			}
		}
	})
	return nil
}

func (a *Adapter) flushDropped(chanCap int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	removes := a.removes
	a.removes = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	for _, rm := range removes {
		rm()
	}
	if err := a.s.Close(); err != nil {
		a.log.Warn("gateway close failed", logx.Err(err))
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Debug("adapter supervisor stopped with error", logx.Err(err))
		}
	}
	a.log.Info("gateway closed")
	return nil
}

// ---- outbound ----

func (a *Adapter) SendText(ctx context.Context, channelID, text string) (kit.MessageRef, error) {
	return a.Send(ctx, channelID, kit.OutMessage{Content: text})
}

func (a *Adapter) Send(ctx context.Context, channelID string, msg kit.OutMessage) (kit.MessageRef, error) {
	data, err := toMessageSend(msg)
	if err != nil {
		return kit.MessageRef{}, err
	}
	m, err := a.s.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, mapErr("send message", err)
	}
	return kit.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) SendDM(ctx context.Context, userID string, msg kit.OutMessage) error {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr("open dm", err)
	}
	_, err = a.Send(ctx, ch.ID, msg)
	return err
}

func (a *Adapter) Edit(ctx context.Context, ref kit.MessageRef, msg kit.OutMessage) error {
	content := msg.Content
	edit := &discordgo.MessageEdit{
		ID:      ref.MessageID,
		Channel: ref.ChannelID,
		Content: &content,
	}
	comps := toComponents(msg.Buttons)
	edit.Components = &comps
	if len(msg.Embeds) > 0 {
		embeds := toEmbeds(msg.Embeds)
		edit.Embeds = &embeds
	}
	if _, err := a.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return mapErr("edit message", err)
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	if err := a.s.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return mapErr("add reaction", err)
	}
	return nil
}

func (a *Adapter) RespondComponent(ctx context.Context, c *kit.Component, text string) error {
	if c == nil {
		return fmt.Errorf("respond component: %w", kit.ErrValidation)
	}
	it := &discordgo.Interaction{ID: c.InteractionID, Token: c.Token, AppID: c.AppID}
	err := a.s.InteractionRespond(it, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr("respond interaction", err)
	}
	return nil
}

// ---- reads ----

func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (*kit.FetchedMessage, error) {
	m, err := a.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr("fetch message", err)
	}
	fm := &kit.FetchedMessage{ID: m.ID, ChannelID: m.ChannelID, GuildID: m.GuildID}
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		fm.Reactions = append(fm.Reactions, kit.ReactionCount{EmojiName: r.Emoji.Name, EmojiID: r.Emoji.ID, Count: r.Count})
	}
	return fm, nil
}

func (a *Adapter) ReactionUsers(ctx context.Context, channelID, messageID, emoji string, limit int, after string) ([]kit.User, error) {
	users, err := a.s.MessageReactions(channelID, messageID, emoji, limit, "", after, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr("reaction users", err)
	}
	out := make([]kit.User, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		out = append(out, kit.User{ID: u.ID, Username: u.Username, Bot: u.Bot})
	}
	return out, nil
}

func (a *Adapter) GuildMember(ctx context.Context, guildID, userID string) (*kit.Member, error) {
	m, err := a.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr("guild member", err)
	}
	mm := toMember(guildID, m)
	return &mm, nil
}

func (a *Adapter) GuildRoles(ctx context.Context, guildID string) ([]kit.Role, error) {
	roles, err := a.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr("guild roles", err)
	}
	out := make([]kit.Role, 0, len(roles))
	for _, r := range roles {
		if r == nil {
			continue
		}
		out = append(out, kit.Role{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (a *Adapter) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := a.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return mapErr("add member role", err)
	}
	return nil
}

// ---- conversions ----

func toMember(guildID string, m *discordgo.Member) kit.Member {
	mm := kit.Member{GuildID: guildID, Nick: m.Nick, RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		mm.User = kit.User{ID: m.User.ID, Username: m.User.Username, Bot: m.User.Bot}
		if mm.Nick == "" && m.User.GlobalName != "" {
			mm.Nick = m.User.GlobalName
		}
	}
	return mm
}

func toMessageSend(msg kit.OutMessage) (*discordgo.MessageSend, error) {
	if strings.TrimSpace(msg.Content) == "" && len(msg.Embeds) == 0 && len(msg.Files) == 0 && len(msg.Buttons) == 0 {
		return nil, fmt.Errorf("empty message: %w", kit.ErrValidation)
	}
	if len(msg.Content) > 2000 {
		return nil, fmt.Errorf("content longer than 2000 characters: %w", kit.ErrValidation)
	}
	data := &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg.Embeds),
		Components: toComponents(msg.Buttons),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			Roles: msg.MentionRoles,
		},
	}
	if msg.MentionEveryone {
		data.AllowedMentions.Parse = append(data.AllowedMentions.Parse, discordgo.AllowedMentionTypeEveryone)
	}
	for _, f := range msg.Files {
		data.Files = append(data.Files, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return data, nil
}

func toEmbeds(in []kit.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{Title: e.Title, URL: e.URL, Description: e.Description, Color: e.Color}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		out = append(out, me)
	}
	return out
}

func toComponents(in []kit.Button) []discordgo.MessageComponent {
	if len(in) == 0 {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, b := range in {
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			CustomID: b.CustomID,
			Style:    toButtonStyle(b.Style),
			Disabled: b.Disabled,
		})
	}
	return []discordgo.MessageComponent{row}
}

func toButtonStyle(s kit.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case kit.ButtonSuccess:
		return discordgo.SuccessButton
	case kit.ButtonDanger:
		return discordgo.DangerButton
	case kit.ButtonSecondary:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}
