package interviewmatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"otterbot/internal/plugin"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "interview_match start",
			Description: "start the weekly interview match activity",
			Usage:       "interview_match start <#channel> [day_of_week]",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStart,
		},
		{
			Route:       "interview_match stop",
			Description: "stop the weekly interview match activity",
			Usage:       "interview_match stop",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStop,
		},
		{
			Route:       "interview_match status",
			Description: "show this server's activity setup",
			Usage:       "interview_match status",
			Access:      plugin.AccessModerator,
			GuildOnly:   true,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "interview_match run send",
			Description: "post the weekly message now",
			Usage:       "interview_match run send",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdRunSend,
		},
		{
			Route:       "interview_match run check",
			Description: "pair the reactions of the weekly message now",
			Usage:       "interview_match run check",
			Access:      plugin.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.cmdRunCheck,
		},
	}
}

func (p *Plugin) cmdStart(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	channelID, ok := kit.ChannelID(req.Arg(0))
	if !ok {
		return req.Reply(ctx, "Usage: interview_match start <#channel> [day_of_week]")
	}
	s := p.settings()
	day := s.defaultDay
	if a := req.Arg(1); a != "" {
		n, err := strconv.Atoi(a)
		if err != nil {
			return req.Reply(ctx, "day_of_week must be a number, 0 (Monday) to 6 (Sunday).")
		}
		day = ((n % 7) + 7) % 7
	}

	emoji, ok, err := p.awaitEmoji(ctx, req, s.defaultEmoji)
	if err != nil || !ok {
		return err
	}

	err = p.orch.SaveConfig(ctx, storage.ActivityConfig{
		GuildID:   req.GuildID,
		ChannelID: channelID,
		AuthorID:  req.UserID,
		DayOfWeek: day,
		Emoji:     emoji,
	})
	p.Audit(ctx, req, "start", channelID, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return req.Reply(ctx, fmt.Sprintf(scheduledMessage, emoji))
}

// awaitEmoji asks the invoker to pick an emoji by reacting to a prompt.
// ok is false when the command must stop.
func (p *Plugin) awaitEmoji(ctx context.Context, req *plugin.Request, def string) (emoji string, ok bool, err error) {
	ref, err := req.Send(ctx, transport.OutMessage{Content: fmt.Sprintf(emojiPromptMessage, def)})
	if err != nil {
		return "", false, fmt.Errorf("emoji prompt: %w", err)
	}
	if p.Deps.Services == nil || p.Deps.Services.Waiters == nil {
		return def, true, nil
	}

	wctx, cancel := context.WithTimeout(ctx, p.confirmWait)
	defer cancel()
	r, err := p.Deps.Services.Waiters.Await(wctx, ref.MessageID, req.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		req.Logger.Info("no emoji reaction, using default", logx.String("emoji", def))
		return def, true, nil
	}
	if r.IsCustom() {
		return "", false, req.Reply(ctx, customEmojiMessage)
	}
	return r.EmojiName, true, nil
}

func (p *Plugin) cmdStop(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	deleted, err := p.orch.StopGuild(ctx, req.GuildID)
	p.Audit(ctx, req, "stop", "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if !deleted {
		return req.Reply(ctx, notRunningMessage)
	}
	return req.Reply(ctx, stoppedMessage)
}

func (p *Plugin) guildActivity(ctx context.Context, req *plugin.Request) (storage.ActivityConfig, bool, error) {
	cfg, err := p.Deps.Store.GetActivity(ctx, req.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		return cfg, false, req.Reply(ctx, notRunningMessage)
	}
	if err != nil {
		return cfg, false, fmt.Errorf("load activity: %w", err)
	}
	return cfg, true, nil
}

func (p *Plugin) cmdRunSend(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	cfg, ok, err := p.guildActivity(ctx, req)
	if !ok {
		return err
	}
	err = p.orch.AnnounceGuild(ctx, cfg)
	p.Audit(ctx, req, "run send", cfg.ChannelID, time.Since(start), err)
	return err
}

func (p *Plugin) cmdRunCheck(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	cfg, ok, err := p.guildActivity(ctx, req)
	if !ok {
		return err
	}
	err = p.orch.CheckGuild(ctx, cfg)
	p.Audit(ctx, req, "run check", cfg.ChannelID, time.Since(start), err)
	return err
}

func (p *Plugin) cmdStatus(ctx context.Context, req *plugin.Request) error {
	cfg, ok, err := p.guildActivity(ctx, req)
	if !ok {
		return err
	}
	s := p.settings()
	pending := "none"
	if cfg.MessageID != "" {
		pending = cfg.MessageID
	}
	next := nextAnnounce(p.now().In(p.Location()), cfg.Weekday(), s.hour)
	lines := []string{
		"**Interview Match**",
		"Channel: <#" + cfg.ChannelID + ">",
		"Day: " + cfg.Weekday().String(),
		"Emoji: " + cfg.Emoji,
		"Pending message: " + pending,
		"Next announce: " + humanize.Time(next) + " (" + next.Format("Mon Jan 2 15:04 MST") + ")",
		"Reset policy: " + string(s.resetPolicy),
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// nextAnnounce is the first weekday at hour:00 strictly after now.
func nextAnnounce(now time.Time, weekday time.Weekday, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	for t.Weekday() != weekday || !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
