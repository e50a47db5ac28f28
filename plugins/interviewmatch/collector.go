package interviewmatch

import (
	"context"
	"errors"
	"fmt"

	"otterbot/internal/router"
	"otterbot/internal/transport"
)

const reactionPageSize = 100

// Collector turns the reactions on a weekly message into a candidate pool.
type Collector struct {
	Messenger transport.Messenger
	// Collaborators are the role names of the mentor tier.
	Collaborators []string
}

// Collect returns every non-bot guild member who reacted to the message
// with emoji, keyed by user id. The emoji is compared byte for byte.
// Users who left the guild are skipped.
func (c *Collector) Collect(ctx context.Context, guildID, channelID, messageID, emoji string) (map[string]Candidate, error) {
	msg, err := c.Messenger.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch weekly message: %w", err)
	}

	var roles []transport.Role
	out := map[string]Candidate{}
	for _, r := range msg.Reactions {
		if r.EmojiID != "" || r.EmojiName != emoji {
			continue
		}
		if roles == nil {
			if roles, err = c.Messenger.GuildRoles(ctx, guildID); err != nil {
				return nil, fmt.Errorf("guild roles: %w", err)
			}
		}
		after := ""
		for {
			page, err := c.Messenger.ReactionUsers(ctx, channelID, messageID, r.APIName(), reactionPageSize, after)
			if err != nil {
				return nil, fmt.Errorf("reaction users: %w", err)
			}
			for _, u := range page {
				if u.Bot {
					continue
				}
				if _, ok := out[u.ID]; ok {
					continue
				}
				cand, err := c.candidate(ctx, guildID, u.ID, roles)
				if errors.Is(err, transport.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				out[u.ID] = cand
			}
			if len(page) < reactionPageSize {
				break
			}
			after = page[len(page)-1].ID
		}
	}
	return out, nil
}

// Resolve looks up one member and classifies it.
func (c *Collector) Resolve(ctx context.Context, guildID, userID string) (Candidate, error) {
	roles, err := c.Messenger.GuildRoles(ctx, guildID)
	if err != nil {
		return Candidate{}, fmt.Errorf("guild roles: %w", err)
	}
	return c.candidate(ctx, guildID, userID, roles)
}

func (c *Collector) candidate(ctx context.Context, guildID, userID string, roles []transport.Role) (Candidate, error) {
	m, err := c.Messenger.GuildMember(ctx, guildID, userID)
	if err != nil {
		return Candidate{}, fmt.Errorf("member %s: %w", userID, err)
	}
	names := router.RoleNames(m.RoleIDs, roles)
	return candidateFromMember(*m, router.HasAnyRole(names, c.Collaborators)), nil
}
