package router

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"otterbot/internal/config"
	"otterbot/internal/transport"
)

// MemberRoleNames resolves the names of a member's roles.
func MemberRoleNames(ctx context.Context, m transport.Messenger, guildID, userID string) ([]string, error) {
	member, err := m.GuildMember(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", userID, err)
	}
	roles, err := m.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("roles of %s: %w", guildID, err)
	}
	return RoleNames(member.RoleIDs, roles), nil
}

// RoleNames maps role ids onto names using the guild role list.
func RoleNames(ids []string, roles []transport.Role) []string {
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// HasAnyRole compares names case-insensitively.
func HasAnyRole(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(w)) {
				return true
			}
		}
	}
	return false
}

// Allowed decides whether a user in a guild may run something gated by a.
func Allowed(ctx context.Context, m transport.Messenger, cfg *config.Config, a Access, guildID, userID string) (bool, error) {
	if a == AccessEveryone {
		return true, nil
	}
	if cfg != nil && slices.Contains(cfg.Discord.AdminUserIDs, userID) {
		return true, nil
	}
	if guildID == "" || cfg == nil {
		return false, nil
	}
	names, err := MemberRoleNames(ctx, m, guildID, userID)
	if err != nil {
		return false, err
	}
	switch a {
	case AccessAdmin:
		return HasAnyRole(names, cfg.Roles.Admins), nil
	case AccessModerator:
		return HasAnyRole(names, cfg.Roles.Collaborators) || HasAnyRole(names, cfg.Roles.Admins), nil
	}
	return false, nil
}
