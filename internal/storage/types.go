package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActivityConfig is the weekly interview-match setup of one guild.
// DayOfWeek counts from Monday (0) to Sunday (6).
type ActivityConfig struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	DayOfWeek int
	Emoji     string
	MessageID string
	UpdatedAt time.Time
}

// Weekday converts DayOfWeek to time.Weekday.
func (c ActivityConfig) Weekday() time.Weekday {
	return time.Weekday((c.DayOfWeek%7 + 1) % 7)
}

// DayFromWeekday is the inverse of ActivityConfig.Weekday.
func DayFromWeekday(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// Setting kinds stored through PutSetting.
const (
	KindLeetcode    = "leetcode"
	KindEnglishClub = "english_club"
	KindHiring      = "hiring"
	KindWelcome     = "welcome"
)

type LeetcodeConfig struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

type EnglishClubConfig struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	RoleID    string `json:"role_id,omitempty"`
	Spec      string `json:"spec"`
}

type HiringConfig struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

type WelcomeConfig struct {
	GuildID   string `json:"guild_id"`
	MessageID string `json:"message_id"`
	RoleID    string `json:"role_id,omitempty"`
}

// Guild is an entry of the joined-guild registry.
type Guild struct {
	GuildID  string    `json:"guild_id"`
	Name     string    `json:"name,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	GuildID   string    `json:"guild_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Plugin    string    `json:"plugin"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
