package transport

import (
	"context"
	"strings"
)

// UpdateKind enumerates the platform events the router dispatches.
type UpdateKind string

const (
	UpdateMessage       UpdateKind = "message"
	UpdateComponent     UpdateKind = "component"
	UpdateReady         UpdateKind = "ready"
	UpdateMemberJoined  UpdateKind = "member_joined"
	UpdateReactionAdded UpdateKind = "reaction_added"
	UpdateGuildJoined   UpdateKind = "guild_joined"
	UpdateGuildRemoved  UpdateKind = "guild_removed"
)

// Update is one inbound event. Exactly one payload field is set, matching Kind.
type Update struct {
	Kind      UpdateKind
	Message   *Message
	Component *Component
	Reaction  *Reaction
	Member    *Member
	Guild     *Guild
	Ready     *Ready
}

type Message struct {
	ID         string
	ChannelID  string
	GuildID    string // empty for direct messages
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Text       string
}

func (m *Message) IsDM() bool { return m != nil && m.GuildID == "" }

// Component is a button press on a message the bot sent.
type Component struct {
	InteractionID string
	Token         string
	AppID         string
	CustomID      string
	GuildID       string
	ChannelID     string
	MessageID     string
	UserID        string
}

type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	// EmojiName is the unicode glyph, or the name of a custom emoji.
	EmojiName string
	// EmojiID is set only for custom emojis.
	EmojiID string
	// Member is set for reactions inside a guild.
	Member *Member
}

// IsCustom reports whether the reaction used a guild-specific emoji.
func (r Reaction) IsCustom() bool { return r.EmojiID != "" }

type Guild struct {
	ID          string
	Name        string
	Unavailable bool
}

type Ready struct {
	UserID   string
	GuildIDs []string
}

type User struct {
	ID       string
	Username string
	Bot      bool
}

func (u User) Mention() string { return "<@" + u.ID + ">" }

type Member struct {
	GuildID string
	User    User
	Nick    string
	RoleIDs []string
}

// DisplayName prefers the guild nickname over the account name.
func (m Member) DisplayName() string {
	if strings.TrimSpace(m.Nick) != "" {
		return m.Nick
	}
	return m.User.Username
}

func (m Member) Mention() string { return m.User.Mention() }

type Role struct {
	ID   string
	Name string
}

func (r Role) Mention() string { return "<@&" + r.ID + ">" }

type MessageRef struct {
	ChannelID string
	MessageID string
}

// ReactionCount is one reaction bucket on a fetched message.
type ReactionCount struct {
	EmojiName string
	EmojiID   string
	Count     int
}

// APIName is the form the REST API expects for reaction endpoints.
func (r ReactionCount) APIName() string {
	if r.EmojiID != "" {
		return r.EmojiName + ":" + r.EmojiID
	}
	return r.EmojiName
}

type FetchedMessage struct {
	ID        string
	ChannelID string
	GuildID   string
	Reactions []ReactionCount
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

type Button struct {
	Label    string
	CustomID string
	Style    ButtonStyle
	Disabled bool
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	URL         string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	ImageURL    string
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutMessage is the platform-neutral shape of an outbound message.
type OutMessage struct {
	Content string
	Embeds  []Embed
	Buttons []Button
	Files   []File
	// MentionRoles lists role ids allowed to ping. Users mentioned in Content always ping.
	MentionRoles []string
	// MentionEveryone allows @everyone in Content.
	MentionEveryone bool
}

// Messenger is the outbound surface plugins talk to.
type Messenger interface {
	SendText(ctx context.Context, channelID, text string) (MessageRef, error)
	Send(ctx context.Context, channelID string, msg OutMessage) (MessageRef, error)
	SendDM(ctx context.Context, userID string, msg OutMessage) error
	Edit(ctx context.Context, ref MessageRef, msg OutMessage) error
	AddReaction(ctx context.Context, ref MessageRef, emoji string) error
	RespondComponent(ctx context.Context, c *Component, text string) error

	FetchMessage(ctx context.Context, channelID, messageID string) (*FetchedMessage, error)
	// ReactionUsers pages through users who reacted with emoji, starting after the given user id.
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string, limit int, after string) ([]User, error)
	GuildMember(ctx context.Context, guildID, userID string) (*Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
}

// Adapter is a Messenger that also owns the inbound event stream.
type Adapter interface {
	Messenger
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
