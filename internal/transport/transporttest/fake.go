// Package transporttest provides an in-memory transport.Messenger for tests.
package transporttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"otterbot/internal/transport"
)

// Sent is one outbound message recorded by Fake.
type Sent struct {
	ChannelID string
	UserID    string // set for DMs
	Msg       transport.OutMessage
	Ref       transport.MessageRef
}

// Fake records every call and serves reads from its maps.
// Fields may be set directly before use; methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	Members   map[string]map[string]*transport.Member // guild -> user -> member
	Roles     map[string][]transport.Role             // guild -> roles
	Messages  map[string]*transport.FetchedMessage    // message id -> message
	Reactions map[string]map[string][]transport.User  // message id -> emoji -> users

	// DMErr, when set, fails SendDM for the listed user ids.
	DMErr map[string]error
	// FetchErr fails FetchMessage.
	FetchErr error

	sent       []Sent
	dms        []Sent
	edits      []Sent
	reacted    []string // "messageID emoji"
	granted    []string // "guild user role"
	responses  []string
	seq        int
	pageLimits []int
}

func New() *Fake {
	return &Fake{
		Members:   map[string]map[string]*transport.Member{},
		Roles:     map[string][]transport.Role{},
		Messages:  map[string]*transport.FetchedMessage{},
		Reactions: map[string]map[string][]transport.User{},
		DMErr:     map[string]error{},
	}
}

// AddMember registers a guild member with the given role ids.
func (f *Fake) AddMember(guildID string, u transport.User, nick string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Members[guildID] == nil {
		f.Members[guildID] = map[string]*transport.Member{}
	}
	f.Members[guildID][u.ID] = &transport.Member{GuildID: guildID, User: u, Nick: nick, RoleIDs: roleIDs}
}

// AddReactionUsers records users reacting to messageID with emoji.
func (f *Fake) AddReactionUsers(channelID, messageID, emoji string, users ...transport.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.Messages[messageID]
	if m == nil {
		m = &transport.FetchedMessage{ID: messageID, ChannelID: channelID}
		f.Messages[messageID] = m
	}
	found := false
	for i := range m.Reactions {
		if m.Reactions[i].EmojiName == emoji {
			m.Reactions[i].Count += len(users)
			found = true
		}
	}
	if !found {
		m.Reactions = append(m.Reactions, transport.ReactionCount{EmojiName: emoji, Count: len(users)})
	}
	if f.Reactions[messageID] == nil {
		f.Reactions[messageID] = map[string][]transport.User{}
	}
	f.Reactions[messageID][emoji] = append(f.Reactions[messageID][emoji], users...)
}

func (f *Fake) nextRef(channelID string) transport.MessageRef {
	f.seq++
	return transport.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", f.seq)}
}

func (f *Fake) SendText(ctx context.Context, channelID, text string) (transport.MessageRef, error) {
	return f.Send(ctx, channelID, transport.OutMessage{Content: text})
}

func (f *Fake) Send(_ context.Context, channelID string, msg transport.OutMessage) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := f.nextRef(channelID)
	f.sent = append(f.sent, Sent{ChannelID: channelID, Msg: msg, Ref: ref})
	return ref, nil
}

func (f *Fake) SendDM(_ context.Context, userID string, msg transport.OutMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DMErr[userID]; err != nil {
		return err
	}
	f.dms = append(f.dms, Sent{UserID: userID, Msg: msg})
	return nil
}

func (f *Fake) Edit(_ context.Context, ref transport.MessageRef, msg transport.OutMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, Sent{ChannelID: ref.ChannelID, Msg: msg, Ref: ref})
	return nil
}

func (f *Fake) AddReaction(_ context.Context, ref transport.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, ref.MessageID+" "+emoji)
	return nil
}

func (f *Fake) RespondComponent(_ context.Context, _ *transport.Component, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, text)
	return nil
}

func (f *Fake) FetchMessage(_ context.Context, channelID, messageID string) (*transport.FetchedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	m, ok := f.Messages[messageID]
	if !ok {
		return nil, fmt.Errorf("fetch %s/%s: %w", channelID, messageID, transport.ErrNotFound)
	}
	cp := *m
	cp.Reactions = append([]transport.ReactionCount(nil), m.Reactions...)
	return &cp, nil
}

// ReactionUsers pages users sorted by id, like the Discord API.
func (f *Fake) ReactionUsers(_ context.Context, _, messageID, emoji string, limit int, after string) ([]transport.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageLimits = append(f.pageLimits, limit)
	users := append([]transport.User(nil), f.Reactions[messageID][emoji]...)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	var out []transport.User
	for _, u := range users {
		if after != "" && u.ID <= after {
			continue
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GuildMember(_ context.Context, guildID, userID string) (*transport.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Members[guildID][userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, transport.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *Fake) GuildRoles(_ context.Context, guildID string) ([]transport.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Role(nil), f.Roles[guildID]...), nil
}

func (f *Fake) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = append(f.granted, guildID+" "+userID+" "+roleID)
	return nil
}

// Sent returns channel messages in send order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Texts returns the content of every channel message.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Msg.Content)
	}
	return out
}

func (f *Fake) DMs() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.dms...)
}

func (f *Fake) Edits() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.edits...)
}

func (f *Fake) Reacted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reacted...)
}

func (f *Fake) Granted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.granted...)
}

func (f *Fake) Responses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.responses...)
}

// PageLimits returns the limit of every ReactionUsers call.
func (f *Fake) PageLimits() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pageLimits...)
}

var _ transport.Messenger = (*Fake)(nil)
