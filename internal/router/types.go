package router

import (
	"context"
	"time"

	"otterbot/internal/config"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

// Access is the minimum standing needed to run a command.
type Access int

const (
	AccessEveryone Access = iota
	// AccessModerator needs a collaborator or admin role.
	AccessModerator
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessModerator:
		return "moderator"
	case AccessAdmin:
		return "admin"
	default:
		return "everyone"
	}
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "interview_match run send".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access
	// GuildOnly rejects the command in DMs.
	GuildOnly bool

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

type ComponentHandlerFunc func(ctx context.Context, req *Request, payload string) error

// ComponentRoute handles button presses whose custom id is
// "<plugin>:<action>[:<payload>]".
type ComponentRoute struct {
	Plugin      string
	Action      string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      ComponentHandlerFunc
}

// EventHandler reacts to one gateway update kind.
type EventHandler struct {
	Kind    transport.UpdateKind
	Name    string
	Timeout time.Duration
	Handle  func(ctx context.Context, up transport.Update) error
}

// ConfigSource returns the current configuration snapshot.
type ConfigSource interface {
	Get() *config.Config
}

type Request struct {
	Update    transport.Update
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string
	Path      []string
	Command   string
	Args      []string
	Payload   string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Messenger transport.Messenger
	Config    *config.Config
	Logger    logx.Logger
}

// Reply posts text to the channel the request came from. Component
// requests answer the interaction instead.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Update.Component != nil {
		return r.Messenger.RespondComponent(ctx, r.Update.Component, text)
	}
	_, err := r.Messenger.SendText(ctx, r.ChannelID, text)
	return err
}

// Send posts msg to the request channel and returns its reference.
func (r *Request) Send(ctx context.Context, msg transport.OutMessage) (transport.MessageRef, error) {
	return r.Messenger.Send(ctx, r.ChannelID, msg)
}

// Arg returns positional argument i or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}
