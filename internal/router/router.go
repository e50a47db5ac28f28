package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"otterbot/internal/config"
	rtsup "otterbot/internal/runtime/supervisor"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

const defaultEventTimeout = 30 * time.Second

// Router turns gateway updates into command, component and event handler
// calls on a bounded worker pool.
type Router struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	comps  map[string]map[string]ComponentRoute // plugin -> action -> route
	events map[transport.UpdateKind][]EventHandler

	log     logx.Logger
	msg     transport.Messenger
	cfg     ConfigSource
	waiters *Waiters

	// selfID is the bot user id, learned from the ready update.
	selfMu sync.RWMutex
	selfID string

	workers int
	jobs    chan func()
}

func New(log logx.Logger, msg transport.Messenger, cfg ConfigSource) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		comps:   map[string]map[string]ComponentRoute{},
		events:  map[transport.UpdateKind][]EventHandler{},
		log:     log.With(logx.String("comp", "router")),
		msg:     msg,
		cfg:     cfg,
		waiters: NewWaiters(),
		workers: max(runtime.NumCPU(), 2),
		jobs:    make(chan func(), 256),
	}
}

func (m *Router) Waiters() *Waiters { return m.waiters }

// SetRegistry swaps the whole routing table. Safe during hot reload.
func (m *Router) SetRegistry(cmds []Command, comps []ComponentRoute, events []EventHandler) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(m.prefix(req.Config), req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]map[string]ComponentRoute{}
	for _, r := range comps {
		p, a := strings.TrimSpace(r.Plugin), strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]ComponentRoute{}
		}
		cb[p][a] = r
	}

	ev := map[transport.UpdateKind][]EventHandler{}
	for _, h := range events {
		if h.Handle == nil {
			continue
		}
		ev[h.Kind] = append(ev[h.Kind], h)
	}

	m.mu.Lock()
	m.root, m.alias, m.comps, m.events = root, alias, cb, ev
	m.mu.Unlock()
}

func (m *Router) prefix(cfg *config.Config) string {
	if cfg != nil && cfg.Discord.Prefix != "" {
		return cfg.Discord.Prefix
	}
	return config.DefaultPrefix
}

func (m *Router) config() *config.Config {
	if m.cfg == nil {
		return nil
	}
	return m.cfg.Get()
}

func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.log.Info("dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *Router) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// Route dispatches one update. Handlers run on the worker pool.
func (m *Router) Route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		m.routeMessage(ctx, up)
	case transport.UpdateComponent:
		m.routeComponent(ctx, up)
	case transport.UpdateReady:
		if up.Ready != nil {
			m.selfMu.Lock()
			m.selfID = up.Ready.UserID
			m.selfMu.Unlock()
		}
		m.routeEvent(ctx, up)
	case transport.UpdateReactionAdded:
		if up.Reaction == nil || up.Reaction.UserID == m.self() {
			return
		}
		// Waiters see the reaction first; event handlers still run.
		m.waiters.Deliver(*up.Reaction)
		m.routeEvent(ctx, up)
	default:
		m.routeEvent(ctx, up)
	}
}

func (m *Router) self() string {
	m.selfMu.RLock()
	defer m.selfMu.RUnlock()
	return m.selfID
}

func (m *Router) routeEvent(ctx context.Context, up transport.Update) {
	m.mu.RLock()
	handlers := m.events[up.Kind]
	m.mu.RUnlock()
	for _, h := range handlers {
		h := h
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = defaultEventTimeout
		}
		ok := m.tryEnqueue(func() {
			hctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := h.Handle(hctx, up); err != nil {
				m.log.Warn("event handler failed", logx.String("kind", string(up.Kind)), logx.String("handler", h.Name), logx.Err(err))
			}
		})
		if !ok {
			m.log.Warn("event dropped: router busy", logx.String("kind", string(up.Kind)), logx.String("handler", h.Name))
		}
	}
}

func (m *Router) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil || msg.AuthorBot {
		return
	}
	cfg := m.config()
	prefix := m.prefix(cfg)
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	parts := splitArgs(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	args := parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, up, cfg, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		// Unknown words are ignored; the prefix is shared with other bots.
		return
	}
	path := []string{word}
	for len(args) > 0 {
		if strings.HasPrefix(args[0], "--") {
			break
		}
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.msg.SendText(ctx, msg.ChannelID, m.helpText(prefix, path))
		return
	}
	m.enqueueCommand(ctx, up, cfg, *cur.cmd, path, args)
}

func (m *Router) enqueueCommand(ctx context.Context, up transport.Update, cfg *config.Config, cmd Command, path, raw []string) {
	msg := up.Message
	rid := newReqID()
	pos, flags, bools := splitFlags(raw)
	req := &Request{
		Update:    up,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		UserID:    msg.AuthorID,
		UserName:  msg.AuthorName,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Messenger: m.msg,
		Config:    cfg,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("guild_id", msg.GuildID),
			logx.String("user_id", msg.AuthorID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(
		m.guard(cmd.Access, cmd.GuildOnly, cmd.Handle),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReplyOnError(),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.msg.SendText(ctx, msg.ChannelID, "Busy, try again in a moment.")
	}
}

// guard checks access before calling h. Denials are replies, not errors.
func (m *Router) guard(a Access, guildOnly bool, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if (guildOnly || a != AccessEveryone) && req.GuildID == "" && !isBotAdmin(req.Config, req.UserID) {
			return req.Reply(ctx, "This command only works inside a server.")
		}
		ok, err := Allowed(ctx, m.msg, req.Config, a, req.GuildID, req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			req.Logger.Info("command denied", logx.String("access", a.String()))
			return req.Reply(ctx, "You don't have permission to use this command.")
		}
		return h(ctx, req)
	}
}

func isBotAdmin(cfg *config.Config, userID string) bool {
	if cfg == nil {
		return false
	}
	for _, id := range cfg.Discord.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Router) routeComponent(ctx context.Context, up transport.Update) {
	c := up.Component
	if c == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(c.CustomID), ":", 3)
	if len(parts) < 2 {
		return
	}
	plugin, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.mu.RLock()
	route, ok := m.comps[plugin][action]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rid := newReqID()
	cmdName := "component:" + plugin + ":" + action
	req := &Request{
		Update:    up,
		GuildID:   c.GuildID,
		ChannelID: c.ChannelID,
		UserID:    c.UserID,
		Command:   cmdName,
		Payload:   payload,
		ReqID:     rid,
		Messenger: m.msg,
		Config:    m.config(),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("guild_id", c.GuildID),
			logx.String("user_id", c.UserID),
			logx.String("cmd", cmdName),
		),
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(
		m.guard(route.Access, false, h),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReplyOnError(),
		MWTimeout(route.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = m.msg.RespondComponent(ctx, c, "Busy, try again in a moment.")
	}
}
