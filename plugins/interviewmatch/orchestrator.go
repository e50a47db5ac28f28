package interviewmatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"otterbot/internal/config"
	"otterbot/internal/eventbus"
	"otterbot/internal/plugin/kit"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

// CycleEvent is published after each guild check.
type CycleEvent struct {
	GuildID    string `json:"guild_id"`
	Candidates int    `json:"candidates"`
	Pairs      int    `json:"pairs"`
	Cleared    bool   `json:"cleared"`
}

// Orchestrator drives the weekly announce and check cycle. Work for one
// guild is serialized; different guilds run independently.
type Orchestrator struct {
	store storage.Store
	msg   transport.Messenger
	bus   eventbus.Bus
	log   logx.Logger
	roles func() config.RolesConfig
	locks *kit.KeyedMutex

	mu          sync.Mutex
	resetPolicy ResetPolicy
	opTimeout   time.Duration
	rng         *rand.Rand
}

func NewOrchestrator(store storage.Store, msg transport.Messenger, bus eventbus.Bus, log logx.Logger, roles func() config.RolesConfig) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		store:       store,
		msg:         msg,
		bus:         bus,
		log:         log,
		roles:       roles,
		locks:       kit.NewKeyedMutex(),
		resetPolicy: ResetKeep,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (o *Orchestrator) SetResetPolicy(p ResetPolicy) {
	o.mu.Lock()
	o.resetPolicy = p
	o.mu.Unlock()
}

// SetOpTimeout bounds each group of Discord calls. Zero means no bound.
func (o *Orchestrator) SetOpTimeout(d time.Duration) {
	o.mu.Lock()
	o.opTimeout = d
	o.mu.Unlock()
}

func (o *Orchestrator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	o.mu.Lock()
	d := o.opTimeout
	o.mu.Unlock()
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// SetRand replaces the shuffle source.
func (o *Orchestrator) SetRand(r *rand.Rand) {
	o.mu.Lock()
	o.rng = r
	o.mu.Unlock()
}

func (o *Orchestrator) pair(pool []Candidate, wildcard Candidate) []Pair {
	o.mu.Lock()
	defer o.mu.Unlock()
	return MakePairs(pool, wildcard, o.rng)
}

// CheckDay is the announce day whose cycle is checked on today.
func CheckDay(today, offset int) int {
	return (((today-offset)%7)+7)%7
}

// Announce posts the weekly message for every guild scheduled on day.
func (o *Orchestrator) Announce(ctx context.Context, day int) error {
	cfgs, err := o.store.ListActivityByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("list activities for day %d: %w", day, err)
	}
	for _, c := range cfgs {
		if err := o.AnnounceGuild(ctx, c); err != nil {
			o.log.Error("weekly announce failed", logx.String("guild", c.GuildID), logx.Err(err))
		}
	}
	return nil
}

// Check pairs the reactors of every guild whose announce day is day.
func (o *Orchestrator) Check(ctx context.Context, day int) error {
	cfgs, err := o.store.ListActivityByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("list activities for day %d: %w", day, err)
	}
	for _, c := range cfgs {
		if err := o.CheckGuild(ctx, c); err != nil {
			o.log.Error("weekly check failed", logx.String("guild", c.GuildID), logx.Err(err))
		}
	}
	return nil
}

func (o *Orchestrator) lockGuild(ctx context.Context, guildID string) (storage.ActivityConfig, func(), error) {
	unlock, err := o.locks.Lock(ctx, guildID)
	if err != nil {
		return storage.ActivityConfig{}, nil, err
	}
	// The row may have changed while waiting; work from the stored copy.
	cfg, err := o.store.GetActivity(ctx, guildID)
	if err != nil {
		unlock()
		return storage.ActivityConfig{}, nil, err
	}
	return cfg, unlock, nil
}

// SaveConfig stores cfg while holding the guild's lock.
func (o *Orchestrator) SaveConfig(ctx context.Context, cfg storage.ActivityConfig) error {
	unlock, err := o.locks.Lock(ctx, cfg.GuildID)
	if err != nil {
		return err
	}
	defer unlock()
	return o.store.PutActivity(ctx, cfg)
}

// StopGuild deletes the guild's activity while holding its lock. It reports
// whether an activity existed.
func (o *Orchestrator) StopGuild(ctx context.Context, guildID string) (bool, error) {
	unlock, err := o.locks.Lock(ctx, guildID)
	if err != nil {
		return false, err
	}
	defer unlock()
	return o.store.DeleteActivity(ctx, guildID)
}

// AnnounceGuild posts the activity message, seeds the reaction and stores
// the message id.
func (o *Orchestrator) AnnounceGuild(ctx context.Context, c storage.ActivityConfig) error {
	cfg, unlock, err := o.lockGuild(ctx, c.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	log := o.log.With(logx.String("guild", cfg.GuildID))
	octx, cancel := o.opContext(ctx)
	defer cancel()
	mention, roleIDs := o.memberRole(octx, cfg.GuildID, log)

	ref, err := o.msg.Send(octx, cfg.ChannelID, transport.OutMessage{
		Content:      activityText(mention, cfg.Emoji),
		MentionRoles: roleIDs,
	})
	if err != nil {
		return fmt.Errorf("post activity message: %w", err)
	}
	if err := o.msg.AddReaction(octx, ref, cfg.Emoji); err != nil {
		log.Warn("seed reaction failed", logx.String("emoji", cfg.Emoji), logx.Err(err))
	}

	cfg.MessageID = ref.MessageID
	cfg.UpdatedAt = time.Now().UTC()
	if err := o.store.PutActivity(ctx, cfg); err != nil {
		return fmt.Errorf("store weekly message id: %w", err)
	}
	log.Info("weekly message posted", logx.String("channel", cfg.ChannelID), logx.String("message", ref.MessageID))
	return nil
}

func (o *Orchestrator) memberRole(ctx context.Context, guildID string, log logx.Logger) (string, []string) {
	name := config.DefaultMemberRole
	if o.roles != nil {
		if r := o.roles(); strings.TrimSpace(r.Member) != "" {
			name = r.Member
		}
	}
	roles, err := o.msg.GuildRoles(ctx, guildID)
	if err != nil {
		log.Warn("guild roles unavailable", logx.Err(err))
		return "", nil
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r.Mention(), []string{r.ID}
		}
	}
	log.Warn("member role not found", logx.String("role", name))
	return "", nil
}

func (o *Orchestrator) collaborators() []string {
	if o.roles != nil {
		if r := o.roles(); len(r.Collaborators) > 0 {
			return r.Collaborators
		}
	}
	return config.DefaultCollaboratorRoles
}

// CheckGuild collects the reactors of the stored weekly message, pairs them,
// notifies each member privately and posts the summary.
func (o *Orchestrator) CheckGuild(ctx context.Context, c storage.ActivityConfig) error {
	cfg, unlock, err := o.lockGuild(ctx, c.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	log := o.log.With(logx.String("guild", cfg.GuildID))
	if cfg.MessageID == "" {
		log.Info("no weekly message to check")
		return nil
	}

	col := &Collector{Messenger: o.msg, Collaborators: o.collaborators()}
	cctx, cancel := o.opContext(ctx)
	defer cancel()
	pool, err := col.Collect(cctx, cfg.GuildID, cfg.ChannelID, cfg.MessageID, cfg.Emoji)
	if errors.Is(err, transport.ErrNotFound) || errors.Is(err, transport.ErrPermissionDenied) {
		log.Warn("weekly message unavailable", logx.String("message", cfg.MessageID), logx.Err(err))
		return nil
	}
	if err != nil {
		return err
	}

	if len(pool) == 0 {
		log.Info("empty candidate pool")
		if _, err := o.msg.SendText(cctx, cfg.ChannelID, emptyPoolMessage); err != nil {
			log.Warn("empty pool notice failed", logx.Err(err))
		}
		return o.finishCycle(ctx, cfg, 0, 0, log)
	}

	entrants := make([]Candidate, 0, len(pool))
	for _, cand := range pool {
		entrants = append(entrants, cand)
	}
	sort.Slice(entrants, func(i, j int) bool { return entrants[i].UserID < entrants[j].UserID })
	wildcard, in := pool[cfg.AuthorID]
	sitOut := len(pool)%2 == 1 && in
	if len(pool)%2 == 1 && !in {
		wildcard, err = col.Resolve(cctx, cfg.GuildID, cfg.AuthorID)
		if err != nil {
			log.Warn("wildcard unavailable", logx.String("author", cfg.AuthorID), logx.Err(err))
			return nil
		}
	}
	pairs := o.pair(entrants, wildcard)

	img, err := RenderPairs(pairs)
	if errors.Is(err, transport.ErrValidation) {
		log.Warn("pairs image rejected", logx.Err(err))
		return nil
	}
	if err != nil {
		return err
	}

	for _, p := range pairs {
		o.notify(ctx, p[0], privateText(p[0], p[1]), log)
		o.notify(ctx, p[1], privateText(p[1], p[0]), log)
	}
	if sitOut {
		// The organizer is the wildcard; with an odd pool they step aside.
		log.Info("author sits out this week", logx.String("author", cfg.AuthorID))
		o.notify(ctx, wildcard, sitOutText(wildcard), log)
	}

	sctx, cancelSummary := o.opContext(ctx)
	defer cancelSummary()
	_, err = o.msg.Send(sctx, cfg.ChannelID, transport.OutMessage{
		Content: summaryText(pairs),
		Files:   []transport.File{{Name: imageName, ContentType: "image/png", Data: img}},
	})
	if err != nil {
		return fmt.Errorf("post pairs summary: %w", err)
	}
	log.Info("weekly pairs posted", logx.Int("candidates", len(pool)), logx.Int("pairs", len(pairs)))
	return o.finishCycle(ctx, cfg, len(pool), len(pairs), log)
}

func (o *Orchestrator) notify(ctx context.Context, to Candidate, text string, log logx.Logger) {
	dctx, cancel := o.opContext(ctx)
	defer cancel()
	if err := o.msg.SendDM(dctx, to.UserID, transport.OutMessage{Content: text}); err != nil {
		log.Warn("pair notification failed", logx.String("user", to.UserID), logx.Err(err))
	}
}

func (o *Orchestrator) finishCycle(ctx context.Context, cfg storage.ActivityConfig, candidates, pairs int, log logx.Logger) error {
	o.mu.Lock()
	policy := o.resetPolicy
	o.mu.Unlock()

	cleared := false
	if policy == ResetClear {
		cfg.MessageID = ""
		cfg.UpdatedAt = time.Now().UTC()
		if err := o.store.PutActivity(ctx, cfg); err != nil {
			return fmt.Errorf("clear weekly message id: %w", err)
		}
		cleared = true
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Data: CycleEvent{
			GuildID:    cfg.GuildID,
			Candidates: candidates,
			Pairs:      pairs,
			Cleared:    cleared,
		}})
	}
	log.Debug("cycle finished", logx.Bool("cleared", cleared))
	return nil
}
