package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

const memAuditCap = 1000

// memStore keeps everything in maps. The file driver layers persistence on
// top of it.
type memStore struct {
	mu       sync.Mutex
	activity map[string]ActivityConfig
	settings map[string]map[string][]byte
	guilds   map[string]Guild
	dedup    map[string]int64 // unix milli
	audit    []AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		activity: map[string]ActivityConfig{},
		settings: map[string]map[string][]byte{},
		guilds:   map[string]Guild{},
		dedup:    map[string]int64{},
	}
}

func (s *memStore) PutActivity(_ context.Context, c ActivityConfig) error {
	c, err := normalizeActivity(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.activity[c.GuildID] = c
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetActivity(_ context.Context, guildID string) (ActivityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.activity[guildID]
	if !ok {
		return ActivityConfig{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) DeleteActivity(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.activity[guildID]
	delete(s.activity, guildID)
	return ok, nil
}

func (s *memStore) ListActivity(context.Context) ([]ActivityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityConfig, 0, len(s.activity))
	for _, c := range s.activity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *memStore) ListActivityByDay(ctx context.Context, day int) ([]ActivityConfig, error) {
	if !validDay(day) {
		return nil, nil
	}
	all, _ := s.ListActivity(ctx)
	out := all[:0]
	for _, c := range all {
		if c.DayOfWeek == day {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) PutSetting(_ context.Context, kind, guildID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.settings[kind]
	if m == nil {
		m = map[string][]byte{}
		s.settings[kind] = m
	}
	m[guildID] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) GetSetting(_ context.Context, kind, guildID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.settings[kind][guildID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memStore) DeleteSetting(_ context.Context, kind, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.settings[kind][guildID]
	delete(s.settings[kind], guildID)
	return ok, nil
}

func (s *memStore) ListSettings(_ context.Context, kind string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.settings[kind]))
	for k, v := range s.settings[kind] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (s *memStore) PutGuild(_ context.Context, g Guild) error {
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.guilds[g.GuildID] = g
	s.mu.Unlock()
	return nil
}

func (s *memStore) DeleteGuild(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guilds[guildID]
	delete(s.guilds, guildID)
	return ok, nil
}

func (s *memStore) ListGuilds(context.Context) ([]Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Guild, 0, len(s.guilds))
	for _, g := range s.guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, e)
	if len(s.audit) > memAuditCap {
		s.audit = s.audit[len(s.audit)-memAuditCap:]
	}
	s.mu.Unlock()
	return nil
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.dedup[key] = until.UnixMilli()
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memStore) Close() error { return nil }

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
