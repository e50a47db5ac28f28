package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "otterbot/pkg/logx"
)

// Store is the persistence API used by plugins and services.
//
// Activity configs are keyed by guild; a put replaces the whole row.
// Settings are opaque JSON documents keyed by (kind, guild).
type Store interface {
	PutActivity(ctx context.Context, c ActivityConfig) error
	GetActivity(ctx context.Context, guildID string) (ActivityConfig, error)
	DeleteActivity(ctx context.Context, guildID string) (bool, error)
	ListActivity(ctx context.Context) ([]ActivityConfig, error)
	ListActivityByDay(ctx context.Context, day int) ([]ActivityConfig, error)

	PutSetting(ctx context.Context, kind, guildID string, data []byte) error
	GetSetting(ctx context.Context, kind, guildID string) ([]byte, error)
	DeleteSetting(ctx context.Context, kind, guildID string) (bool, error)
	ListSettings(ctx context.Context, kind string) (map[string][]byte, error)

	PutGuild(ctx context.Context, g Guild) error
	DeleteGuild(ctx context.Context, guildID string) (bool, error)
	ListGuilds(ctx context.Context) ([]Guild, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. An empty driver yields an
// in-memory store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "memory":
		log.Warn("storage is in-memory; guild configs will not survive a restart")
		return newMemStore(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validDay(day int) bool { return day >= 0 && day <= 6 }

func normalizeActivity(c ActivityConfig) (ActivityConfig, error) {
	c.GuildID = strings.TrimSpace(c.GuildID)
	if c.GuildID == "" {
		return c, errors.New("activity config: guild id required")
	}
	c.DayOfWeek = ((c.DayOfWeek % 7) + 7) % 7
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return c, nil
}
