package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GuiaBolso/darwin"
	_ "modernc.org/sqlite"

	logx "otterbot/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; upserts are then atomic per row.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrate(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func migrate(db *sql.DB, log logx.Logger) error {
	info := make(chan darwin.MigrationInfo, len(migrations))
	d := darwin.New(darwin.NewGenericDriver(db, darwin.SqliteDialect{}), migrations, info)
	err := d.Migrate()
	close(info)
	for mi := range info {
		if mi.Error != nil {
			continue
		}
		log.Debug("migration applied", logx.Any("version", mi.Migration.Version), logx.String("desc", mi.Migration.Description))
	}
	if err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutActivity(ctx context.Context, c ActivityConfig) error {
	c, err := normalizeActivity(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activity_configs(guild_id, channel_id, author_id, day_of_week, emoji, message_id, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		   channel_id=excluded.channel_id, author_id=excluded.author_id, day_of_week=excluded.day_of_week,
		   emoji=excluded.emoji, message_id=excluded.message_id, updated_at=excluded.updated_at`,
		c.GuildID, c.ChannelID, c.AuthorID, c.DayOfWeek, c.Emoji, nullStr(c.MessageID), c.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put activity %s: %w", c.GuildID, err)
	}
	return nil
}

const activityCols = `guild_id, channel_id, author_id, day_of_week, emoji, message_id, updated_at`

func scanActivity(sc interface{ Scan(...any) error }) (ActivityConfig, error) {
	var (
		c       ActivityConfig
		msgID   sql.NullString
		updated string
	)
	if err := sc.Scan(&c.GuildID, &c.ChannelID, &c.AuthorID, &c.DayOfWeek, &c.Emoji, &msgID, &updated); err != nil {
		return ActivityConfig{}, err
	}
	c.MessageID = msgID.String
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func (s *sqliteStore) GetActivity(ctx context.Context, guildID string) (ActivityConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activity_configs WHERE guild_id = ?`, guildID)
	c, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivityConfig{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) DeleteActivity(ctx context.Context, guildID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_configs WHERE guild_id = ?`, guildID)
	if err != nil {
		return false, fmt.Errorf("delete activity %s: %w", guildID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListActivity(ctx context.Context) ([]ActivityConfig, error) {
	return s.queryActivity(ctx, `SELECT `+activityCols+` FROM activity_configs ORDER BY guild_id`)
}

func (s *sqliteStore) ListActivityByDay(ctx context.Context, day int) ([]ActivityConfig, error) {
	if !validDay(day) {
		return nil, nil
	}
	return s.queryActivity(ctx, `SELECT `+activityCols+` FROM activity_configs WHERE day_of_week = ? ORDER BY guild_id`, day)
}

func (s *sqliteStore) queryActivity(ctx context.Context, q string, args ...any) ([]ActivityConfig, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []ActivityConfig
	for rows.Next() {
		c, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSetting(ctx context.Context, kind, guildID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_settings(kind, guild_id, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(kind, guild_id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		kind, guildID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put setting %s/%s: %w", kind, guildID, err)
	}
	return nil
}

func (s *sqliteStore) GetSetting(ctx context.Context, kind, guildID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM guild_settings WHERE kind = ? AND guild_id = ?`, kind, guildID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *sqliteStore) DeleteSetting(ctx context.Context, kind, guildID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guild_settings WHERE kind = ? AND guild_id = ?`, kind, guildID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListSettings(ctx context.Context, kind string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, data FROM guild_settings WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]byte{}
	for rows.Next() {
		var g, data string
		if err := rows.Scan(&g, &data); err != nil {
			return nil, err
		}
		out[g] = []byte(data)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutGuild(ctx context.Context, g Guild) error {
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guilds(guild_id, name, joined_at) VALUES(?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET name=excluded.name`,
		g.GuildID, nullStr(g.Name), g.JoinedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteGuild(ctx context.Context, guildID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE guild_id = ?`, guildID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListGuilds(ctx context.Context) ([]Guild, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, name, joined_at FROM guilds ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Guild
	for rows.Next() {
		var (
			g      Guild
			name   sql.NullString
			joined string
		)
		if err := rows.Scan(&g.GuildID, &name, &joined); err != nil {
			return nil, err
		}
		g.Name = name.String
		g.JoinedAt, _ = time.Parse(time.RFC3339Nano, joined)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, guild_id, channel_id, plugin, action, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorName), nullStr(e.GuildID), nullStr(e.ChannelID),
		e.Plugin, e.Action, nullStr(e.Target), ok, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
