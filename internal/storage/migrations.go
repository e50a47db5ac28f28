package storage

import "github.com/GuiaBolso/darwin"

// migrations are applied in Version order and must never be edited once
// released; darwin checksums every applied script.
var migrations = []darwin.Migration{
	{
		Version:     1,
		Description: "activity configs",
		Script: `CREATE TABLE IF NOT EXISTS activity_configs (
			guild_id    TEXT PRIMARY KEY,
			channel_id  TEXT NOT NULL,
			author_id   TEXT NOT NULL,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			emoji       TEXT NOT NULL,
			message_id  TEXT,
			updated_at  TEXT NOT NULL
		);`,
	},
	{
		Version:     1.1,
		Description: "activity configs by day",
		Script:      `CREATE INDEX IF NOT EXISTS idx_activity_day ON activity_configs(day_of_week);`,
	},
	{
		Version:     2,
		Description: "guild settings",
		Script: `CREATE TABLE IF NOT EXISTS guild_settings (
			kind       TEXT NOT NULL,
			guild_id   TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, guild_id)
		);`,
	},
	{
		Version:     3,
		Description: "guild registry",
		Script: `CREATE TABLE IF NOT EXISTS guilds (
			guild_id  TEXT PRIMARY KEY,
			name      TEXT,
			joined_at TEXT NOT NULL
		);`,
	},
	{
		Version:     4,
		Description: "audit log",
		Script: `CREATE TABLE IF NOT EXISTS audit (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			at         TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			actor_name TEXT,
			guild_id   TEXT,
			channel_id TEXT,
			plugin     TEXT NOT NULL,
			action     TEXT NOT NULL,
			target     TEXT,
			ok         INTEGER NOT NULL,
			err        TEXT,
			took_ms    INTEGER NOT NULL
		);`,
	},
	{
		Version:     5,
		Description: "dedup keys",
		Script: `CREATE TABLE IF NOT EXISTS dedup (
			key   TEXT PRIMARY KEY,
			until INTEGER NOT NULL
		);`,
	},
}
