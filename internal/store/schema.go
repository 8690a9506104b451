package store

import "fmt"

// schemaStatements are additive CREATE TABLE IF NOT EXISTS statements, applied in order. Each table is self
// contained; column additions to existing tables are handled separately in migrateColumns so that upgrading an
// older database file never requires dropping data.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id           TEXT PRIMARY KEY,
		username     TEXT NOT NULL,
		email        TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		last_seen_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS guilds (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		icon_url   TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id          TEXT PRIMARY KEY,
		guild_id    TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		color       INTEGER NOT NULL DEFAULT 0,
		permissions INTEGER NOT NULL DEFAULT 0,
		hoist       INTEGER NOT NULL DEFAULT 0,
		position    INTEGER NOT NULL DEFAULT 0,
		icon_url    TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_roles_guild ON roles(guild_id)`,
	`CREATE TABLE IF NOT EXISTS members (
		guild_id       TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
		user_id        TEXT NOT NULL,
		nickname       TEXT NOT NULL DEFAULT '',
		role_ids       TEXT NOT NULL DEFAULT '[]',
		joined_at      INTEGER NOT NULL,
		timeout_until  INTEGER,
		voice_muted    INTEGER NOT NULL DEFAULT 0,
		voice_deafened INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (guild_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id          TEXT PRIMARY KEY,
		guild_id    TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		category_id TEXT REFERENCES channels(id) ON DELETE SET NULL,
		position    INTEGER NOT NULL DEFAULT 0,
		topic       TEXT NOT NULL DEFAULT '',
		overrides   TEXT NOT NULL DEFAULT '{"roles":{},"members":{}}',
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_guild ON channels(guild_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		channel_id    TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		author_id     TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		attachments   TEXT NOT NULL DEFAULT '[]',
		reply_to_id   TEXT,
		edited_at     INTEGER,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		author_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		size       INTEGER NOT NULL,
		mime_type  TEXT NOT NULL,
		url        TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bans (
		user_id    TEXT PRIMARY KEY,
		reason     TEXT NOT NULL DEFAULT '',
		banned_by  TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id   TEXT NOT NULL,
		action     TEXT NOT NULL,
		actor_id   TEXT NOT NULL,
		target_id  TEXT NOT NULL DEFAULT '',
		data       TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_guild_created ON audit(guild_id, created_at)`,
}

// columnAdditions lists columns that may be missing on a database migrated forward from an earlier schema version.
// migrateColumns probes each table with PRAGMA table_info and adds whatever is missing, making schema bring-up
// idempotent and safe to run on every startup.
type columnAddition struct {
	table, column, definition string
}

var columnAdditions = []columnAddition{
	{"channels", "position", "INTEGER NOT NULL DEFAULT 0"},
	{"channels", "topic", "TEXT NOT NULL DEFAULT ''"},
	{"messages", "reply_to_id", "TEXT"},
	{"messages", "edited_at", "INTEGER"},
}

// migrate creates any missing tables and backfills any missing columns on existing tables.
func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return s.migrateColumns()
}

func (s *Store) migrateColumns() error {
	for _, add := range columnAdditions {
		exists, err := s.columnExists(add.table, add.column)
		if err != nil {
			return fmt.Errorf("probe column %s.%s: %w", add.table, add.column, err)
		}
		if exists {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", add.table, add.column, add.definition)
		if _, err := s.db.Exec(alter); err != nil {
			return fmt.Errorf("add column %s.%s: %w", add.table, add.column, err)
		}
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// tablesEmpty reports whether the core domain tables (guilds, roles, members, channels, messages) hold no rows;
// profiles, uploads, bans, audit and meta are not checked. Used to gate the legacy
// JSON import so it never runs against a database that already has real data.
func (s *Store) tablesEmpty() (bool, error) {
	for _, table := range []string{"guilds", "roles", "members", "channels", "messages"} {
		var count int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(1) FROM %s", table)).Scan(&count); err != nil {
			return false, fmt.Errorf("count %s: %w", table, err)
		}
		if count > 0 {
			return false, nil
		}
	}
	return true, nil
}

// backfillChannelPositions assigns sequential positions within each (guild, category) group, ordered by creation
// time, for any group whose positions were never set (spec.md §4.1 bring-up step 5). Imports and migrations that
// predate channel ordering land here with every position at 0.
func (s *Store) backfillChannelPositions() error {
	type group struct {
		guildID    string
		categoryID *string
	}

	rows, err := s.db.Query(`SELECT DISTINCT guild_id, category_id FROM channels`)
	if err != nil {
		return fmt.Errorf("list channel groups: %w", err)
	}
	var groups []group
	for rows.Next() {
		var g group
		if err := rows.Scan(&g.guildID, &g.categoryID); err != nil {
			rows.Close()
			return err
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, g := range groups {
		var nonZero int
		if err := s.db.QueryRow(
			`SELECT COUNT(1) FROM channels WHERE guild_id = ? AND category_id IS ? AND position != 0`,
			g.guildID, g.categoryID).Scan(&nonZero); err != nil {
			return fmt.Errorf("check positions set: %w", err)
		}
		if nonZero > 0 {
			continue // positions already assigned for this group
		}

		idRows, err := s.db.Query(
			`SELECT id FROM channels WHERE guild_id = ? AND category_id IS ? ORDER BY created_at ASC`,
			g.guildID, g.categoryID)
		if err != nil {
			return fmt.Errorf("list channels for backfill: %w", err)
		}
		var ids []string
		for idRows.Next() {
			var id string
			if err := idRows.Scan(&id); err != nil {
				idRows.Close()
				return err
			}
			ids = append(ids, id)
		}
		idRows.Close()

		for i, id := range ids {
			if _, err := s.db.Exec(`UPDATE channels SET position = ? WHERE id = ?`, i, id); err != nil {
				return fmt.Errorf("backfill position for channel %s: %w", id, err)
			}
		}
	}
	return nil
}
