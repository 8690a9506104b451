package store

import (
	"fmt"

	"github.com/remus-chat/remus-node/internal/protocol"
)

const nodeGuildMetaKey = "node_guild_id"

// ensureNodeGuild implements spec.md §4.1 bring-up step 7: a node hosts exactly one guild, created on first boot
// along with its two default channels ("general" text, "Lounge" voice). Returns the guild's id.
func (s *Store) ensureNodeGuild() (string, error) {
	var guildID string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, nodeGuildMetaKey).Scan(&guildID)
	if err == nil {
		return guildID, nil
	}

	guildID = newID()
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin node guild seed: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.Exec(`INSERT INTO guilds (id, name, icon_url, created_at) VALUES (?, ?, '', ?)`,
		guildID, "Community", now); err != nil {
		return "", fmt.Errorf("insert node guild: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, nodeGuildMetaKey, guildID); err != nil {
		return "", fmt.Errorf("record node guild pointer: %w", err)
	}

	generalID := newID()
	if _, err := tx.Exec(
		`INSERT INTO channels (id, guild_id, name, type, position, created_at) VALUES (?, ?, ?, 'text', 0, ?)`,
		generalID, guildID, "general", now); err != nil {
		return "", fmt.Errorf("insert default text channel: %w", err)
	}
	loungeID := newID()
	if _, err := tx.Exec(
		`INSERT INTO channels (id, guild_id, name, type, position, created_at) VALUES (?, ?, ?, 'voice', 1, ?)`,
		loungeID, guildID, "Lounge", now); err != nil {
		return "", fmt.Errorf("insert default voice channel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit node guild seed: %w", err)
	}
	return guildID, nil
}

// ensureDefaultRoles implements spec.md §4.1 bring-up step 8: every guild has an implicit @everyone role at
// position 0 and an Admin role with full permissions, created once on first boot.
func (s *Store) ensureDefaultRoles(guildID string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM roles WHERE guild_id = ?`, guildID).Scan(&count); err != nil {
		return fmt.Errorf("count roles: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := nowUnix()
	baseline := protocol.ViewChannels | protocol.SendMessages | protocol.ReadHistory | protocol.AttachFiles |
		protocol.VoiceConnect | protocol.VoiceSpeak
	if _, err := s.db.Exec(
		`INSERT INTO roles (id, guild_id, name, color, permissions, hoist, position, created_at)
		 VALUES (?, ?, '@everyone', 0, ?, 0, 0, ?)`,
		guildID, guildID, int64(baseline), now); err != nil {
		return fmt.Errorf("insert @everyone role: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO roles (id, guild_id, name, color, permissions, hoist, position, created_at)
		 VALUES (?, ?, 'Admin', 0, ?, 1, 1, ?)`,
		newID(), guildID, int64(protocol.Administrator), now); err != nil {
		return fmt.Errorf("insert Admin role: %w", err)
	}
	return nil
}
