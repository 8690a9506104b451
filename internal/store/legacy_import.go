package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// legacyExport is the shape of a pre-embedded-database JSON export (spec.md §4.1 "Legacy import"). Field names
// follow the original record shapes closely enough that a hand export from the prior JSON-file storage layer can be
// dropped in as <db path>.legacy.json and imported verbatim on first boot.
type legacyExport struct {
	Profiles []struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"profiles"`
	Guild struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		IconURL string `json:"iconUrl"`
	} `json:"guild"`
	Roles []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Color       int    `json:"color"`
		Permissions int64  `json:"permissions"`
		Hoist       bool   `json:"hoist"`
		Position    int    `json:"position"`
	} `json:"roles"`
	Members []struct {
		UserID   string   `json:"userId"`
		Nickname string   `json:"nickname"`
		RoleIDs  []string `json:"roleIds"`
		JoinedAt int64    `json:"joinedAt"`
	} `json:"members"`
	Channels []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Type       string `json:"type"`
		CategoryID string `json:"categoryId"`
		Position   int    `json:"position"`
		Topic      string `json:"topic"`
	} `json:"channels"`
	Messages []struct {
		ID        string `json:"id"`
		ChannelID string `json:"channelId"`
		AuthorID  string `json:"authorId"`
		Content   string `json:"content"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"messages"`
	Uploads []struct {
		ID        string `json:"id"`
		ChannelID string `json:"channelId"`
		AuthorID  string `json:"authorId"`
		Name      string `json:"name"`
		Size      int64  `json:"size"`
		MimeType  string `json:"mimeType"`
		URL       string `json:"url"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"uploads"`
	Bans []struct {
		UserID    string `json:"userId"`
		Reason    string `json:"reason"`
		BannedBy  string `json:"bannedBy"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"bans"`
	Audit []struct {
		Action    string          `json:"action"`
		ActorID   string          `json:"actorId"`
		TargetID  string          `json:"targetId"`
		Data      json.RawMessage `json:"data"`
		CreatedAt int64           `json:"createdAt"`
	} `json:"audit"`
	Settings struct {
		AuditMaxEntries   int `json:"auditMaxEntries"`
		TimeoutMaxMinutes int `json:"timeoutMaxMinutes"`
	} `json:"settings"`
}

// importLegacyJSON loads a legacy export and inserts its records, guarded by the caller already having confirmed
// the core tables are empty (spec.md §4.1: "only when every domain table is empty and a legacy file is present").
func (s *Store) importLegacyJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read legacy export: %w", err)
	}

	var export legacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("parse legacy export: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin legacy import: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()

	for _, p := range export.Profiles {
		createdAt := p.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO profiles (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.Username, p.Email, createdAt); err != nil {
			return fmt.Errorf("import profile %s: %w", p.ID, err)
		}
	}

	if export.Guild.ID != "" {
		if _, err := tx.Exec(`INSERT INTO guilds (id, name, icon_url, created_at) VALUES (?, ?, ?, ?)`,
			export.Guild.ID, export.Guild.Name, export.Guild.IconURL, now); err != nil {
			return fmt.Errorf("import guild: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			nodeGuildMetaKey, export.Guild.ID); err != nil {
			return fmt.Errorf("record imported guild pointer: %w", err)
		}
	}

	for _, r := range export.Roles {
		if _, err := tx.Exec(
			`INSERT INTO roles (id, guild_id, name, color, permissions, hoist, position, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, export.Guild.ID, r.Name, r.Color, r.Permissions, boolToInt(r.Hoist), r.Position, now); err != nil {
			return fmt.Errorf("import role %s: %w", r.ID, err)
		}
	}

	for _, m := range export.Members {
		roleIDsJSON, err := json.Marshal(m.RoleIDs)
		if err != nil {
			return fmt.Errorf("encode member role ids: %w", err)
		}
		joinedAt := m.JoinedAt
		if joinedAt == 0 {
			joinedAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO members (guild_id, user_id, nickname, role_ids, joined_at) VALUES (?, ?, ?, ?, ?)`,
			export.Guild.ID, m.UserID, m.Nickname, string(roleIDsJSON), joinedAt); err != nil {
			return fmt.Errorf("import member %s: %w", m.UserID, err)
		}
	}

	for _, c := range export.Channels {
		var categoryID any
		if c.CategoryID != "" {
			categoryID = c.CategoryID
		}
		if _, err := tx.Exec(
			`INSERT INTO channels (id, guild_id, name, type, category_id, position, topic, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, export.Guild.ID, c.Name, c.Type, categoryID, c.Position, c.Topic, now); err != nil {
			return fmt.Errorf("import channel %s: %w", c.ID, err)
		}
	}

	for _, m := range export.Messages {
		createdAt := m.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ChannelID, m.AuthorID, m.Content, createdAt); err != nil {
			return fmt.Errorf("import message %s: %w", m.ID, err)
		}
	}

	for _, u := range export.Uploads {
		createdAt := u.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO uploads (id, channel_id, author_id, name, size, mime_type, url, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.ChannelID, u.AuthorID, u.Name, u.Size, u.MimeType, u.URL, createdAt); err != nil {
			return fmt.Errorf("import upload %s: %w", u.ID, err)
		}
	}

	for _, b := range export.Bans {
		createdAt := b.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO bans (user_id, reason, banned_by, created_at) VALUES (?, ?, ?, ?)`,
			b.UserID, b.Reason, b.BannedBy, createdAt); err != nil {
			return fmt.Errorf("import ban %s: %w", b.UserID, err)
		}
	}

	for _, a := range export.Audit {
		createdAt := a.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		data := string(a.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := tx.Exec(
			`INSERT INTO audit (guild_id, action, actor_id, target_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			export.Guild.ID, a.Action, a.ActorID, a.TargetID, data, createdAt); err != nil {
			return fmt.Errorf("import audit entry %q: %w", a.Action, err)
		}
	}

	if export.Settings.AuditMaxEntries > 0 {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaKeyAuditMaxEntries, strconv.Itoa(export.Settings.AuditMaxEntries)); err != nil {
			return fmt.Errorf("record imported audit cap: %w", err)
		}
	}
	if export.Settings.TimeoutMaxMinutes > 0 {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaKeyTimeoutMaxMinutes, strconv.Itoa(export.Settings.TimeoutMaxMinutes)); err != nil {
			return fmt.Errorf("record imported timeout cap: %w", err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
