package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// AddAudit appends an audit entry and evicts the oldest entries past settings.AuditMaxEntries (spec.md §3 "Audit"
// / §4.1 "AddAudit ... evicts overflow"), keeping the log an append-only but bounded ring rather than growing
// forever.
func (s *Store) AddAudit(ctx context.Context, entry protocol.Audit) error {
	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encode audit data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add audit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit (guild_id, action, actor_id, target_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.GuildID, entry.Action, entry.ActorID, entry.TargetID, string(dataJSON), nowUnix())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	settings, err := s.getSettingsTx(ctx, tx)
	if err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit WHERE guild_id = ?`, entry.GuildID).
		Scan(&count); err != nil {
		return fmt.Errorf("count audit entries: %w", err)
	}
	if overflow := count - settings.AuditMaxEntries; overflow > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM audit WHERE id IN (
				SELECT id FROM audit WHERE guild_id = ? ORDER BY created_at ASC LIMIT ?
			)`, entry.GuildID, overflow)
		if err != nil {
			return fmt.Errorf("evict overflow audit entries: %w", err)
		}
	}

	return tx.Commit()
}

// ListAudit returns the most recent audit entries for the guild, newest first.
func (s *Store) ListAudit(ctx context.Context, guildID string, limit int) ([]protocol.Audit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, action, actor_id, target_id, data, created_at
		FROM audit WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []protocol.Audit
	for rows.Next() {
		var e protocol.Audit
		var dataJSON string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.GuildID, &e.Action, &e.ActorID, &e.TargetID, &dataJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("decode audit data for entry %d: %w", e.ID, err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
