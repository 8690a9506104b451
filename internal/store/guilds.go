package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
)

// NodeGuildID returns the id of this node's single guild.
func (s *Store) NodeGuildID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, nodeGuildMetaKey).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("read node guild pointer: %w", err)
	}
	return id, nil
}

// GetGuildRecord returns the full Guild record.
func (s *Store) GetGuildRecord(ctx context.Context, guildID string) (*protocol.Guild, error) {
	var g protocol.Guild
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM guilds WHERE id = ?`, guildID).
		Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	g.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &g, nil
}

// UpdateGuildName renames the guild.
func (s *Store) UpdateGuildName(ctx context.Context, guildID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE guilds SET name = ? WHERE id = ?`, name, guildID)
	if err != nil {
		return fmt.Errorf("update guild name: %w", err)
	}
	return requireRowsAffected(res)
}

// GetGuild implements permission.Store: returns the guild id itself as the @everyone role id (seed.go assigns the
// @everyone role that id), plus every role in the guild for the engine's union step.
func (s *Store) GetGuild(ctx context.Context, guildID string) (string, []permission.RoleRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, permissions, position FROM roles WHERE guild_id = ?`, guildID)
	if err != nil {
		return "", nil, fmt.Errorf("list roles for guild %s: %w", guildID, err)
	}
	defer rows.Close()

	var roles []permission.RoleRef
	for rows.Next() {
		var r permission.RoleRef
		var perms int64
		if err := rows.Scan(&r.ID, &perms, &r.Position); err != nil {
			return "", nil, err
		}
		r.Permissions = protocol.Permission(perms)
		roles = append(roles, r)
	}
	return guildID, roles, rows.Err()
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
