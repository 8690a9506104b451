package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// CreateRoleParams are the fields a caller supplies when creating a role; id, guild id, and created_at are assigned
// by the store.
type CreateRoleParams struct {
	GuildID     string
	Name        string
	Color       int
	Permissions protocol.Permission
	Hoist       bool
}

// CreateRole inserts a new role at the top of the hierarchy, one position above the highest existing role (callers
// needing a different position call UpdateRolePositions afterward).
func (s *Store) CreateRole(ctx context.Context, p CreateRoleParams) (*protocol.Role, error) {
	var maxPos int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM roles WHERE guild_id = ?`, p.GuildID).
		Scan(&maxPos); err != nil {
		return nil, fmt.Errorf("compute next role position: %w", err)
	}

	r := protocol.Role{
		ID:          newID(),
		GuildID:     p.GuildID,
		Name:        p.Name,
		Color:       p.Color,
		Permissions: p.Permissions,
		Hoist:       p.Hoist,
		Position:    maxPos + 1,
		CreatedAt:   time.Unix(nowUnix(), 0).UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, guild_id, name, color, permissions, hoist, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.GuildID, r.Name, r.Color, int64(r.Permissions), boolToInt(r.Hoist), r.Position, r.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return &r, nil
}

// GetRole returns a single role by id.
func (s *Store) GetRole(ctx context.Context, roleID string) (*protocol.Role, error) {
	var r protocol.Role
	var perms int64
	var hoist int
	var createdAt int64
	var iconURL sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, color, permissions, hoist, position, icon_url, created_at FROM roles WHERE id = ?`,
		roleID).Scan(&r.ID, &r.GuildID, &r.Name, &r.Color, &perms, &hoist, &r.Position, &iconURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", roleID, err)
	}
	r.Permissions = protocol.Permission(perms)
	r.Hoist = hoist != 0
	r.IconURL = iconURL.String
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &r, nil
}

// ListRoles returns every role in the guild, ordered by position ascending (spec.md §3 "role hierarchy").
func (s *Store) ListRoles(ctx context.Context, guildID string) ([]protocol.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, name, color, permissions, hoist, position, icon_url, created_at
		 FROM roles WHERE guild_id = ? ORDER BY position ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []protocol.Role
	for rows.Next() {
		var r protocol.Role
		var perms int64
		var hoist int
		var createdAt int64
		var iconURL sql.NullString
		if err := rows.Scan(&r.ID, &r.GuildID, &r.Name, &r.Color, &perms, &hoist, &r.Position, &iconURL, &createdAt); err != nil {
			return nil, err
		}
		r.Permissions = protocol.Permission(perms)
		r.Hoist = hoist != 0
		r.IconURL = iconURL.String
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UpdateRoleParams is a sparse patch; nil fields are left unchanged.
type UpdateRoleParams struct {
	Name        *string
	Color       *int
	Permissions *protocol.Permission
	Hoist       *bool
	IconURL     *string
}

// UpdateRole applies a sparse patch to an existing role.
func (s *Store) UpdateRole(ctx context.Context, roleID string, p UpdateRoleParams) error {
	current, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if p.Name != nil {
		current.Name = *p.Name
	}
	if p.Color != nil {
		current.Color = *p.Color
	}
	if p.Permissions != nil {
		current.Permissions = *p.Permissions
	}
	if p.Hoist != nil {
		current.Hoist = *p.Hoist
	}
	if p.IconURL != nil {
		current.IconURL = *p.IconURL
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE roles SET name = ?, color = ?, permissions = ?, hoist = ?, icon_url = ? WHERE id = ?`,
		current.Name, current.Color, int64(current.Permissions), boolToInt(current.Hoist), current.IconURL, roleID)
	if err != nil {
		return fmt.Errorf("update role %s: %w", roleID, err)
	}
	return nil
}

// DeleteRole removes a role and scrubs it from every member's role set in the same guild (spec.md §4.1 "deleteRole
// ... scrub the role id from every member's role set").
func (s *Store) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if roleID == guildID {
		return fmt.Errorf("%w: @everyone cannot be deleted", ErrConflict)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete role: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT user_id, role_ids FROM members WHERE guild_id = ?`, guildID)
	if err != nil {
		return fmt.Errorf("list members for role scrub: %w", err)
	}
	type memberRoles struct {
		userID  string
		roleIDs []string
	}
	var toScrub []memberRoles
	for rows.Next() {
		var userID, roleIDsJSON string
		if err := rows.Scan(&userID, &roleIDsJSON); err != nil {
			rows.Close()
			return err
		}
		var roleIDs []string
		if err := json.Unmarshal([]byte(roleIDsJSON), &roleIDs); err != nil {
			rows.Close()
			return fmt.Errorf("decode role ids for member %s: %w", userID, err)
		}
		if containsString(roleIDs, roleID) {
			toScrub = append(toScrub, memberRoles{userID: userID, roleIDs: removeString(roleIDs, roleID)})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range toScrub {
		roleIDsJSON, err := json.Marshal(m.roleIDs)
		if err != nil {
			return fmt.Errorf("encode scrubbed role ids for member %s: %w", m.userID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE members SET role_ids = ? WHERE guild_id = ? AND user_id = ?`,
			string(roleIDsJSON), guildID, m.userID); err != nil {
			return fmt.Errorf("scrub role %s from member %s: %w", roleID, m.userID, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = ? AND guild_id = ?`, roleID, guildID)
	if err != nil {
		return fmt.Errorf("delete role %s: %w", roleID, err)
	}
	if err := requireRowsAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// UpdateRolePositions reassigns positions in one batch (spec.md §6 "reorder roles"), matching UpdateChannelPositions.
func (s *Store) UpdateRolePositions(ctx context.Context, guildID string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin role reorder: %w", err)
	}
	defer tx.Rollback()

	for i, id := range orderedIDs {
		res, err := tx.ExecContext(ctx, `UPDATE roles SET position = ? WHERE id = ? AND guild_id = ?`, i, id, guildID)
		if err != nil {
			return fmt.Errorf("reorder role %s: %w", id, err)
		}
		if err := requireRowsAffected(res); err != nil {
			return fmt.Errorf("reorder role %s: %w", id, err)
		}
	}
	return tx.Commit()
}
