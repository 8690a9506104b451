package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
)

// CreateChannelParams are the caller-supplied fields for a new channel.
type CreateChannelParams struct {
	GuildID    string
	Name       string
	Type       string
	CategoryID *string
	CreatedBy  string
}

// CreateChannel inserts a channel at the tail of its (guild, category) position group (spec.md §3: "position is per
// (guildId, categoryId) group; inserts append to the tail").
func (s *Store) CreateChannel(ctx context.Context, p CreateChannelParams) (*protocol.Channel, error) {
	var maxPos int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM channels WHERE guild_id = ? AND category_id IS ?`,
		p.GuildID, p.CategoryID).Scan(&maxPos); err != nil {
		return nil, fmt.Errorf("compute next channel position: %w", err)
	}

	c := protocol.Channel{
		ID:         newID(),
		GuildID:    p.GuildID,
		Name:       p.Name,
		Type:       p.Type,
		CategoryID: p.CategoryID,
		Position:   maxPos + 1,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  time.Unix(nowUnix(), 0).UTC(),
		Overrides:  protocol.PermissionOverrides{Roles: map[string]protocol.Override{}, Members: map[string]protocol.Override{}},
	}

	overridesJSON, err := json.Marshal(c.Overrides)
	if err != nil {
		return nil, fmt.Errorf("encode overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (id, guild_id, name, type, category_id, position, overrides, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GuildID, c.Name, c.Type, c.CategoryID, c.Position, string(overridesJSON), c.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return &c, nil
}

func (s *Store) scanChannel(row interface {
	Scan(dest ...any) error
}) (*protocol.Channel, error) {
	var c protocol.Channel
	var categoryID sql.NullString
	var topic, overridesJSON string
	var createdAt int64

	if err := row.Scan(&c.ID, &c.GuildID, &c.Name, &c.Type, &categoryID, &c.Position, &topic, &overridesJSON, &createdAt); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		v := categoryID.String
		c.CategoryID = &v
	}
	if err := json.Unmarshal([]byte(overridesJSON), &c.Overrides); err != nil {
		return nil, fmt.Errorf("decode overrides for channel %s: %w", c.ID, err)
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

const channelSelectColumns = `id, guild_id, name, type, category_id, position, topic, overrides, created_at`

// GetChannelRecord returns the full Channel record.
func (s *Store) GetChannelRecord(ctx context.Context, channelID string) (*protocol.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelSelectColumns+` FROM channels WHERE id = ?`, channelID)
	c, err := s.scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	return c, nil
}

// ListChannels returns every channel in the guild, ordered by position.
func (s *Store) ListChannels(ctx context.Context, guildID string) ([]protocol.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelSelectColumns+` FROM channels WHERE guild_id = ? ORDER BY position ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []protocol.Channel
	for rows.Next() {
		c, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// UpdateChannelParams is a sparse patch.
type UpdateChannelParams struct {
	Name  *string
	Topic *string
}

// UpdateChannel applies a sparse patch.
func (s *Store) UpdateChannel(ctx context.Context, channelID string, p UpdateChannelParams) error {
	if p.Name != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE channels SET name = ? WHERE id = ?`, *p.Name, channelID); err != nil {
			return fmt.Errorf("update channel name: %w", err)
		}
	}
	if p.Topic != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE channels SET topic = ? WHERE id = ?`, *p.Topic, channelID); err != nil {
			return fmt.Errorf("update channel topic: %w", err)
		}
	}
	return nil
}

// SetChannelOverrides replaces a channel's permission overrides wholesale.
func (s *Store) SetChannelOverrides(ctx context.Context, channelID string, ov protocol.PermissionOverrides) error {
	overridesJSON, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET overrides = ? WHERE id = ?`, string(overridesJSON), channelID)
	if err != nil {
		return fmt.Errorf("set channel overrides: %w", err)
	}
	return requireRowsAffected(res)
}

// ChannelPositionUpdate is one entry of a reorder batch. A nil CategoryID leaves the channel's category unchanged;
// ClearCategory moves it to top level (the wire shape's categoryId == "").
type ChannelPositionUpdate struct {
	ID            string
	Position      int
	CategoryID    *string
	ClearCategory bool
}

// UpdateChannelPositions applies a reorder batch in one transaction (spec.md §4.4 "applies it atomically"). The
// whole batch is rejected (spec.md §9 Open Question decision) when any entry names a channel outside the guild or a
// categoryId that is not a category in the same guild.
func (s *Store) UpdateChannelPositions(ctx context.Context, guildID string, updates []ChannelPositionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin channel reorder: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM channels WHERE id = ? AND guild_id = ?`, u.ID, guildID).
			Scan(&count); err != nil {
			return fmt.Errorf("verify channel %s belongs to guild: %w", u.ID, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: channel %s is not in guild %s", ErrConflict, u.ID, guildID)
		}
		if u.CategoryID != nil {
			var catType string
			err := tx.QueryRowContext(ctx, `SELECT type FROM channels WHERE id = ? AND guild_id = ?`,
				*u.CategoryID, guildID).Scan(&catType)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && catType != protocol.ChannelCategory) {
				return fmt.Errorf("%w: %s is not a category in guild %s", ErrConflict, *u.CategoryID, guildID)
			}
			if err != nil {
				return fmt.Errorf("verify category %s: %w", *u.CategoryID, err)
			}
		}
	}

	for _, u := range updates {
		switch {
		case u.ClearCategory:
			_, err = tx.ExecContext(ctx, `UPDATE channels SET position = ?, category_id = NULL WHERE id = ?`,
				u.Position, u.ID)
		case u.CategoryID != nil:
			_, err = tx.ExecContext(ctx, `UPDATE channels SET position = ?, category_id = ? WHERE id = ?`,
				u.Position, *u.CategoryID, u.ID)
		default:
			_, err = tx.ExecContext(ctx, `UPDATE channels SET position = ? WHERE id = ?`, u.Position, u.ID)
		}
		if err != nil {
			return fmt.Errorf("reorder channel %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteChannel removes a channel and returns the uploads that referenced it, so the caller (internal/media) can
// delete the corresponding files from disk (spec.md §4.1 "DeleteChannel ... returns uploads for cleanup").
func (s *Store) DeleteChannel(ctx context.Context, channelID string) ([]protocol.Upload, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete channel: %w", err)
	}
	defer tx.Rollback()

	uploads, err := queryUploads(ctx, tx, `SELECT id, channel_id, author_id, name, size, mime_type, url, created_at
		FROM uploads WHERE channel_id = ?`, channelID)
	if err != nil {
		return nil, fmt.Errorf("collect uploads for channel %s: %w", channelID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE channel_id = ?`, channelID); err != nil {
		return nil, fmt.Errorf("delete upload records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, channelID)
	if err != nil {
		return nil, fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	if err := requireRowsAffected(res); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete channel: %w", err)
	}
	return uploads, nil
}

// GetChannel implements permission.Store.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*permission.ChannelRef, error) {
	c, err := s.GetChannelRecord(ctx, channelID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &permission.ChannelRef{ID: c.ID, CategoryID: c.CategoryID, Overrides: c.Overrides}, nil
}
