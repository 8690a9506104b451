package store

import (
	"context"
	"fmt"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// PurgeUser removes every trace of a user from the guild: membership, messages, and uploaded files (spec.md §4.1
// "PurgeUser"), used by account deletion propagated from the identity authority. Returns the uploads so the caller
// can delete the underlying files from disk.
func (s *Store) PurgeUser(ctx context.Context, guildID, userID string) ([]protocol.Upload, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge user: %w", err)
	}
	defer tx.Rollback()

	uploads, err := queryUploads(ctx, tx,
		`SELECT id, channel_id, author_id, name, size, mime_type, url, created_at FROM uploads WHERE author_id = ?`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("collect uploads for user %s: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE author_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete uploads for user %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE author_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete messages for user %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return nil, fmt.Errorf("delete membership for user %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete profile for user %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge user: %w", err)
	}
	return uploads, nil
}
