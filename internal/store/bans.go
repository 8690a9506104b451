package store

import (
	"context"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// CreateBan records a ban (spec.md §4.7 moderation). Idempotent: re-banning an already-banned user updates the
// reason and actor rather than erroring.
func (s *Store) CreateBan(ctx context.Context, userID, reason, bannedBy string) (*protocol.Ban, error) {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (user_id, reason, banned_by, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET reason = excluded.reason, banned_by = excluded.banned_by`,
		userID, reason, bannedBy, now)
	if err != nil {
		return nil, fmt.Errorf("create ban for %s: %w", userID, err)
	}
	return &protocol.Ban{UserID: userID, Reason: reason, BannedAt: time.Unix(now, 0).UTC()}, nil
}

// IsBanned reports whether userID is currently banned (spec.md §4.6 "ban check on every connect and request").
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bans WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("check ban for %s: %w", userID, err)
	}
	return count > 0, nil
}

// ListBans returns every ban.
func (s *Store) ListBans(ctx context.Context) ([]protocol.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, reason, created_at FROM bans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var bans []protocol.Ban
	for rows.Next() {
		var b protocol.Ban
		var createdAt int64
		if err := rows.Scan(&b.UserID, &b.Reason, &createdAt); err != nil {
			return nil, err
		}
		b.BannedAt = time.Unix(createdAt, 0).UTC()
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// RemoveBan lifts a ban.
func (s *Store) RemoveBan(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("remove ban for %s: %w", userID, err)
	}
	return requireRowsAffected(res)
}
