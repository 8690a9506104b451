package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// UpsertProfile creates or refreshes the cached profile for a user resolved via the identity authority (spec.md §3:
// profiles mirror the authority's view of a user, refreshed opportunistically on resolution).
func (s *Store) UpsertProfile(ctx context.Context, p protocol.Profile) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, email, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, email = excluded.email,
			last_seen_at = excluded.last_seen_at`,
		p.ID, p.Username, p.Email, now, now)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfile returns the cached profile for a user, or ErrNotFound if never seen.
func (s *Store) GetProfile(ctx context.Context, userID string) (*protocol.Profile, error) {
	var p protocol.Profile
	var createdAt int64
	var lastSeen sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at, last_seen_at FROM profiles WHERE id = ?`, userID).
		Scan(&p.ID, &p.Username, &p.Email, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0).UTC()
		p.LastSeenAt = &t
	}
	return &p, nil
}

// GetProfiles batch-loads profiles for the given ids, skipping any that are not cached yet.
func (s *Store) GetProfiles(ctx context.Context, userIDs []string) (map[string]protocol.Profile, error) {
	result := make(map[string]protocol.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	query, args := inClause(`SELECT id, username, email, created_at FROM profiles WHERE id IN (%s)`, userIDs)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch get profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p protocol.Profile
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		result[p.ID] = p
	}
	return result, rows.Err()
}

// inClause builds a query with a `?` placeholder per id, substituted into the %s in query.
func inClause(query string, ids []string) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	return fmt.Sprintf(query, placeholders), args
}
