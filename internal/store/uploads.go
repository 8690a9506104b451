package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting query helpers run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryUploads(ctx context.Context, q querier, query string, args ...any) ([]protocol.Upload, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []protocol.Upload
	for rows.Next() {
		var u protocol.Upload
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.ChannelID, &u.AuthorID, &u.Name, &u.Size, &u.MimeType, &u.URL, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// CreateUpload records a stored file (spec.md §3 Upload). The file itself is written to disk by internal/media
// before this is called.
func (s *Store) CreateUpload(ctx context.Context, u protocol.Upload) (*protocol.Upload, error) {
	u.ID = newID()
	u.CreatedAt = time.Unix(nowUnix(), 0).UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (id, channel_id, author_id, name, size, mime_type, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ChannelID, u.AuthorID, u.Name, u.Size, u.MimeType, u.URL, u.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}
	return &u, nil
}

// GetUpload returns a single upload by id.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (*protocol.Upload, error) {
	var u protocol.Upload
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, author_id, name, size, mime_type, url, created_at FROM uploads WHERE id = ?`, uploadID).
		Scan(&u.ID, &u.ChannelID, &u.AuthorID, &u.Name, &u.Size, &u.MimeType, &u.URL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload %s: %w", uploadID, err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// DeleteUpload removes an upload record. The caller is responsible for deleting the underlying file.
func (s *Store) DeleteUpload(ctx context.Context, uploadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID)
	if err != nil {
		return fmt.Errorf("delete upload %s: %w", uploadID, err)
	}
	return requireRowsAffected(res)
}
