package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// MaxMessageContentLength is the hard cap on message content (spec.md §3).
const MaxMessageContentLength = 2000

// ErrMessageTooLong is returned when content exceeds MaxMessageContentLength.
var ErrMessageTooLong = errors.New("store: message content exceeds maximum length")

// CreateMessageParams are the caller-supplied fields for a new message.
type CreateMessageParams struct {
	ChannelID   string
	AuthorID    string
	Content     string
	Attachments []protocol.Attachment
	ReplyToID   *string
}

// CreateMessage inserts a message.
func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (*protocol.Message, error) {
	if utf8.RuneCountInString(p.Content) > MaxMessageContentLength {
		return nil, ErrMessageTooLong
	}

	attachmentsJSON, err := json.Marshal(p.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	m := protocol.Message{
		ID:          newID(),
		ChannelID:   p.ChannelID,
		AuthorID:    p.AuthorID,
		Content:     p.Content,
		Attachments: p.Attachments,
		ReplyToID:   p.ReplyToID,
		CreatedAt:   time.Unix(nowUnix(), 0).UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, content, attachments, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.AuthorID, m.Content, string(attachmentsJSON), m.ReplyToID, m.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &m, nil
}

func scanMessage(row interface{ Scan(dest ...any) error }) (*protocol.Message, error) {
	var m protocol.Message
	var attachmentsJSON string
	var replyToID sql.NullString
	var editedAt sql.NullInt64
	var createdAt int64

	if err := row.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &attachmentsJSON, &replyToID, &editedAt, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &m.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments for message %s: %w", m.ID, err)
	}
	if replyToID.Valid {
		v := replyToID.String
		m.ReplyToID = &v
	}
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &m, nil
}

const messageSelectColumns = `id, channel_id, author_id, content, attachments, reply_to_id, edited_at, created_at`

// GetMessage returns a single message.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*protocol.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageSelectColumns+` FROM messages WHERE id = ?`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return m, nil
}

// ListMessages returns up to limit messages in channelID, most recent first, optionally paginated before a message
// id (spec.md §6 "message history, cursor-paginated").
func (s *Store) ListMessages(ctx context.Context, channelID string, before *string, limit int) ([]protocol.Message, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageSelectColumns+` FROM messages
			WHERE channel_id = ? AND created_at < (SELECT created_at FROM messages WHERE id = ?)
			ORDER BY created_at DESC LIMIT ?`, channelID, *before, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageSelectColumns+` FROM messages
			WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?`, channelID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// DeleteMessage removes a message and its attachment uploads, and clears any reply pointers that referenced it
// (spec.md §4.1 "deleteMessage"). Reply pointers are cleared, not cascaded: a reply to a deleted message survives
// with ReplyToID nil. Returns the removed message (with its attachments) so the caller can delete the underlying
// files from disk.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) (*protocol.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete message: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+messageSelectColumns+` FROM messages WHERE id = ?`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s for delete: %w", messageID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reply_to_id = NULL WHERE reply_to_id = ?`, messageID); err != nil {
		return nil, fmt.Errorf("clear reply pointers to message %s: %w", messageID, err)
	}

	for _, a := range m.Attachments {
		if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ? OR url = ?`, a.ID, a.URL); err != nil {
			return nil, fmt.Errorf("delete upload for attachment %s: %w", a.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return nil, fmt.Errorf("delete message %s: %w", messageID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete message: %w", err)
	}
	return m, nil
}
