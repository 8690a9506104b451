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

// EnsureMember creates a membership record the first time a resolved identity is seen in the guild, a no-op if one
// already exists (spec.md §4.1: "joining" a node's single guild happens implicitly on first authenticated contact).
func (s *Store) EnsureMember(ctx context.Context, guildID, userID string) (*protocol.Member, bool, error) {
	existing, err := s.getMemberRecord(ctx, guildID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	m := protocol.Member{
		GuildID:  guildID,
		UserID:   userID,
		RoleIDs:  []string{},
		JoinedAt: time.Unix(nowUnix(), 0).UTC(),
	}
	roleIDsJSON, _ := json.Marshal(m.RoleIDs)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO members (guild_id, user_id, nickname, role_ids, joined_at) VALUES (?, ?, '', ?, ?)`,
		guildID, userID, string(roleIDsJSON), m.JoinedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("insert member %s/%s: %w", guildID, userID, err)
	}
	return &m, true, nil
}

func (s *Store) getMemberRecord(ctx context.Context, guildID, userID string) (*protocol.Member, error) {
	var m protocol.Member
	var nickname, roleIDsJSON string
	var joinedAt int64
	var timeoutUntil sql.NullInt64
	var voiceMuted, voiceDeafened int

	err := s.db.QueryRowContext(ctx, `
		SELECT nickname, role_ids, joined_at, timeout_until, voice_muted, voice_deafened
		FROM members WHERE guild_id = ? AND user_id = ?`, guildID, userID).
		Scan(&nickname, &roleIDsJSON, &joinedAt, &timeoutUntil, &voiceMuted, &voiceDeafened)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s/%s: %w", guildID, userID, err)
	}

	var roleIDs []string
	if err := json.Unmarshal([]byte(roleIDsJSON), &roleIDs); err != nil {
		return nil, fmt.Errorf("decode role ids for member %s/%s: %w", guildID, userID, err)
	}

	m.GuildID = guildID
	m.UserID = userID
	m.Nickname = nickname
	m.RoleIDs = roleIDs
	m.JoinedAt = time.Unix(joinedAt, 0).UTC()
	m.VoiceMuted = voiceMuted != 0
	m.VoiceDeafened = voiceDeafened != 0
	if timeoutUntil.Valid {
		t := time.Unix(timeoutUntil.Int64, 0).UTC()
		m.TimeoutUntil = &t
	}
	return &m, nil
}

// GetMemberRecord is the public form of getMemberRecord, returning ErrNotFound for a non-member.
func (s *Store) GetMemberRecord(ctx context.Context, guildID, userID string) (*protocol.Member, error) {
	return s.getMemberRecord(ctx, guildID, userID)
}

// ListMembers returns every member of the guild.
func (s *Store) ListMembers(ctx context.Context, guildID string) ([]protocol.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM members WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members := make([]protocol.Member, 0, len(userIDs))
	for _, id := range userIDs {
		m, err := s.getMemberRecord(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, nil
}

// SetNickname updates a member's nickname.
func (s *Store) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET nickname = ? WHERE guild_id = ? AND user_id = ?`,
		nickname, guildID, userID)
	if err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return requireRowsAffected(res)
}

// SetMemberRoles replaces a member's role set wholesale (spec.md §6 "set member roles").
func (s *Store) SetMemberRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	roleIDsJSON, err := json.Marshal(roleIDs)
	if err != nil {
		return fmt.Errorf("encode role ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE members SET role_ids = ? WHERE guild_id = ? AND user_id = ?`,
		string(roleIDsJSON), guildID, userID)
	if err != nil {
		return fmt.Errorf("set member roles: %w", err)
	}
	return requireRowsAffected(res)
}

// SetTimeout sets or clears (nil) a member's timeout expiry.
func (s *Store) SetTimeout(ctx context.Context, guildID, userID string, until *time.Time) error {
	var val any
	if until != nil {
		val = until.Unix()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE members SET timeout_until = ? WHERE guild_id = ? AND user_id = ?`,
		val, guildID, userID)
	if err != nil {
		return fmt.Errorf("set timeout: %w", err)
	}
	return requireRowsAffected(res)
}

// SetVoiceState updates a member's server-side mute/deafen flags (spec.md §6 "mute/deafen member").
func (s *Store) SetVoiceState(ctx context.Context, guildID, userID string, muted, deafened bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET voice_muted = ?, voice_deafened = ? WHERE guild_id = ? AND user_id = ?`,
		boolToInt(muted), boolToInt(deafened), guildID, userID)
	if err != nil {
		return fmt.Errorf("set voice state: %w", err)
	}
	return requireRowsAffected(res)
}

// RemoveMember deletes a membership record (kick). Does not delete the user's messages.
func (s *Store) RemoveMember(ctx context.Context, guildID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return requireRowsAffected(res)
}

// GetMember implements permission.Store.
func (s *Store) GetMember(ctx context.Context, guildID, userID string) (*permission.MemberRef, error) {
	m, err := s.getMemberRecord(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &permission.MemberRef{RoleIDs: m.RoleIDs, TimeoutUntil: m.TimeoutUntil}, nil
}
