package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// Default settings values (spec.md §3 "Settings"), used whenever a meta key has never been written.
const (
	defaultAuditMaxEntries   = 1000
	defaultTimeoutMaxMinutes = 40320 // 28 days, Discord's own cap, carried as a sane default
)

const (
	metaKeyAuditMaxEntries   = "settings.audit_max_entries"
	metaKeyTimeoutMaxMinutes = "settings.timeout_max_minutes"
)

// GetSettings returns the singleton settings record, falling back to defaults for any key never written.
func (s *Store) GetSettings(ctx context.Context) (protocol.Settings, error) {
	return s.getSettingsTx(ctx, s.db)
}

// metaQuerier is satisfied by *sql.DB and *sql.Tx.
type metaQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getSettingsTx(ctx context.Context, q metaQuerier) (protocol.Settings, error) {
	settings := protocol.Settings{AuditMaxEntries: defaultAuditMaxEntries, TimeoutMaxMinutes: defaultTimeoutMaxMinutes}

	if v, ok, err := readMetaInt(ctx, q, metaKeyAuditMaxEntries); err != nil {
		return settings, err
	} else if ok {
		settings.AuditMaxEntries = v
	}
	if v, ok, err := readMetaInt(ctx, q, metaKeyTimeoutMaxMinutes); err != nil {
		return settings, err
	} else if ok {
		settings.TimeoutMaxMinutes = v
	}
	return settings, nil
}

func readMetaInt(ctx context.Context, q metaQuerier, key string) (int, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read setting %s: %w", key, err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse setting %s: %w", key, err)
	}
	return v, true, nil
}

// UpdateSettings applies a sparse patch to the singleton settings record.
func (s *Store) UpdateSettings(ctx context.Context, auditMaxEntries, timeoutMaxMinutes *int) error {
	if auditMaxEntries != nil {
		if err := s.writeMetaInt(ctx, metaKeyAuditMaxEntries, *auditMaxEntries); err != nil {
			return err
		}
	}
	if timeoutMaxMinutes != nil {
		if err := s.writeMetaInt(ctx, metaKeyTimeoutMaxMinutes, *timeoutMaxMinutes); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeMetaInt(ctx context.Context, key string, value int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, strconv.Itoa(value))
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
