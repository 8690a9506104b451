// Package store implements the Persistence Store (spec.md §4.1): a durable embedded relational database with schema
// migration, legacy JSON import, and cascade deletion semantics. It is grounded on the pack's
// small-frappuccino-discordcore sqlite_store.go, which uses modernc.org/sqlite (a pure-Go, CGO-free driver) for
// exactly this "embedded database with WAL + foreign keys" shape that spec.md §4.1 describes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
)

// Sentinel errors for the store package (spec.md §4.1 "Failures").
var (
	ErrNotFound        = errors.New("store: not found")
	ErrConflict        = errors.New("store: conflict")
	ErrInvalidDatabase = errors.New("store: invalid database")
)

// Store wraps an embedded SQLite database holding all per-guild state.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open performs the full bring-up sequence from spec.md §4.1:
//  1. ensure the storage directory exists
//  2. detect a corrupt-or-legacy-JSON database file and back it up
//  3. open the database with WAL + foreign keys
//  4. migrate the schema
//  5. backfill channel positions
//  6. import a legacy JSON export if present and tables are empty
//  7. ensure the node guild (with default channels) exists
//  8. ensure default roles exist
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage directory: %w", err)
	}

	if err := quarantineIfLegacyOrCorrupt(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer semantics (spec.md §4.1 "Concurrency")

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: set pragma %q: %v", ErrInvalidDatabase, pragma, err)
		}
	}

	s := &Store{db: db, log: logger.With().Str("component", "store").Logger()}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.backfillChannelPositions(); err != nil {
		_ = db.Close()
		return nil, err
	}

	empty, err := s.tablesEmpty()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if empty {
		legacyPath := legacyExportPath(path)
		if _, statErr := os.Stat(legacyPath); statErr == nil {
			if err := s.importLegacyJSON(legacyPath); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("import legacy export: %w", err)
			}
		}
	}

	guildID, err := s.ensureNodeGuild()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.ensureDefaultRoles(guildID); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// now is overridable in tests.
var now = time.Now

// quarantineIfLegacyOrCorrupt implements spec.md §4.1 step 2: if the database file exists but is neither empty nor a
// valid SQLite database, and looks like a JSON document, copy it aside as a legacy export and rename the original to
// a timestamped backup so migration can start from a clean file.
func quarantineIfLegacyOrCorrupt(path string, logger zerolog.Logger) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat database file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	head := make([]byte, 16)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open database file for inspection: %w", err)
	}
	n, _ := f.Read(head)
	_ = f.Close()
	head = head[:n]

	if string(head) == "SQLite format 3\x00"[:min(n, 16)] && n >= 16 {
		// Looks like a real SQLite file; let the normal open path validate it further.
		return nil
	}

	looksJSON := false
	for _, b := range head {
		if b == ' ' || b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		looksJSON = b == '{' || b == '['
		break
	}

	if !looksJSON {
		return fmt.Errorf("%w: %s is neither a valid SQLite database nor a recognizable legacy export", ErrInvalidDatabase, path)
	}

	legacyPath := legacyExportPath(path)
	if err := copyFile(path, legacyPath); err != nil {
		return fmt.Errorf("copy legacy export aside: %w", err)
	}

	backupPath := fmt.Sprintf("%s.%d.bak", path, now().Unix())
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("rename corrupt/legacy database to backup: %w", err)
	}

	logger.Warn().Str("legacy_export", legacyPath).Str("backup", backupPath).
		Msg("Detected legacy JSON export in place of the database; quarantined for import")
	return nil
}

func legacyExportPath(dbPath string) string {
	return dbPath + ".legacy.json"
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
