package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/protkit/internal/config"
	_ "modernc.org/sqlite"
)

// migrations holds one schema step per version; migrations[i] moves the
// database from user_version i to i+1. Append only.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS sessions (
	  id            TEXT PRIMARY KEY,
	  name          TEXT NOT NULL UNIQUE,
	  analysis_json TEXT,
	  created_at    INTEGER NOT NULL,
	  updated_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
	  session_id TEXT NOT NULL,
	  idx        INTEGER NOT NULL,
	  sequence   TEXT NOT NULL,
	  task_json  TEXT NOT NULL,
	  PRIMARY KEY (session_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated
	ON sessions(updated_at DESC);
	`,
}

// CurrentSchemaVersion is the latest schema version.
var CurrentSchemaVersion = len(migrations)

// Init opens (creating if needed) baseDir/protkit.db and brings its schema up
// to date. baseDir and baseDir/exports are created private to the user.
// Tests pass t.TempDir() as baseDir.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		// MkdirAll leaves existing directories alone
		_ = os.Chmod(dir, 0700)
	}

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, "protkit.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := checkJournalMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)
	return db, nil
}

// ConfigurePool applies the pool sizes set in cfg. Zero values keep the
// database/sql defaults.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate runs every step above the stored user_version, each in its own
// transaction together with the version bump.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}

// checkJournalMode fails unless the DSN pragma switched the database to WAL.
func checkJournalMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the stored schema version.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion overwrites the stored schema version.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
