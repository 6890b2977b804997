// Package state implements the installed-package database on SQLite.
package state

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

const schemaVersion = "1"

const schema = `
PRAGMA foreign_keys = ON;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS packages (
	name TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	release INTEGER NOT NULL,
	arch TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	homepage TEXT NOT NULL DEFAULT '',
	license TEXT NOT NULL DEFAULT '',
	requires TEXT NOT NULL DEFAULT '[]',
	provides TEXT NOT NULL DEFAULT '[]',
	conflicts TEXT NOT NULL DEFAULT '[]',
	obsoletes TEXT NOT NULL DEFAULT '[]',
	recommends TEXT NOT NULL DEFAULT '[]',
	suggests TEXT NOT NULL DEFAULT '[]',
	repo TEXT NOT NULL DEFAULT '',
	explicit INTEGER NOT NULL DEFAULT 0,
	install_time INTEGER NOT NULL,
	manifest_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	manifest_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	mode INTEGER NOT NULL,
	uid INTEGER NOT NULL,
	gid INTEGER NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	sha256 TEXT NOT NULL DEFAULT '',
	link_target TEXT NOT NULL DEFAULT '',
	keep INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS files_manifest ON files(manifest_id);
CREATE INDEX IF NOT EXISTS files_path ON files(path);
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	old_version TEXT NOT NULL DEFAULT '',
	new_version TEXT NOT NULL DEFAULT '',
	snapshot_id INTEGER NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	archive TEXT NOT NULL,
	paths TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS provides_index (
	capability TEXT NOT NULL,
	name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS provides_capability ON provides_index(capability);
CREATE TABLE IF NOT EXISTS pins (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	"constraint" TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '` + schemaVersion + `');
`

// DB is the SQLite-backed StateDB.
type DB struct {
	Logger ports.Logger
	db     *sql.DB
}

// Open creates or opens the database under the target root's state
// directory and applies the schema.
func Open(log ports.Logger, cfg domain.Config) (*DB, error) {
	layout := domain.NewLayout(cfg.Root)
	if err := os.MkdirAll(filepath.Dir(layout.DBFile()), domain.DirPerm); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}

	db, err := sql.Open("sqlite3", layout.DBFile()+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return &DB{Logger: log, db: db}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	return nil
}

var _ ports.StateDB = (*DB)(nil)
