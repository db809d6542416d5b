// Package sqlite implements repository.Store on top of SQLite. It is the
// default backend: a single file, no server to run.
//
// DOCUMENTS IN A RELATIONAL TABLE:
// The library data is document shaped (a user carries its borrow records,
// notifications and history inline), so instead of normalising it we keep one
// table:
//
//	documents(collection, id, version, body, updated_at)
//
// body is the JSON encoding of the model struct. Queries never look inside
// body; lookups are always by (collection, id).
//
// ONE CONNECTION:
// database/sql is a pool. With SQLite every connection to ":memory:" is a
// separate empty database, and concurrent writers on a file only get
// SQLITE_BUSY back. We cap the pool at one connection, so transactions run
// strictly one after another. That serialisation is what makes the copy-id
// counter and the exclusive-holder check safe.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C toolchain is
// needed to build.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/community-library/internal/repository"

	// The blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool capped at one connection.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database and runs migrations.
//
// dbPath examples:
//   - "data/library.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers outside this process (backups, sqlite3 shell) work
	// while the server writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the documents table. Later columns are added with
// addColumnIfNotExists so databases created by older builds keep working.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			body       TEXT    NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	if err := db.addColumnIfNotExists("documents", "updated_at",
		"DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"); err != nil {
		return fmt.Errorf("adding updated_at to documents: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// Update runs fn inside a read-write transaction. Any error from fn rolls the
// transaction back and is returned unchanged, so apperror kinds survive.
func (db *DB) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	return db.run(ctx, fn, true)
}

// View runs fn inside a transaction that is always rolled back.
func (db *DB) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return db.run(ctx, fn, false)
}

func (db *DB) run(ctx context.Context, fn func(tx repository.Tx) error, commit bool) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(&tx{ctx: ctx, sqlTx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if !commit {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}
