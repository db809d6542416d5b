package sqlite

import (
	"context"
	"testing"

	"github.com/sakif/community-library/internal/repository"
	"github.com/sakif/community-library/internal/repository/storetest"
)

// newTestDB opens a fresh in-memory database and closes it when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return newTestDB(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}

	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('documents') WHERE name = 'updated_at'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("pragma_table_info error = %v", err)
	}
	if count != 1 {
		t.Errorf("updated_at columns = %d, want 1", count)
	}
}

func TestFileDatabaseSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/library.db"

	db, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = db.Update(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Put(repository.Requests, "r1", map[string]string{"requestText": "more sci-fi"})
		return err
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	var got map[string]string
	err = db.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Get(repository.Requests, "r1", &got)
		return err
	})
	if err != nil {
		t.Fatalf("Get after reopen error = %v", err)
	}
	if got["requestText"] != "more sci-fi" {
		t.Errorf("requestText = %q", got["requestText"])
	}
}
