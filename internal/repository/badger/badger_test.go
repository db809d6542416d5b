package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/repository"
	"github.com/sakif/community-library/internal/repository/storetest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return newTestDB(t) })
}

func TestViewRejectsWrites(t *testing.T) {
	db := newTestDB(t)
	err := db.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Put(repository.Books, "b1", map[string]string{"title": "x"})
		return err
	})
	require.Error(t, err)
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.Update(ctx, func(tx repository.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
