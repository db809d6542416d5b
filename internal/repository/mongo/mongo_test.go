package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/repository"
	"github.com/sakif/community-library/internal/repository/storetest"
)

// These tests need a replica-set MongoDB, e.g.
//
//	MONGO_URI="mongodb://localhost:27017/?replicaSet=rs0" go test ./internal/repository/mongo/
func newTestDB(t *testing.T) *DB {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set; skipping MongoDB tests")
	}

	db, err := New(context.Background(), uri, "library_test_"+xid.New().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Drop(context.Background())
		db.Close()
	})
	return db
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return newTestDB(t) })
}
