// Package storetest is a conformance suite every repository.Store backend
// runs from its own tests:
//
//	func TestStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) repository.Store { return newTestDB(t) })
//	}
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/repository"
)

type doc struct {
	Name  string  `json:"name"  bson:"name"`
	Count int64   `json:"count" bson:"count"`
	Tags  []int64 `json:"tags"  bson:"tags"`
}

// Run executes the suite. open must return a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) repository.Store) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, open(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("VersionsIncrease", func(t *testing.T) { testVersionsIncrease(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Scan", func(t *testing.T) { testScan(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, open(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, open(t)) })
}

func put(t *testing.T, s repository.Store, collection, id string, d doc) int64 {
	t.Helper()
	var version int64
	err := s.Update(context.Background(), func(tx repository.Tx) error {
		var err error
		version, err = tx.Put(collection, id, &d)
		return err
	})
	require.NoError(t, err)
	return version
}

func testPutThenGet(t *testing.T, s repository.Store) {
	want := doc{Name: "Dune", Count: 3, Tags: []int64{1, 2, 3}}
	version := put(t, s, repository.Books, "b1", want)
	assert.Positive(t, version)

	var got doc
	err := s.View(context.Background(), func(tx repository.Tx) error {
		v, err := tx.Get(repository.Books, "b1", &got)
		assert.Equal(t, version, v)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testGetMissing(t *testing.T, s repository.Store) {
	err := s.View(context.Background(), func(tx repository.Tx) error {
		var d doc
		_, err := tx.Get(repository.Books, "nope", &d)
		return err
	})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "want NotFound, got %v", err)
}

func testVersionsIncrease(t *testing.T, s repository.Store) {
	v1 := put(t, s, repository.Users, "u1", doc{Name: "a"})
	v2 := put(t, s, repository.Users, "u1", doc{Name: "b"})
	assert.Greater(t, v2, v1)
}

func testDelete(t *testing.T, s repository.Store) {
	version := put(t, s, repository.Copies, "7", doc{Name: "copy"})

	err := s.Update(context.Background(), func(tx repository.Tx) error {
		v, err := tx.Delete(repository.Copies, "7")
		assert.Equal(t, version, v)
		return err
	})
	require.NoError(t, err)

	err = s.Update(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Delete(repository.Copies, "7")
		return err
	})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "second delete: want NotFound, got %v", err)
}

func testScan(t *testing.T, s repository.Store) {
	put(t, s, repository.Requests, "r1", doc{Name: "one"})
	put(t, s, repository.Requests, "r2", doc{Name: "two"})
	put(t, s, repository.Books, "b1", doc{Name: "other collection"})

	var names []string
	err := s.View(context.Background(), func(tx repository.Tx) error {
		return tx.Scan(repository.Requests, func(id string, version int64, decode repository.DecodeFunc) error {
			var d doc
			if err := decode(&d); err != nil {
				return err
			}
			assert.Positive(t, version)
			names = append(names, id+":"+d.Name)
			return nil
		})
	})
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"r1:one", "r2:two"}, names)
}

func testRollbackOnError(t *testing.T, s repository.Store) {
	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx repository.Tx) error {
		if _, err := tx.Put(repository.Books, "b1", &doc{Name: "half"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(context.Background(), func(tx repository.Tx) error {
		var d doc
		_, err := tx.Get(repository.Books, "b1", &d)
		return err
	})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "rolled back write is visible: %v", err)
}

// Read-increment-write inside Update must never lose an increment.
func testConcurrentIncrements(t *testing.T, s repository.Store) {
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(context.Background(), func(tx repository.Tx) error {
				var c doc
				if _, err := tx.Get(repository.Counters, "n", &c); err != nil && !errors.Is(err, apperror.ErrNotFound) {
					return err
				}
				c.Count++
				_, err := tx.Put(repository.Counters, "n", &c)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var c doc
	err := s.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Get(repository.Counters, "n", &c)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(workers), c.Count)
}
