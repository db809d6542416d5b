// Package badger implements repository.Store on an embedded Badger key-value
// database.
//
// Keys are "collection/id"; values are a small JSON envelope holding the
// version and the document body. Badger transactions are optimistic: a commit
// that raced with another writer fails with badger.ErrConflict, and Update
// re-runs the callback on a fresh transaction.
package badger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sakif/community-library/internal/metrics"
	"github.com/sakif/community-library/internal/repository"
)

// MaxAttempts bounds how often Update re-runs a conflicting transaction.
const MaxAttempts = 50

// maxBackoff caps the jittered pause between attempts.
const maxBackoff = 25 * time.Millisecond

var _ repository.Store = (*DB)(nil)

type DB struct {
	db *badger.DB
}

// New opens a Badger database under dir. An empty dir opens an in-memory
// database (used by tests).
func New(dir string) (*DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening %q: %w", dir, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Update runs fn in a read-write transaction, retrying on write conflicts.
func (d *DB) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = d.attempt(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		metrics.StoreConflictRetries.WithLabelValues("badger").Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return fmt.Errorf("badger: giving up after %d conflicting attempts: %w", MaxAttempts, err)
}

// backoff grows linearly with jitter so writers that collided once do not
// collide again in lockstep.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * time.Millisecond
	if base > maxBackoff {
		base = maxBackoff
	}
	return base + rand.N(base+time.Millisecond)
}

func (d *DB) attempt(fn func(tx repository.Tx) error) error {
	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&tx{txn: txn}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		return fmt.Errorf("badger: committing: %w", err)
	}
	return nil
}

// View runs fn against a read-only snapshot.
func (d *DB) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn, readOnly: true})
	})
}
