// Package mirror keeps an in-process copy of the store's collections so
// catalog reads never touch the store.
//
// CONTRACT:
//   - The store is the source of truth. Services write to the store first and
//     call Apply with the committed change set afterwards; the mirror is never
//     updated for a write that did not commit.
//   - Every change carries the document version assigned by the store. Apply
//     ignores a change that is not newer than what the mirror holds, so two
//     commits applied in the wrong order cannot roll a document back.
//   - Deletes leave a tombstone until the next Refresh so a late, older Put for
//     the same id cannot resurrect the document.
//   - Refresh reloads a snapshot and merges it: entries applied while the
//     snapshot was being read win over the snapshot unless the snapshot holds a
//     newer version.
//   - Reads return deep copies.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sakif/community-library/internal/metrics"
	"github.com/sakif/community-library/internal/model"
	"github.com/sakif/community-library/internal/repository"
)

// Change is one committed document write.
type Change struct {
	Collection string
	ID         string
	Version    int64
	Doc        any // model value (not pointer); nil when Deleted
	Deleted    bool
}

type entry[T any] struct {
	version int64
	applied int64 // mirror sequence number at which this entry was written
	deleted bool
	doc     T
}

// Collection is the cached view of one store collection.
type Collection[T any] struct {
	name  string
	mu    *sync.RWMutex
	items map[string]entry[T]
	clone func(T) T
}

func newCollection[T any](name string, mu *sync.RWMutex, clone func(T) T) *Collection[T] {
	return &Collection[T]{name: name, mu: mu, items: make(map[string]entry[T]), clone: clone}
}

// Get returns a copy of the document with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[id]
	if !ok || e.deleted {
		var zero T
		return zero, false
	}
	return c.clone(e.doc), true
}

// All returns copies of every live document, ordered by id.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.items))
	for id, e := range c.items {
		if !e.deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.clone(c.items[id].doc))
	}
	return out
}

// Len counts live documents.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveLocked()
}

func (c *Collection[T]) liveLocked() int {
	n := 0
	for _, e := range c.items {
		if !e.deleted {
			n++
		}
	}
	return n
}

// put stores doc if version is newer than the cached entry. Caller holds mu.
func (c *Collection[T]) put(id string, version, seq int64, doc T) bool {
	if cur, ok := c.items[id]; ok && cur.version >= version {
		return false
	}
	c.items[id] = entry[T]{version: version, applied: seq, doc: c.clone(doc)}
	return true
}

// remove writes a tombstone if version is newer than the cached entry.
func (c *Collection[T]) remove(id string, version, seq int64) bool {
	if cur, ok := c.items[id]; ok && cur.version >= version {
		return false
	}
	c.items[id] = entry[T]{version: version, applied: seq, deleted: true}
	return true
}

// merge folds a freshly read snapshot into the collection. Entries applied at
// or after startSeq may be newer than the snapshot and are kept unless the
// snapshot has a higher version; everything older is replaced by the snapshot.
func (c *Collection[T]) merge(snapshot map[string]entry[T], startSeq int64) {
	next := make(map[string]entry[T], len(snapshot))
	for id, s := range snapshot {
		next[id] = s
	}
	for id, cur := range c.items {
		if cur.applied < startSeq {
			continue
		}
		if s, ok := snapshot[id]; ok && s.version > cur.version {
			continue
		}
		next[id] = cur
	}
	c.items = next
}

// Mirror holds the four cached collections.
type Mirror struct {
	mu sync.RWMutex

	Users    *Collection[model.User]
	Books    *Collection[model.Book]
	Copies   *Collection[model.Copy]
	Requests *Collection[model.Request]

	store     repository.Store
	logger    *slog.Logger
	seq       atomic.Int64
	refreshMu sync.Mutex
}

// New returns an empty mirror over store. Call Refresh to fill it.
func New(store repository.Store, logger *slog.Logger) *Mirror {
	m := &Mirror{store: store, logger: logger}
	m.Users = newCollection(repository.Users, &m.mu, model.User.Clone)
	m.Books = newCollection(repository.Books, &m.mu, model.Book.Clone)
	m.Copies = newCollection(repository.Copies, &m.mu, model.Copy.Clone)
	m.Requests = newCollection(repository.Requests, &m.mu, model.Request.Clone)
	return m
}

// Apply records committed changes. Changes to collections the mirror does not
// cache (counters) are ignored.
func (m *Mirror) Apply(changes []Change) {
	if len(changes) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range changes {
		seq := m.seq.Add(1)
		switch ch.Collection {
		case repository.Users:
			applyChange(m.Users, ch, seq)
		case repository.Books:
			applyChange(m.Books, ch, seq)
		case repository.Copies:
			applyChange(m.Copies, ch, seq)
		case repository.Requests:
			applyChange(m.Requests, ch, seq)
		}
	}
	m.updateGaugesLocked()
}

func applyChange[T any](c *Collection[T], ch Change, seq int64) {
	if ch.Deleted {
		c.remove(ch.ID, ch.Version, seq)
		return
	}
	doc, ok := ch.Doc.(T)
	if !ok {
		return
	}
	c.put(ch.ID, ch.Version, seq, doc)
}

// Refresh reloads every collection from the store.
func (m *Mirror) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	startSeq := m.seq.Add(1)

	users := make(map[string]entry[model.User])
	books := make(map[string]entry[model.Book])
	copies := make(map[string]entry[model.Copy])
	requests := make(map[string]entry[model.Request])

	err := m.store.View(ctx, func(tx repository.Tx) error {
		if err := scanInto(tx, repository.Users, users); err != nil {
			return err
		}
		if err := scanInto(tx, repository.Books, books); err != nil {
			return err
		}
		if err := scanInto(tx, repository.Copies, copies); err != nil {
			return err
		}
		return scanInto(tx, repository.Requests, requests)
	})
	if err != nil {
		metrics.MirrorRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("refreshing mirror: %w", err)
	}

	m.mu.Lock()
	m.Users.merge(users, startSeq)
	m.Books.merge(books, startSeq)
	m.Copies.merge(copies, startSeq)
	m.Requests.merge(requests, startSeq)
	m.updateGaugesLocked()
	m.mu.Unlock()

	metrics.MirrorRefreshes.WithLabelValues("ok").Inc()
	m.logger.Debug("mirror refreshed",
		slog.Int("users", len(users)),
		slog.Int("books", len(books)),
		slog.Int("copies", len(copies)),
		slog.Int("requests", len(requests)),
	)
	return nil
}

func scanInto[T any](tx repository.Tx, collection string, dst map[string]entry[T]) error {
	return tx.Scan(collection, func(id string, version int64, decode repository.DecodeFunc) error {
		var doc T
		if err := decode(&doc); err != nil {
			return err
		}
		dst[id] = entry[T]{version: version, doc: doc}
		return nil
	})
}

func (m *Mirror) updateGaugesLocked() {
	metrics.MirrorDocuments.WithLabelValues(repository.Users).Set(float64(m.Users.liveLocked()))
	metrics.MirrorDocuments.WithLabelValues(repository.Books).Set(float64(m.Books.liveLocked()))
	metrics.MirrorDocuments.WithLabelValues(repository.Copies).Set(float64(m.Copies.liveLocked()))
	metrics.MirrorDocuments.WithLabelValues(repository.Requests).Set(float64(m.Requests.liveLocked()))
}
