// Package repository defines the document-store contract every backend
// implements (sqlite, badger, mongo).
//
// THE MODEL:
// The store holds a handful of named collections. Each collection maps a
// string id to one document. Documents are whole values: a write replaces the
// document, it never patches a field. All multi-document changes go through
// Update, which runs a callback inside ONE transaction:
//
//	err := store.Update(ctx, func(tx repository.Tx) error {
//	    var book model.Book
//	    if _, err := tx.Get(repository.Books, id, &book); err != nil {
//	        return err
//	    }
//	    book.Copies++
//	    _, err := tx.Put(repository.Books, id, &book)
//	    return err
//	})
//
// RETRIES:
// Optimistic backends (badger, mongo) may run the callback more than once
// when a concurrent transaction touched the same keys. The callback must not
// have side effects outside the Tx; publish events and update caches only
// after Update returns nil.
//
// VERSIONS:
// Every Put stamps the document with a version from NextVersion. The mirror
// uses versions to decide which of two writes is newer.
package repository

import (
	"context"
	"time"
)

// Collection names.
const (
	Users    = "users"
	Books    = "books"
	Copies   = "copies"
	Requests = "requests"
	Counters = "counters"
)

// Collections lists every collection a backend must be able to hold.
var Collections = []string{Users, Books, Copies, Requests, Counters}

// DecodeFunc decodes the current document into dst.
type DecodeFunc func(dst any) error

// Tx is a single store transaction.
type Tx interface {
	// Get decodes the document into dst and returns its version.
	// A missing document yields apperror.NotFound.
	Get(collection, id string, dst any) (int64, error)

	// Put creates or replaces the document and returns the new version.
	Put(collection, id string, doc any) (int64, error)

	// Delete removes the document and returns the version it had.
	// A missing document yields apperror.NotFound.
	Delete(collection, id string) (int64, error)

	// Scan calls fn for every document in the collection. Order is unspecified.
	Scan(collection string, fn func(id string, version int64, decode DecodeFunc) error) error
}

// Store is a transactional document store.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// NextVersion returns the version for a document whose previous version was
// prev (0 when new). Versions follow the wall clock in nanoseconds but never
// go backwards for a single document, so a document deleted and created again
// still gets a higher version than its tombstone.
func NextVersion(prev int64) int64 {
	now := time.Now().UnixNano()
	if now <= prev {
		return prev + 1
	}
	return now
}

// Resource returns the singular noun used in error messages for a collection.
func Resource(collection string) string {
	switch collection {
	case Users:
		return "user"
	case Books:
		return "book"
	case Copies:
		return "copy"
	case Requests:
		return "request"
	case Counters:
		return "counter"
	default:
		return collection
	}
}
