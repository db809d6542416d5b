// Package service contains the library's business rules.
//
// THE WRITE PATH:
// Every operation that changes state goes through Backend.write:
//
//	1. open one store transaction (repository.Store.Update)
//	2. read the documents it needs FROM THE STORE, check preconditions,
//	   write the new versions; a unitOfWork records each write
//	3. commit
//	4. apply the recorded changes to the mirror
//	5. publish domain events
//
// Steps 4 and 5 run only after a successful commit, so the mirror and
// subscribers never see a write the store does not have. If the backend
// retries the transaction (badger/mongo write conflicts) the unitOfWork is
// rebuilt from scratch for the new attempt.
//
// READS:
// Catalog-style reads come from the mirror. Write preconditions never do.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/events"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/model"
	"github.com/sakif/community-library/internal/repository"
)

// Backend bundles what every service needs. It is passed by value into each
// NewXxxService constructor.
type Backend struct {
	Store  repository.Store
	Mirror *mirror.Mirror
	Events events.Publisher
	Logger *slog.Logger

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (b Backend) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Services is the full set of services sharing one Backend.
type Services struct {
	Books         *BookService
	Catalog       *CatalogService
	Loans         *LoanService
	Users         *UserService
	Notifications *NotificationService
	Feedback      *FeedbackService
	Requests      *RequestService
	Reports       *ReportService
	Integrity     *IntegrityService
}

// New wires every service. recommender and mailer may be nil.
func New(b Backend, recommender Recommender, mailer Mailer) *Services {
	if b.Events == nil {
		b.Events = events.Nop{}
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	return &Services{
		Books:         NewBookService(b),
		Catalog:       NewCatalogService(b, recommender),
		Loans:         NewLoanService(b),
		Users:         NewUserService(b),
		Notifications: NewNotificationService(b, mailer),
		Feedback:      NewFeedbackService(b),
		Requests:      NewRequestService(b),
		Reports:       NewReportService(b),
		Integrity:     NewIntegrityService(b),
	}
}

// write runs fn in one transaction and, after commit, updates the mirror and
// publishes whatever events fn queued.
func (b Backend) write(ctx context.Context, fn func(u *unitOfWork) error) error {
	var u *unitOfWork
	err := b.Store.Update(ctx, func(tx repository.Tx) error {
		u = &unitOfWork{tx: tx}
		return fn(u)
	})
	if err != nil {
		return err
	}

	b.Mirror.Apply(u.changes)

	for _, e := range u.events {
		if err := b.Events.Publish(ctx, e); err != nil {
			// The state change is committed; a lost event only costs a
			// notification.
			b.Logger.Warn("event publish failed",
				slog.String("topic", e.Topic),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// unitOfWork wraps a repository.Tx with typed accessors and records every
// write for the mirror.
type unitOfWork struct {
	tx      repository.Tx
	changes []mirror.Change
	events  []events.Event
}

func (u *unitOfWork) record(collection, id string, version int64, doc any) {
	u.changes = append(u.changes, mirror.Change{
		Collection: collection,
		ID:         id,
		Version:    version,
		Doc:        doc,
	})
}

func (u *unitOfWork) emit(e events.Event) {
	u.events = append(u.events, e)
}

func (u *unitOfWork) user(uid string) (*model.User, error) {
	var user model.User
	if _, err := u.tx.Get(repository.Users, uid, &user); err != nil {
		return nil, err
	}
	if user.BorrowBooksList == nil {
		user.BorrowBooksList = make(map[string]model.BorrowRecord)
	}
	return &user, nil
}

func (u *unitOfWork) putUser(user *model.User) error {
	v, err := u.tx.Put(repository.Users, user.UID, user)
	if err != nil {
		return fmt.Errorf("saving user %s: %w", user.UID, err)
	}
	u.record(repository.Users, user.UID, v, user.Clone())
	return nil
}

func (u *unitOfWork) book(id string) (*model.Book, error) {
	var book model.Book
	if _, err := u.tx.Get(repository.Books, id, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (u *unitOfWork) putBook(book *model.Book) error {
	v, err := u.tx.Put(repository.Books, book.ID, book)
	if err != nil {
		return fmt.Errorf("saving book %s: %w", book.ID, err)
	}
	u.record(repository.Books, book.ID, v, book.Clone())
	return nil
}

func (u *unitOfWork) deleteBook(id string) error {
	prev, err := u.tx.Delete(repository.Books, id)
	if err != nil {
		return err
	}
	u.recordDelete(repository.Books, id, prev)
	return nil
}

func (u *unitOfWork) copy(copyID int64) (*model.Copy, error) {
	var c model.Copy
	if _, err := u.tx.Get(repository.Copies, model.CopyKey(copyID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (u *unitOfWork) putCopy(c *model.Copy) error {
	key := model.CopyKey(c.CopyID)
	v, err := u.tx.Put(repository.Copies, key, c)
	if err != nil {
		return fmt.Errorf("saving copy %d: %w", c.CopyID, err)
	}
	u.record(repository.Copies, key, v, c.Clone())
	return nil
}

func (u *unitOfWork) deleteCopy(copyID int64) error {
	key := model.CopyKey(copyID)
	prev, err := u.tx.Delete(repository.Copies, key)
	if err != nil {
		return err
	}
	u.recordDelete(repository.Copies, key, prev)
	return nil
}

func (u *unitOfWork) putRequest(r *model.Request) error {
	v, err := u.tx.Put(repository.Requests, r.ID, r)
	if err != nil {
		return fmt.Errorf("saving request %s: %w", r.ID, err)
	}
	u.record(repository.Requests, r.ID, v, *r)
	return nil
}

func (u *unitOfWork) deleteRequest(id string) error {
	prev, err := u.tx.Delete(repository.Requests, id)
	if err != nil {
		return err
	}
	u.recordDelete(repository.Requests, id, prev)
	return nil
}

// recordDelete stamps the tombstone one version past the deleted document.
func (u *unitOfWork) recordDelete(collection, id string, prev int64) {
	u.changes = append(u.changes, mirror.Change{
		Collection: collection,
		ID:         id,
		Version:    repository.NextVersion(prev),
		Deleted:    true,
	})
}

// scanUsers decodes every user document inside the transaction.
func (u *unitOfWork) scanUsers(fn func(user *model.User) error) error {
	return u.tx.Scan(repository.Users, func(_ string, _ int64, decode repository.DecodeFunc) error {
		var user model.User
		if err := decode(&user); err != nil {
			return err
		}
		return fn(&user)
	})
}

// scanBooks decodes every book document inside the transaction.
func (u *unitOfWork) scanBooks(fn func(book *model.Book) error) error {
	return u.tx.Scan(repository.Books, func(_ string, _ int64, decode repository.DecodeFunc) error {
		var book model.Book
		if err := decode(&book); err != nil {
			return err
		}
		return fn(&book)
	})
}

// queuedElsewhere reports whether uid waits on a book other than exceptID
// that carries the same title.
func (u *unitOfWork) queuedElsewhere(exceptID, title, uid string) (bool, error) {
	found := false
	err := u.scanBooks(func(b *model.Book) error {
		if b.ID != exceptID && b.Title == title && b.WaitingIndex(uid) >= 0 {
			found = true
		}
		return nil
	})
	return found, err
}

func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
