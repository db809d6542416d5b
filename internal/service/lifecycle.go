package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/events"
	"github.com/sakif/community-library/internal/metrics"
	"github.com/sakif/community-library/internal/model"
)

// LoanService moves a (user, title) pair through the borrow lifecycle:
//
//	NONE --request--> PENDING --accept--> ACCEPTED --return--> HISTORY
//	PENDING --cancel--> NONE
//
// The granular operations (AssignCopyToUser, MarkAccepted, ReturnCopy,
// RecordHistory, RemoveBorrowRecord) each commit one step. AcceptLoan and
// CompleteReturn commit a whole transition at once and are what the librarian
// UI should call; a failure in any sub-step leaves every document untouched.
type LoanService struct {
	Backend
}

func NewLoanService(b Backend) *LoanService {
	return &LoanService{Backend: b}
}

// Loan is the result of accepting a loan.
type Loan struct {
	UID    string             `json:"uid"`
	Title  string             `json:"title"`
	Copy   model.Copy         `json:"copy"`
	Record model.BorrowRecord `json:"record"`
}

func (s *LoanService) event(topic, uid string) events.Event {
	return events.Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		UID:        uid,
		OccurredAt: s.now(),
	}
}

func (s *LoanService) transitioned(name string, attrs ...slog.Attr) {
	metrics.LoanTransitions.WithLabelValues(name).Inc()
	s.Logger.LogAttrs(context.Background(), slog.LevelInfo, "loan "+name, attrs...)
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	return nil
}

func accept(rec *model.BorrowRecord, now time.Time) {
	start := now
	end := now.Add(model.LoanPeriod)
	rec.Status = model.StatusAccepted
	rec.StartDate = &start
	rec.EndDate = &end
}

// =========================================================================
// REQUEST / CANCEL
// =========================================================================

// RequestToBorrow queues uid on the book's waiting list and opens a pending
// borrow record for the title, both in one transaction.
func (s *LoanService) RequestToBorrow(ctx context.Context, bookID, uid string) (*model.BorrowRecord, error) {
	if err := requireID("bookId", bookID); err != nil {
		return nil, err
	}
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}

	var rec model.BorrowRecord
	err := s.write(ctx, func(u *unitOfWork) error {
		book, err := u.book(bookID)
		if err != nil {
			return err
		}
		user, err := u.user(uid)
		if err != nil {
			return err
		}

		if book.WaitingIndex(uid) >= 0 {
			return apperror.ConflictMsg(fmt.Sprintf("user %s is already on the waiting list for %q", uid, book.Title))
		}
		if _, ok := user.BorrowBooksList[book.Title]; ok {
			return apperror.ConflictMsg(fmt.Sprintf("user %s already has a borrow record for %q", uid, book.Title))
		}

		now := s.now()
		book.WaitingList = append(book.WaitingList, model.WaitingEntry{UID: uid, RequestedAt: now})
		rec = model.BorrowRecord{Status: model.StatusPending, RequestDate: now}
		user.BorrowBooksList[book.Title] = rec

		if err := u.putBook(book); err != nil {
			return err
		}
		if err := u.putUser(user); err != nil {
			return err
		}

		e := s.event(events.TopicWaitingJoined, uid)
		e.BookID, e.Title = book.ID, book.Title
		u.emit(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("requesting book %s for %s: %w", bookID, uid, err)
	}

	s.transitioned("request", slog.String("book_id", bookID), slog.String("uid", uid))
	return &rec, nil
}

// CancelWaiting takes uid off the book's waiting list and drops its pending
// borrow record. It fails with NotFound when there is nothing to cancel, the
// same strictness RequestToBorrow applies to duplicates. Records are keyed by
// title, so a pending record is only dropped without a queue entry on this
// book when no other book of the same title queues the uid.
//
// After a loan was accepted step by step (AssignCopyToUser + MarkAccepted)
// the user is still queued; CancelWaiting then removes only the queue entry
// and keeps the accepted record. With no queue entry left an accepted loan
// is a Conflict: it ends with a return, not a cancellation.
func (s *LoanService) CancelWaiting(ctx context.Context, bookID, uid string) error {
	if err := requireID("bookId", bookID); err != nil {
		return err
	}
	if err := requireID("uid", uid); err != nil {
		return err
	}

	err := s.write(ctx, func(u *unitOfWork) error {
		book, err := u.book(bookID)
		if err != nil {
			return err
		}
		// A waiting entry may outlive its user document; still let it go.
		user, err := u.user(uid)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		var rec model.BorrowRecord
		hasRecord := false
		if user != nil {
			rec, hasRecord = user.BorrowBooksList[book.Title]
		}
		accepted := hasRecord && rec.Status == model.StatusAccepted

		removed := book.RemoveWaiting(uid)
		if accepted && !removed {
			return apperror.ConflictMsg(fmt.Sprintf("loan of %q is already accepted; return the copy instead", book.Title))
		}
		if !removed && !hasRecord {
			return apperror.NotFound("waiting list entry", uid)
		}
		if !removed && !accepted {
			elsewhere, err := u.queuedElsewhere(book.ID, book.Title, uid)
			if err != nil {
				return err
			}
			if elsewhere {
				return apperror.NotFound("waiting list entry", uid)
			}
		}

		if removed {
			if err := u.putBook(book); err != nil {
				return err
			}
		}
		if hasRecord && !accepted {
			delete(user.BorrowBooksList, book.Title)
			if err := u.putUser(user); err != nil {
				return err
			}
		}

		e := s.event(events.TopicWaitingLeft, uid)
		e.BookID, e.Title = book.ID, book.Title
		u.emit(e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancelling request for book %s by %s: %w", bookID, uid, err)
	}

	s.transitioned("cancel", slog.String("book_id", bookID), slog.String("uid", uid))
	return nil
}

// =========================================================================
// GRANULAR STEPS
// =========================================================================

// AssignCopyToUser marks copyID as held by uid. A copy has at most one
// holder: assigning a borrowed copy is a Conflict, even to the same user.
// When title is non-empty it must match the copy's title.
func (s *LoanService) AssignCopyToUser(ctx context.Context, copyID int64, uid, title string) (*model.Copy, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}

	var out model.Copy
	err := s.write(ctx, func(u *unitOfWork) error {
		c, err := u.copy(copyID)
		if err != nil {
			return err
		}
		if title != "" && title != c.Title {
			return apperror.ValidationFailed("title",
				fmt.Sprintf("copy %d is a copy of %q, not %q", copyID, c.Title, title))
		}
		if !c.Available() {
			return apperror.ConflictMsg(fmt.Sprintf("copy %d is already borrowed", copyID))
		}

		user, err := u.user(uid)
		if err != nil {
			return err
		}

		c.BorrowedTo = user.Borrower()
		if err := u.putCopy(c); err != nil {
			return err
		}
		out = *c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assigning copy %d to %s: %w", copyID, uid, err)
	}

	s.transitioned("assign", slog.Int64("copy_id", copyID), slog.String("uid", uid))
	return &out, nil
}

// MarkAccepted moves the uid's pending record for title to accepted with a
// loan window of exactly model.LoanPeriod.
func (s *LoanService) MarkAccepted(ctx context.Context, uid, title string) (*model.BorrowRecord, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	if err := requireID("title", title); err != nil {
		return nil, err
	}

	var rec model.BorrowRecord
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		r, ok := user.BorrowBooksList[title]
		if !ok {
			return apperror.NotFound("borrow record", title)
		}
		if r.Status == model.StatusAccepted {
			return apperror.ConflictMsg(fmt.Sprintf("borrow record for %q is already accepted", title))
		}

		accept(&r, s.now())
		user.BorrowBooksList[title] = r
		rec = r
		return u.putUser(user)
	})
	if err != nil {
		return nil, fmt.Errorf("accepting %q for %s: %w", title, uid, err)
	}

	s.transitioned("accept", slog.String("uid", uid), slog.String("title", title))
	return &rec, nil
}

// UpdateBorrowStatus sets a record's status. Only the forward transition to
// accepted exists.
func (s *LoanService) UpdateBorrowStatus(ctx context.Context, uid, title, status string) (*model.BorrowRecord, error) {
	switch model.BorrowStatus(status) {
	case model.StatusAccepted:
		return s.MarkAccepted(ctx, uid, title)
	case model.StatusPending:
		return nil, apperror.ValidationFailed("status", "a borrow record cannot move back to pending")
	default:
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown borrow status %q", status))
	}
}

// ReturnCopy clears the copy's holder. Returning an available copy is a no-op.
func (s *LoanService) ReturnCopy(ctx context.Context, copyID int64) (*model.Copy, error) {
	var out model.Copy
	err := s.write(ctx, func(u *unitOfWork) error {
		c, err := u.copy(copyID)
		if err != nil {
			return err
		}
		if !c.Available() {
			c.BorrowedTo = nil
			if err := u.putCopy(c); err != nil {
				return err
			}
		}
		out = *c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("returning copy %d: %w", copyID, err)
	}

	s.transitioned("return", slog.Int64("copy_id", copyID))
	return &out, nil
}

// RecordHistory appends a completed loan to the user's history from the
// borrow record for title. The record itself stays until RemoveBorrowRecord.
func (s *LoanService) RecordHistory(ctx context.Context, uid string, copyID int64, title string) (*model.HistoryEntry, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	if err := requireID("title", title); err != nil {
		return nil, err
	}

	var entry model.HistoryEntry
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		rec, ok := user.BorrowBooksList[title]
		if !ok {
			return apperror.NotFound("borrow record", title)
		}

		entry = historyEntry(copyID, title, rec, s.now())
		user.HistoryBooks = append(user.HistoryBooks, entry)
		return u.putUser(user)
	})
	if err != nil {
		return nil, fmt.Errorf("recording history of %q for %s: %w", title, uid, err)
	}

	s.transitioned("history", slog.String("uid", uid), slog.Int64("copy_id", copyID))
	return &entry, nil
}

func historyEntry(copyID int64, title string, rec model.BorrowRecord, now time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		CopyID:      copyID,
		Title:       title,
		RequestDate: rec.RequestDate,
		StartDate:   rec.StartDate,
		ReturnDate:  now,
	}
}

// RemoveBorrowRecord deletes the uid's record for title.
func (s *LoanService) RemoveBorrowRecord(ctx context.Context, uid, title string) error {
	if err := requireID("uid", uid); err != nil {
		return err
	}
	if err := requireID("title", title); err != nil {
		return err
	}

	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		if _, ok := user.BorrowBooksList[title]; !ok {
			return apperror.NotFound("borrow record", title)
		}
		delete(user.BorrowBooksList, title)
		return u.putUser(user)
	})
	if err != nil {
		return fmt.Errorf("removing borrow record %q for %s: %w", title, uid, err)
	}

	s.transitioned("remove", slog.String("uid", uid), slog.String("title", title))
	return nil
}

// =========================================================================
// COMPOSITE TRANSITIONS
// =========================================================================

// AcceptLoan hands copyID of bookID to uid: the copy gets its holder, the
// pending record becomes accepted and uid leaves the waiting list. All three
// writes commit together or not at all.
func (s *LoanService) AcceptLoan(ctx context.Context, bookID string, copyID int64, uid string) (*Loan, error) {
	if err := requireID("bookId", bookID); err != nil {
		return nil, err
	}
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}

	var loan Loan
	err := s.write(ctx, func(u *unitOfWork) error {
		book, err := u.book(bookID)
		if err != nil {
			return err
		}
		c, err := u.copy(copyID)
		if err != nil {
			return err
		}
		if !book.HasCopy(copyID) {
			return apperror.ValidationFailed("copyID",
				fmt.Sprintf("copy %d does not belong to book %s", copyID, bookID))
		}
		if !c.Available() {
			return apperror.ConflictMsg(fmt.Sprintf("copy %d is already borrowed", copyID))
		}

		user, err := u.user(uid)
		if err != nil {
			return err
		}
		rec, ok := user.BorrowBooksList[book.Title]
		if !ok {
			return apperror.NotFound("borrow record", book.Title)
		}
		if rec.Status == model.StatusAccepted {
			return apperror.ConflictMsg(fmt.Sprintf("borrow record for %q is already accepted", book.Title))
		}

		c.BorrowedTo = user.Borrower()
		accept(&rec, s.now())
		user.BorrowBooksList[book.Title] = rec

		if err := u.putCopy(c); err != nil {
			return err
		}
		if err := u.putUser(user); err != nil {
			return err
		}
		if book.RemoveWaiting(uid) {
			if err := u.putBook(book); err != nil {
				return err
			}
		}

		loan = Loan{UID: uid, Title: book.Title, Copy: *c, Record: rec}

		e := s.event(events.TopicLoanAccepted, uid)
		e.BookID, e.Title, e.CopyID, e.DueDate = book.ID, book.Title, copyID, rec.EndDate
		u.emit(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accepting loan of copy %d to %s: %w", copyID, uid, err)
	}

	s.transitioned("accept_loan",
		slog.String("book_id", bookID),
		slog.Int64("copy_id", copyID),
		slog.String("uid", uid),
	)
	return &loan, nil
}

// CompleteReturn takes copyID back from its holder: the copy becomes
// available, the holder's record moves to history and is removed from the
// borrow list, in one transaction. A holder without a borrow record for the
// title is NotFound and nothing changes; ReturnCopy clears such a copy.
func (s *LoanService) CompleteReturn(ctx context.Context, copyID int64) (*model.HistoryEntry, error) {
	var (
		entry  model.HistoryEntry
		holder string
	)
	err := s.write(ctx, func(u *unitOfWork) error {
		c, err := u.copy(copyID)
		if err != nil {
			return err
		}
		if c.Available() {
			return apperror.ConflictMsg(fmt.Sprintf("copy %d is not on loan", copyID))
		}
		holder = c.BorrowedTo.UID

		c.BorrowedTo = nil
		if err := u.putCopy(c); err != nil {
			return err
		}

		user, err := u.user(holder)
		if err != nil {
			return err
		}
		rec, ok := user.BorrowBooksList[c.Title]
		if !ok {
			return apperror.NotFound("borrow record", c.Title)
		}
		entry = historyEntry(copyID, c.Title, rec, s.now())
		user.HistoryBooks = append(user.HistoryBooks, entry)
		delete(user.BorrowBooksList, c.Title)
		if err := u.putUser(user); err != nil {
			return err
		}

		e := s.event(events.TopicLoanReturned, holder)
		e.BookID, e.Title, e.CopyID = c.BookID, c.Title, copyID
		u.emit(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("completing return of copy %d: %w", copyID, err)
	}

	s.transitioned("complete_return", slog.Int64("copy_id", copyID), slog.String("uid", holder))
	return &entry, nil
}
