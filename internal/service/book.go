package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/model"
)

// Validation limits for catalog writes.
const (
	MaxTitleLength     = 300
	MaxCopiesPerCall   = 500
	MaxDescriptionSize = 5000
)

// BookService maintains books and their copies. It keeps three things in
// step on every write: Book.Copies, Book.CopiesID and the copies collection.
type BookService struct {
	Backend
}

func NewBookService(b Backend) *BookService {
	return &BookService{Backend: b}
}

// BookInput is the metadata of a new book.
type BookInput struct {
	Title       string
	Author      string
	Category    string
	Language    string
	Description string
	ImageURL    string
}

// BookPatch updates the non-nil fields.
type BookPatch struct {
	Title       *string
	Author      *string
	Category    *string
	Language    *string
	Description *string
	ImageURL    *string
}

func validateBookInput(in *BookInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Category = strings.TrimSpace(in.Category)
	in.Language = strings.TrimSpace(in.Language)

	if in.Title == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if len(in.Title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if in.Author == "" {
		return apperror.ValidationFailed("author", "author is required")
	}
	if len(in.Description) > MaxDescriptionSize {
		return apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionSize))
	}
	return nil
}

func validateCopyCount(n int, allowZero bool) error {
	if n < 0 || (!allowZero && n == 0) {
		return apperror.ValidationFailed("copies", "copies must be a positive number")
	}
	if n > MaxCopiesPerCall {
		return apperror.ValidationFailed("copies",
			fmt.Sprintf("at most %d copies can be added at once", MaxCopiesPerCall))
	}
	return nil
}

// AddBook creates a book with n available copies. Copy ids come from the
// counter inside the same transaction.
func (s *BookService) AddBook(ctx context.Context, in BookInput, n int) (*model.Book, []model.Copy, error) {
	if err := validateBookInput(&in); err != nil {
		return nil, nil, err
	}
	if err := validateCopyCount(n, true); err != nil {
		return nil, nil, err
	}

	now := s.now()
	book := model.Book{
		ID:          xid.New().String(),
		Title:       in.Title,
		Author:      in.Author,
		Category:    in.Category,
		Language:    in.Language,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		CopiesID:    []int64{},
		WaitingList: []model.WaitingEntry{},
		Ratings:     []model.Rating{},
		Reviews:     []model.Review{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var copies []model.Copy
	err := s.write(ctx, func(u *unitOfWork) error {
		b := book.Clone()
		created, err := s.createCopies(u, &b, n)
		if err != nil {
			return err
		}
		if err := u.putBook(&b); err != nil {
			return err
		}
		book, copies = b, created
		return nil
	})
	if err != nil {
		s.Logger.Error("failed to add book",
			slog.String("title", in.Title),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("adding book %q: %w", in.Title, err)
	}

	s.Logger.Info("book added",
		slog.String("id", book.ID),
		slog.String("title", book.Title),
		slog.Int("copies", book.Copies),
	)
	return &book, copies, nil
}

// createCopies allocates n ids, writes the Copy documents and appends the ids
// to book. The caller saves book.
func (s *BookService) createCopies(u *unitOfWork, book *model.Book, n int) ([]model.Copy, error) {
	if n == 0 {
		return []model.Copy{}, nil
	}
	ids, err := u.allocateCopyIDs(n)
	if err != nil {
		return nil, err
	}

	copies := make([]model.Copy, 0, n)
	for _, id := range ids {
		c := model.Copy{CopyID: id, BookID: book.ID, Title: book.Title}
		if err := u.putCopy(&c); err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	book.CopiesID = append(book.CopiesID, ids...)
	book.Copies = len(book.CopiesID)
	return copies, nil
}

// AddCopies adds n available copies to an existing book.
func (s *BookService) AddCopies(ctx context.Context, bookID string, n int) (*model.Book, []model.Copy, error) {
	if err := validateCopyCount(n, false); err != nil {
		return nil, nil, err
	}

	var (
		book   model.Book
		copies []model.Copy
	)
	err := s.write(ctx, func(u *unitOfWork) error {
		b, err := u.book(bookID)
		if err != nil {
			return err
		}
		created, err := s.createCopies(u, b, n)
		if err != nil {
			return err
		}
		b.UpdatedAt = s.now()
		if err := u.putBook(b); err != nil {
			return err
		}
		book, copies = *b, created
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("adding %d copies to book %s: %w", n, bookID, err)
	}

	s.Logger.Info("copies added", slog.String("book_id", bookID), slog.Int("count", n))
	return &book, copies, nil
}

// RemoveCopy deletes one copy of a book. A borrowed copy cannot be removed.
func (s *BookService) RemoveCopy(ctx context.Context, bookID string, copyID int64) (*model.Book, error) {
	var book model.Book
	err := s.write(ctx, func(u *unitOfWork) error {
		b, err := u.book(bookID)
		if err != nil {
			return err
		}
		if !b.HasCopy(copyID) {
			return apperror.NotFound("copy", model.CopyKey(copyID))
		}

		c, err := u.copy(copyID)
		switch {
		case err == nil:
			if !c.Available() {
				return apperror.ConflictMsg(fmt.Sprintf("copy %d is borrowed and cannot be removed", copyID))
			}
			if err := u.deleteCopy(copyID); err != nil {
				return err
			}
		case errors.Is(err, apperror.ErrNotFound):
			// Dangling id: only the book needs fixing.
		default:
			return err
		}

		b.RemoveCopyID(copyID)
		b.UpdatedAt = s.now()
		if err := u.putBook(b); err != nil {
			return err
		}
		book = *b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("removing copy %d from book %s: %w", copyID, bookID, err)
	}

	s.Logger.Info("copy removed", slog.String("book_id", bookID), slog.Int64("copy_id", copyID))
	return &book, nil
}

// UpdateBook applies patch. Renaming a book also renames everything that
// carries the title: its copies, users' borrow-record keys and the history
// entries for its copies, all in the same transaction.
func (s *BookService) UpdateBook(ctx context.Context, bookID string, patch BookPatch) (*model.Book, error) {
	var book model.Book
	err := s.write(ctx, func(u *unitOfWork) error {
		b, err := u.book(bookID)
		if err != nil {
			return err
		}

		in := BookInput{
			Title:       pick(patch.Title, b.Title),
			Author:      pick(patch.Author, b.Author),
			Category:    pick(patch.Category, b.Category),
			Language:    pick(patch.Language, b.Language),
			Description: pick(patch.Description, b.Description),
			ImageURL:    pick(patch.ImageURL, b.ImageURL),
		}
		if err := validateBookInput(&in); err != nil {
			return err
		}

		oldTitle := b.Title
		b.Title, b.Author, b.Category = in.Title, in.Author, in.Category
		b.Language, b.Description, b.ImageURL = in.Language, in.Description, in.ImageURL
		b.UpdatedAt = s.now()

		if b.Title != oldTitle {
			if err := s.checkTitleFree(u, b); err != nil {
				return err
			}
			if err := s.renameTitle(u, b, oldTitle); err != nil {
				return err
			}
		}
		if err := u.putBook(b); err != nil {
			return err
		}
		book = *b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating book %s: %w", bookID, err)
	}

	s.Logger.Info("book updated", slog.String("id", bookID), slog.String("title", book.Title))
	return &book, nil
}

func pick(v *string, current string) string {
	if v == nil {
		return current
	}
	return *v
}

// checkTitleFree rejects a rename onto the title of another book. Borrow
// records are keyed by title, so two books sharing one would share records.
func (s *BookService) checkTitleFree(u *unitOfWork, book *model.Book) error {
	want := normalizeTitle(book.Title)
	return u.scanBooks(func(other *model.Book) error {
		if other.ID != book.ID && normalizeTitle(other.Title) == want {
			return apperror.ConflictMsg(fmt.Sprintf("book %s already has the title %q", other.ID, other.Title))
		}
		return nil
	})
}

func (s *BookService) renameTitle(u *unitOfWork, book *model.Book, oldTitle string) error {
	for _, id := range book.CopiesID {
		c, err := u.copy(id)
		if errors.Is(err, apperror.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c.Title = book.Title
		if err := u.putCopy(c); err != nil {
			return err
		}
	}

	var changed []*model.User
	err := u.scanUsers(func(user *model.User) error {
		dirty := false
		if rec, ok := user.BorrowBooksList[oldTitle]; ok {
			if _, clash := user.BorrowBooksList[book.Title]; clash {
				return apperror.ConflictMsg(fmt.Sprintf(
					"user %s already has a borrow record for %q", user.UID, book.Title))
			}
			delete(user.BorrowBooksList, oldTitle)
			user.BorrowBooksList[book.Title] = rec
			dirty = true
		}
		for i, h := range user.HistoryBooks {
			if h.Title == oldTitle && book.HasCopy(h.CopyID) {
				user.HistoryBooks[i].Title = book.Title
				dirty = true
			}
		}
		if dirty {
			changed = append(changed, user)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, user := range changed {
		if err := u.putUser(user); err != nil {
			return err
		}
	}

	s.Logger.Info("book renamed",
		slog.String("id", book.ID),
		slog.String("from", oldTitle),
		slog.String("to", book.Title),
		slog.Int("users_updated", len(changed)),
	)
	return nil
}

// DeleteBook removes a book and all its copies. It refuses while any copy is
// on loan or any user still has a borrow record for the title.
func (s *BookService) DeleteBook(ctx context.Context, bookID string) error {
	err := s.write(ctx, func(u *unitOfWork) error {
		b, err := u.book(bookID)
		if err != nil {
			return err
		}

		var present []int64
		for _, id := range b.CopiesID {
			c, err := u.copy(id)
			if errors.Is(err, apperror.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !c.Available() {
				return apperror.ConflictMsg(fmt.Sprintf("copy %d of %q is on loan", id, b.Title))
			}
			present = append(present, id)
		}

		err = u.scanUsers(func(user *model.User) error {
			if _, ok := user.BorrowBooksList[b.Title]; ok {
				return apperror.ConflictMsg(fmt.Sprintf(
					"user %s still has a borrow record for %q", user.UID, b.Title))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range present {
			if err := u.deleteCopy(id); err != nil {
				return err
			}
		}
		return u.deleteBook(bookID)
	})
	if err != nil {
		return fmt.Errorf("deleting book %s: %w", bookID, err)
	}

	s.Logger.Info("book deleted", slog.String("id", bookID))
	return nil
}

// AllocateCopyIDs reserves n copy ids without creating copies.
func (s *BookService) AllocateCopyIDs(ctx context.Context, n int) ([]int64, error) {
	var ids []int64
	err := s.write(ctx, func(u *unitOfWork) error {
		var err error
		ids, err = u.allocateCopyIDs(n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("allocating %d copy ids: %w", n, err)
	}
	return ids, nil
}
