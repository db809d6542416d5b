package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/model"
)

const (
	MinScore        = 1
	MaxScore        = 5
	MaxReviewLength = 2000
)

// FeedbackService records ratings and reviews on books.
type FeedbackService struct {
	Backend
}

func NewFeedbackService(b Backend) *FeedbackService {
	return &FeedbackService{Backend: b}
}

// RateBook stores uid's score for the book and recomputes the average. A user
// rates a book once; a second rating is a Conflict.
func (s *FeedbackService) RateBook(ctx context.Context, bookID, uid string, score int) (*model.Book, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	if score < MinScore || score > MaxScore {
		return nil, apperror.ValidationFailed("score",
			fmt.Sprintf("score must be between %d and %d", MinScore, MaxScore))
	}

	var out model.Book
	err := s.write(ctx, func(u *unitOfWork) error {
		book, err := u.book(bookID)
		if err != nil {
			return err
		}
		if _, err := u.user(uid); err != nil {
			return err
		}
		for _, r := range book.Ratings {
			if r.UID == uid {
				return apperror.ConflictMsg(fmt.Sprintf("user %s has already rated %q", uid, book.Title))
			}
		}

		book.Ratings = append(book.Ratings, model.Rating{UID: uid, Score: score, CreatedAt: s.now()})
		book.RecomputeAverage()
		out = *book
		return u.putBook(book)
	})
	if err != nil {
		return nil, fmt.Errorf("rating book %s by %s: %w", bookID, uid, err)
	}

	s.Logger.Info("book rated",
		slog.String("book_id", bookID),
		slog.String("uid", uid),
		slog.Int("score", score),
		slog.Float64("average", out.AverageRating),
	)
	return &out, nil
}

// ReviewBook appends a review signed with the user's name.
func (s *FeedbackService) ReviewBook(ctx context.Context, bookID, uid, text string) (*model.Review, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("text", "review text is required")
	}
	if len(text) > MaxReviewLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("review must be %d characters or less", MaxReviewLength))
	}

	var review model.Review
	err := s.write(ctx, func(u *unitOfWork) error {
		book, err := u.book(bookID)
		if err != nil {
			return err
		}
		user, err := u.user(uid)
		if err != nil {
			return err
		}

		review = model.Review{
			ID:        uuid.NewString(),
			UID:       uid,
			Name:      user.FullName(),
			Text:      text,
			CreatedAt: s.now(),
		}
		book.Reviews = append(book.Reviews, review)
		return u.putBook(book)
	})
	if err != nil {
		return nil, fmt.Errorf("reviewing book %s by %s: %w", bookID, uid, err)
	}
	return &review, nil
}
