package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/apperror"
)

func TestRateBook(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	f.signUp(t, "u1")
	f.signUp(t, "u2")
	book, _ := f.addBook(t, "Tehanu", 1)

	rated, err := f.Feedback.RateBook(ctx, book.ID, "u1", 4)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, rated.AverageRating, 1e-9)

	rated, err = f.Feedback.RateBook(ctx, book.ID, "u2", 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, rated.AverageRating, 1e-9)

	_, err = f.Feedback.RateBook(ctx, book.ID, "u1", 5)
	require.ErrorIs(t, err, apperror.ErrConflict)

	stored := f.storedBook(t, book.ID)
	assert.Len(t, stored.Ratings, 2)
	assert.InDelta(t, 2.5, stored.AverageRating, 1e-9)
}

func TestRateBookValidation(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	f.signUp(t, "u1")
	book, _ := f.addBook(t, "Tehanu", 1)

	for _, score := range []int{0, 6, -1} {
		_, err := f.Feedback.RateBook(ctx, book.ID, "u1", score)
		require.ErrorIs(t, err, apperror.ErrValidation, "score %d", score)
	}
	_, err := f.Feedback.RateBook(ctx, "nope", "u1", 3)
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReviewBook(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	f.signUp(t, "u1")
	book, _ := f.addBook(t, "Tehanu", 1)

	review, err := f.Feedback.ReviewBook(ctx, book.ID, "u1", "  Quiet and fierce.  ")
	require.NoError(t, err)
	assert.Equal(t, "Quiet and fierce.", review.Text)
	assert.Equal(t, "First-u1 Last", review.Name)
	assert.NotEmpty(t, review.ID)

	cached, _ := f.mirror.Books.Get(book.ID)
	require.Len(t, cached.Reviews, 1)

	_, err = f.Feedback.ReviewBook(ctx, book.ID, "u1", "")
	require.ErrorIs(t, err, apperror.ErrValidation)
}
