package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names the error under test and the sentinel it should (or should
// not) match through errors.Is.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("book", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("title", "title is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("waiting list entry", "u1"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "ConflictMsg wraps ErrConflict",
			err:       ConflictMsg("copy 7 is already borrowed"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Internal wraps ErrInternal",
			err:       Internal("sending email", errors.New("dial tcp: refused")),
			target:    ErrInternal,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("book", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "wrapped with fmt.Errorf still matches",
			err:       fmt.Errorf("requesting loan: %w", Conflict("waiting list entry", "u1")),
			target:    ErrConflict,
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("smtp: 554 rejected")
	err := Internal("sending email", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(Internal, cause) = false, want true")
	}
	if got := err.Error(); got != "sending email: smtp: 554 rejected" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", NotFound("user", "u1"), CodeNotFound},
		{"validation", ValidationFailed("n", "bad"), CodeValidation},
		{"conflict", fmt.Errorf("x: %w", Conflict("rating", "u1")), CodeConflict},
		{"forbidden", Forbidden("managers only"), CodeForbidden},
		{"internal", Internal("boom", nil), CodeInternal},
		{"internal wrapping not found stays internal", Internal("boom", NotFound("user", "u1")), CodeInternal},
		{"untyped", errors.New("disk on fire"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(NotFound("book", "b1")); got != "book not found with id b1" {
		t.Errorf("PublicMessage(NotFound) = %q", got)
	}
	// Raw driver text must never leak.
	if got := PublicMessage(errors.New("sqlite: no such table documents")); got != "An internal error occurred" {
		t.Errorf("PublicMessage(untyped) = %q", got)
	}
	if got := PublicMessage(Internal("store unavailable", errors.New("dial"))); got != "An internal error occurred" {
		t.Errorf("PublicMessage(Internal) = %q", got)
	}
}
