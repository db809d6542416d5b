package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/model"
	"github.com/sakif/community-library/internal/validation"
)

// UserService manages member documents. Loan and notification state on a user
// is owned by LoanService and NotificationService; UpdateProfile never touches it.
type UserService struct {
	Backend
}

func NewUserService(b Backend) *UserService {
	return &UserService{Backend: b}
}

// SignUpInput is the profile recorded after the identity provider has
// authenticated the user.
type SignUpInput struct {
	UID         string `json:"uid"         validate:"required,max=128"`
	Email       string `json:"email"       validate:"omitempty,email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	FirstName   string `json:"firstName"   validate:"max=100"`
	LastName    string `json:"lastName"    validate:"max=100"`
	Phone       string `json:"phone"       validate:"max=32"`
	FamilySize  int    `json:"familySize"  validate:"min=0,max=50"`
}

// ProfilePatch updates the non-nil profile fields.
type ProfilePatch struct {
	Email       *string `json:"email"       validate:"omitempty,email"`
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
	FirstName   *string `json:"firstName"   validate:"omitempty,max=100"`
	LastName    *string `json:"lastName"    validate:"omitempty,max=100"`
	Phone       *string `json:"phone"       validate:"omitempty,max=32"`
	FamilySize  *int    `json:"familySize"  validate:"omitempty,min=0,max=50"`
}

// SignUp creates the user document. A uid can sign up once.
func (s *UserService) SignUp(ctx context.Context, in SignUpInput) (*model.User, error) {
	in.UID = strings.TrimSpace(in.UID)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := s.now()
	user := model.User{
		UID:             in.UID,
		Email:           in.Email,
		DisplayName:     in.DisplayName,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Phone:           in.Phone,
		FamilySize:      in.FamilySize,
		Notifications:   []model.Notification{},
		BorrowBooksList: map[string]model.BorrowRecord{},
		HistoryBooks:    []model.HistoryEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.write(ctx, func(u *unitOfWork) error {
		if _, err := u.user(in.UID); err == nil {
			return apperror.Conflict("user", in.UID)
		} else if !isNotFound(err) {
			return err
		}
		doc := user.Clone()
		return u.putUser(&doc)
	})
	if err != nil {
		return nil, fmt.Errorf("signing up %s: %w", in.UID, err)
	}

	s.Logger.Info("user signed up", slog.String("uid", in.UID))
	return &user, nil
}

// UpdateProfile applies patch to the user's profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, uid string, patch ProfilePatch) (*model.User, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}

	var out model.User
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		if patch.Email != nil {
			user.Email = strings.TrimSpace(*patch.Email)
		}
		if patch.DisplayName != nil {
			user.DisplayName = *patch.DisplayName
		}
		if patch.FirstName != nil {
			user.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			user.LastName = *patch.LastName
		}
		if patch.Phone != nil {
			user.Phone = *patch.Phone
		}
		if patch.FamilySize != nil {
			user.FamilySize = *patch.FamilySize
		}
		user.UpdatedAt = s.now()
		out = *user
		return u.putUser(user)
	})
	if err != nil {
		return nil, fmt.Errorf("updating profile of %s: %w", uid, err)
	}
	return &out, nil
}

// SetManager grants or revokes the manager role.
func (s *UserService) SetManager(ctx context.Context, uid string, manager bool) (*model.User, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}

	var out model.User
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		user.IsManager = manager
		user.UpdatedAt = s.now()
		out = *user
		return u.putUser(user)
	})
	if err != nil {
		return nil, fmt.Errorf("setting manager flag of %s: %w", uid, err)
	}

	s.Logger.Info("manager role changed", slog.String("uid", uid), slog.Bool("manager", manager))
	return &out, nil
}

// GetUser reads from the mirror.
func (s *UserService) GetUser(uid string) (*model.User, error) {
	u, ok := s.Mirror.Users.Get(uid)
	if !ok {
		return nil, apperror.NotFound("user", uid)
	}
	return &u, nil
}

func (s *UserService) ListUsers() []model.User {
	return s.Mirror.Users.All()
}
